package intake

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/offload-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/offload-core/internal/kernel"
)

// Request is a job submission.
type Request struct {
	// ID names the job. Generated when empty.
	ID string `json:"id,omitempty"`

	Kernel string `json:"kernel"`

	// Payload is base64 in JSON.
	Payload []byte `json:"payload"`

	// Device pins the job to a device index.
	Device *int `json:"device,omitempty"`
}

// ParseRequest decodes a JSON submission and assigns an ID if it has none.
func ParseRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := req.normalise(); err != nil {
		return Request{}, err
	}
	return req, nil
}

func (r *Request) normalise() error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	// IDs become a result topic level.
	if !mqtt.ValidLevel(r.ID) {
		return fmt.Errorf("%w: id %q", ErrInvalidRequest, r.ID)
	}
	if r.Kernel == "" {
		return fmt.Errorf("%w: kernel is required", ErrInvalidRequest)
	}
	return nil
}

// Job builds the kernel job for the request. reply receives its result.
func (r Request) Job(reply kernel.ReplyFunc) (*kernel.Job, error) {
	if err := r.normalise(); err != nil {
		return nil, err
	}
	var opts []kernel.JobOption
	if r.Device != nil {
		opts = append(opts, kernel.WithDevice(*r.Device))
	}
	return kernel.NewJob(r.ID, r.Kernel, r.Payload, reply, opts...)
}

// Rejected builds the result reported for a request the server refused or
// that never became a job.
func (r Request) Rejected(err error) kernel.Result {
	return kernel.Result{
		ID:       r.ID,
		Kernel:   r.Kernel,
		Status:   kernel.StatusRejected,
		Device:   -1,
		Worker:   -1,
		Error:    err.Error(),
		Received: time.Now(),
	}
}
