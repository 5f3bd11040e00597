package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/offload-core/internal/message"
)

// Result statuses.
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"

	// StatusRejected is reported by producers when the server refuses a job
	// at enqueue time. A Job never delivers it.
	StatusRejected = "rejected"
)

// Result is the reply a Job delivers.
type Result struct {
	ID       string        `json:"id"`
	Kernel   string        `json:"kernel"`
	Status   string        `json:"status"`
	Device   int           `json:"device"`
	Worker   int           `json:"worker"`
	Output   []byte        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Queued   time.Duration `json:"queued_ns"`
	Run      time.Duration `json:"run_ns"`
	Received time.Time     `json:"received"`
}

// ReplyFunc receives a Job's result. It is called exactly once.
type ReplyFunc func(Result)

// Job runs a named kernel on the device its worker selects.
type Job struct {
	id       string
	name     string
	kernel   Func
	payload  []byte
	hint     int
	hasHint  bool
	reply    ReplyFunc
	received time.Time
	once     sync.Once
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithDevice pins the job to a device index, bypassing the scheduler.
func WithDevice(index int) JobOption {
	return func(j *Job) {
		j.hint = index
		j.hasHint = true
	}
}

// NewJob builds a job for the named kernel.
func NewJob(id, kernelName string, payload []byte, reply ReplyFunc, opts ...JobOption) (*Job, error) {
	k, err := Lookup(kernelName)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%d bytes: %w", len(payload), ErrPayloadTooLarge)
	}
	if reply == nil {
		reply = func(Result) {}
	}
	j := &Job{
		id:       id,
		name:     kernelName,
		kernel:   k,
		payload:  payload,
		reply:    reply,
		received: time.Now(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// ID implements message.Message.
func (j *Job) ID() string { return j.id }

// DeviceHint implements message.Hinted.
func (j *Job) DeviceHint() (int, bool) { return j.hint, j.hasHint }

// Process implements message.Message. It submits the kernel to the target
// device queue and waits for it to complete.
func (j *Job) Process(ctx context.Context, target message.Target) error {
	var out []byte
	ev, err := target.Submit(func() error {
		var kerr error
		out, kerr = j.kernel(j.payload)
		return kerr
	})
	if err != nil {
		return err
	}
	if err := ev.Wait(ctx); err != nil {
		return fmt.Errorf("kernel %s on device %d: %w", j.name, target.Device.Index, err)
	}

	res := j.result(StatusOK, target.Device.Index, target.Worker)
	res.Output = out
	if p := ev.Profile(); !p.Start.IsZero() {
		res.Queued = p.Start.Sub(p.Queued)
		res.Run = p.End.Sub(p.Start)
	}
	j.deliver(res)
	return nil
}

// Fail implements message.Message.
func (j *Job) Fail(err error) {
	status := StatusFailed
	if errors.Is(err, message.ErrShutdownInProgress) {
		status = StatusCancelled
	}
	res := j.result(status, -1, -1)
	res.Error = err.Error()
	j.deliver(res)
}

func (j *Job) result(status string, dev, worker int) Result {
	return Result{
		ID:       j.id,
		Kernel:   j.name,
		Status:   status,
		Device:   dev,
		Worker:   worker,
		Received: j.received,
	}
}

func (j *Job) deliver(res Result) {
	j.once.Do(func() { j.reply(res) })
}
