package message

import (
	"context"

	"github.com/nerrad567/offload-core/internal/accel"
	"github.com/nerrad567/offload-core/internal/device"
)

// Message is a request handled by the dispatch core.
type Message interface {
	// ID identifies the message in logs and events.
	ID() string

	// Process handles the message on the given device target.
	Process(ctx context.Context, target Target) error

	// Fail reports that the message will not be processed successfully.
	Fail(err error)
}

// Hinted is implemented by messages that arrive with a device already
// chosen. The scheduler is bypassed when the hint is present.
type Hinted interface {
	DeviceHint() (index int, ok bool)
}

// Submitter enqueues work on a device queue by registry index.
type Submitter interface {
	Submit(index int, work accel.Work) (accel.Event, error)
}

// Target is the device and worker a message was dispatched to.
type Target struct {
	Worker int
	Device device.Descriptor

	queues Submitter
}

// NewTarget binds a device descriptor to the queues that serve it.
func NewTarget(worker int, dev device.Descriptor, queues Submitter) Target {
	return Target{Worker: worker, Device: dev, queues: queues}
}

// Submit enqueues work on the target device's command queue.
func (t Target) Submit(work accel.Work) (accel.Event, error) {
	return t.queues.Submit(t.Device.Index, work)
}
