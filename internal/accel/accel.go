package accel

import (
	"context"
	"time"
)

// Kind classifies a compute device.
type Kind string

// Device kinds recognised by the registry filter.
const (
	KindCPU         Kind = "cpu"
	KindGPU         Kind = "gpu"
	KindAccelerator Kind = "accelerator"
)

// ValidKinds lists every recognised device kind.
var ValidKinds = []Kind{KindCPU, KindGPU, KindAccelerator}

// IsValidKind reports whether k is a recognised device kind.
func IsValidKind(k Kind) bool {
	for _, v := range ValidKinds {
		if v == k {
			return true
		}
	}
	return false
}

// DeviceInfo describes one device as reported by the driver.
type DeviceInfo struct {
	ID             string
	Name           string
	Vendor         string
	Kind           Kind
	ComputeUnits   int
	GlobalMemBytes int64
	MaxAllocBytes  int64
}

// QueueProperties are the creation flags for a device command queue.
type QueueProperties struct {
	// OutOfOrder allows the driver to run submitted work concurrently.
	OutOfOrder bool

	// Profiling asks the driver to timestamp each event.
	Profiling bool
}

// Work is a unit of device work.
type Work func() error

// Profile holds event timestamps. Zero values mean profiling was off.
type Profile struct {
	Queued time.Time
	Start  time.Time
	End    time.Time
}

// Platform enumerates devices and builds contexts over them.
type Platform interface {
	Name() string
	Devices(ctx context.Context) ([]DeviceInfo, error)
	CreateContext(ctx context.Context, devices []DeviceInfo) (Context, error)
}

// Context owns driver resources shared by a set of devices.
type Context interface {
	CreateQueue(device DeviceInfo, props QueueProperties) (Queue, error)

	// PinHostBuffer registers a host memory region with the driver so that
	// device work can use it without copying.
	PinHostBuffer(region []byte) (Buffer, error)

	Release() error
}

// Queue is a device command queue.
type Queue interface {
	Enqueue(work Work) (Event, error)

	// Finish blocks until every enqueued item has completed.
	Finish(ctx context.Context) error

	Release() error
}

// Event tracks completion of one enqueued Work.
type Event interface {
	Done() <-chan struct{}
	Wait(ctx context.Context) error
	Err() error
	Profile() Profile
}

// Buffer is a pinned host region.
type Buffer interface {
	Len() int
	Release() error
}
