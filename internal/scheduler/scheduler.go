package scheduler

import (
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/offload-core/internal/message"
)

// Policy names accepted by New.
const (
	PolicyRoundRobin  = "round_robin"
	PolicyLeastLoaded = "least_loaded"
)

// Policy selects a device index in [0, n) for a message.
type Policy interface {
	Select(msg message.Message) int
}

// LoadReporter reports outstanding work per device, indexed like the registry.
type LoadReporter interface {
	Outstanding() []int64
}

// New builds the named policy over n devices.
// load is only consulted by PolicyLeastLoaded.
func New(name string, n int, load LoadReporter) (Policy, error) {
	switch name {
	case "", PolicyRoundRobin:
		return NewRoundRobin(n)
	case PolicyLeastLoaded:
		return NewLeastLoaded(n, load)
	default:
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownPolicy)
	}
}

// Resolve returns the device for msg: its hint if it carries one, otherwise
// the policy's choice.
func Resolve(p Policy, n int, msg message.Message) (int, error) {
	if h, ok := msg.(message.Hinted); ok {
		if idx, ok := h.DeviceHint(); ok {
			if idx < 0 || idx >= n {
				return 0, fmt.Errorf("hint %d of %d devices: %w", idx, n, ErrInvalidDeviceHint)
			}
			return idx, nil
		}
	}
	return p.Select(msg), nil
}

// RoundRobin cycles through devices with a shared atomic counter.
type RoundRobin struct {
	n       uint64
	counter atomic.Uint64
}

// NewRoundRobin creates a round-robin policy over n devices.
func NewRoundRobin(n int) (*RoundRobin, error) {
	if n <= 0 {
		return nil, ErrNoDevices
	}
	return &RoundRobin{n: uint64(n)}, nil
}

// Select implements Policy. The first call returns 0.
func (r *RoundRobin) Select(message.Message) int {
	return int((r.counter.Add(1) - 1) % r.n)
}

// LeastLoaded picks the device with the fewest outstanding submissions.
// Ties go to the first device at or after a rotating cursor, so an idle
// system still spreads work evenly.
type LeastLoaded struct {
	n      int
	load   LoadReporter
	cursor atomic.Uint64
}

// NewLeastLoaded creates a least-loaded policy over n devices.
func NewLeastLoaded(n int, load LoadReporter) (*LeastLoaded, error) {
	if n <= 0 {
		return nil, ErrNoDevices
	}
	if load == nil {
		return nil, fmt.Errorf("least_loaded needs a load reporter: %w", ErrUnknownPolicy)
	}
	return &LeastLoaded{n: n, load: load}, nil
}

// Select implements Policy.
func (l *LeastLoaded) Select(message.Message) int {
	start := int((l.cursor.Add(1) - 1) % uint64(l.n))
	outstanding := l.load.Outstanding()
	if len(outstanding) != l.n {
		return start
	}

	best := start
	for off := 1; off < l.n; off++ {
		i := (start + off) % l.n
		if outstanding[i] < outstanding[best] {
			best = i
		}
	}
	return best
}
