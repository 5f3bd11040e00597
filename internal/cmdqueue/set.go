package cmdqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/offload-core/internal/accel"
	"github.com/nerrad567/offload-core/internal/device"
)

// Stats is a snapshot of one device queue's counters.
type Stats struct {
	Device      int    `json:"device"`
	Name        string `json:"name"`
	Submitted   uint64 `json:"submitted"`
	Failed      uint64 `json:"failed"`
	Outstanding int64  `json:"outstanding"`
}

type entry struct {
	mu     sync.Mutex // serialises Enqueue on this queue
	queue  accel.Queue
	device device.Descriptor

	submitted   atomic.Uint64
	failed      atomic.Uint64
	outstanding atomic.Int64
}

// Set holds exactly one queue per registry device, indexed like the registry.
type Set struct {
	entries  []*entry
	released atomic.Bool
}

// CreateAll creates one queue per device in reg on actx.
//
// On any failure the queues already created are released and the error
// wraps device.ErrDeviceInit.
func CreateAll(actx accel.Context, reg *device.Registry, props accel.QueueProperties) (*Set, error) {
	s := &Set{entries: make([]*entry, 0, reg.Count())}
	for _, d := range reg.Devices() {
		q, err := actx.CreateQueue(d.DeviceInfo, props)
		if err != nil {
			_ = s.Release() //nolint:errcheck // best effort on failed startup
			return nil, fmt.Errorf("%w: creating queue for device %d (%s): %w", device.ErrDeviceInit, d.Index, d.Name, err)
		}
		s.entries = append(s.entries, &entry{queue: q, device: d})
	}
	return s, nil
}

// Len returns the number of queues.
func (s *Set) Len() int { return len(s.entries) }

// Submit enqueues work on the queue for device index.
// It never blocks on the work itself; completion is reported by the event.
func (s *Set) Submit(index int, work accel.Work) (accel.Event, error) {
	if s.released.Load() {
		return nil, ErrReleased
	}
	if index < 0 || index >= len(s.entries) {
		return nil, fmt.Errorf("device %d: %w", index, ErrNoQueue)
	}
	e := s.entries[index]

	e.outstanding.Add(1)
	e.mu.Lock()
	ev, err := e.queue.Enqueue(func() error {
		defer e.outstanding.Add(-1)
		return work()
	})
	e.mu.Unlock()

	if err != nil {
		e.outstanding.Add(-1)
		e.failed.Add(1)
		return nil, fmt.Errorf("submitting to device %d: %w", index, err)
	}
	e.submitted.Add(1)
	return ev, nil
}

// Outstanding returns the number of submitted but unfinished items for each
// device, indexed like the registry.
func (s *Set) Outstanding() []int64 {
	out := make([]int64, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.outstanding.Load()
	}
	return out
}

// Stats returns counters for every queue.
func (s *Set) Stats() []Stats {
	out := make([]Stats, len(s.entries))
	for i, e := range s.entries {
		out[i] = Stats{
			Device:      i,
			Name:        e.device.Name,
			Submitted:   e.submitted.Load(),
			Failed:      e.failed.Load(),
			Outstanding: e.outstanding.Load(),
		}
	}
	return out
}

// Finish waits for every queue to complete its outstanding work.
func (s *Set) Finish(ctx context.Context) error {
	var errs []error
	for i, e := range s.entries {
		if err := e.queue.Finish(ctx); err != nil {
			errs = append(errs, fmt.Errorf("finishing device %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Release releases every queue. Safe to call more than once.
func (s *Set) Release() error {
	if s.released.Swap(true) {
		return nil
	}
	var errs []error
	for i, e := range s.entries {
		if err := e.queue.Release(); err != nil {
			errs = append(errs, fmt.Errorf("releasing device %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
