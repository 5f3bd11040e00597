package msgqueue

import (
	"sync"

	"github.com/nerrad567/offload-core/internal/message"
)

// State is the queue's lifecycle state.
type State int

// Queue states. Transitions only move forward.
const (
	StateOpen State = iota
	StateCancelling
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCancelling:
		return "cancelling"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of queue counters.
type Stats struct {
	State     string `json:"state"`
	Depth     int    `json:"depth"`
	PeakDepth int    `json:"peak_depth"`
	Capacity  int    `json:"capacity"`
	Enqueued  uint64 `json:"enqueued"`
	Dequeued  uint64 `json:"dequeued"`
	Rejected  uint64 `json:"rejected"`
	Drained   uint64 `json:"drained"`
	Waiting   int    `json:"waiting"`
}

// Queue is a blocking, cancellable FIFO of messages.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []message.Message
	state    State
	capacity int

	waiting  int
	peak     int
	enqueued uint64
	dequeued uint64
	rejected uint64
	drained  uint64
}

// New creates an open queue. A capacity of zero or less means unbounded.
func New(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	q := &Queue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends msg and wakes one blocked dequeuer. It never blocks.
func (q *Queue) Enqueue(msg message.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateOpen {
		q.rejected++
		return ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.rejected++
		return ErrQueueFull
	}

	q.items = append(q.items, msg)
	q.enqueued++
	if len(q.items) > q.peak {
		q.peak = len(q.items)
	}
	q.cond.Signal()
	return nil
}

// DequeueBlocking removes and returns the oldest message, blocking while the
// queue is open and empty. It returns (nil, false) once the queue is no
// longer open; messages still queued at that point are left for
// CloseAndDrain.
func (q *Queue) DequeueBlocking() (message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.state == StateOpen && len(q.items) == 0 {
		q.waiting++
		q.cond.Wait()
		q.waiting--
	}
	if q.state != StateOpen {
		return nil, false
	}

	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.dequeued++
	return msg, true
}

// RequestCancel moves an open queue to Cancelling and wakes every blocked
// dequeuer. Later calls have no effect. It reports whether this call made
// the transition.
func (q *Queue) RequestCancel() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != StateOpen {
		return false
	}
	q.state = StateCancelling
	q.cond.Broadcast()
	return true
}

// CloseAndDrain closes the queue and returns every message still queued, in
// enqueue order. Callers must only invoke it after every dequeuer has
// stopped. A second call returns nil.
func (q *Queue) CloseAndDrain() []message.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == StateClosed {
		return nil
	}
	q.state = StateClosed
	q.cond.Broadcast()

	out := q.items
	q.items = nil
	q.drained += uint64(len(out))
	return out
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// State returns the current state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Waiting returns the number of callers blocked in DequeueBlocking.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiting
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		State:     q.state.String(),
		Depth:     len(q.items),
		PeakDepth: q.peak,
		Capacity:  q.capacity,
		Enqueued:  q.enqueued,
		Dequeued:  q.dequeued,
		Rejected:  q.rejected,
		Drained:   q.drained,
		Waiting:   q.waiting,
	}
}
