package hostsim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/offload-core/internal/accel"
)

// Queue is a simulated command queue backed by executor goroutines.
type Queue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	items     []*event
	inflight  int
	idle      chan struct{}
	released  bool
	profiling bool
	wg        sync.WaitGroup
}

func newQueue(executors int, profiling bool) *Queue {
	q := &Queue{
		idle:      make(chan struct{}),
		profiling: profiling,
	}
	q.cond = sync.NewCond(&q.mu)
	close(q.idle)

	q.wg.Add(executors)
	for range executors {
		go q.execute()
	}
	return q
}

// Enqueue implements accel.Queue.
func (q *Queue) Enqueue(work accel.Work) (accel.Event, error) {
	ev := &event{work: work, done: make(chan struct{})}
	if q.profiling {
		ev.profile.Queued = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.released {
		return nil, accel.ErrReleased
	}
	if q.inflight == 0 {
		q.idle = make(chan struct{})
	}
	q.inflight++
	q.items = append(q.items, ev)
	q.cond.Signal()
	return ev, nil
}

// Finish implements accel.Queue.
func (q *Queue) Finish(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release implements accel.Queue. Work already enqueued still runs.
func (q *Queue) Release() error {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return nil
	}
	q.released = true
	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

func (q *Queue) execute() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.released {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		ev := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		ev.run(q.profiling)

		q.mu.Lock()
		q.inflight--
		if q.inflight == 0 {
			close(q.idle)
		}
		q.mu.Unlock()
	}
}

type event struct {
	work    accel.Work
	done    chan struct{}
	err     error
	profile accel.Profile
}

func (e *event) run(profiling bool) {
	if profiling {
		e.profile.Start = time.Now()
	}
	defer func() {
		if r := recover(); r != nil {
			e.err = fmt.Errorf("device work panicked: %v", r)
		}
		if profiling {
			e.profile.End = time.Now()
		}
		close(e.done)
	}()
	e.err = e.work()
}

func (e *event) Done() <-chan struct{} { return e.done }

func (e *event) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the work's error once Done is closed, nil before.
func (e *event) Err() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

func (e *event) Profile() accel.Profile {
	select {
	case <-e.done:
		return e.profile
	default:
		return accel.Profile{Queued: e.profile.Queued}
	}
}
