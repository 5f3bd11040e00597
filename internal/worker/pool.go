package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/offload-core/internal/device"
	"github.com/nerrad567/offload-core/internal/events"
	"github.com/nerrad567/offload-core/internal/message"
	"github.com/nerrad567/offload-core/internal/scheduler"
)

// Logger defines the logging interface used by the pool.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Queue is the part of the server message queue the pool uses.
type Queue interface {
	DequeueBlocking() (message.Message, bool)
	RequestCancel() bool
}

// StartHook runs on a worker's own OS thread before its loop begins.
// A non-nil error means the worker failed to start.
type StartHook func(id int) error

// Deps are the collaborators a Pool dispatches through.
type Deps struct {
	Queue    Queue
	Flag     *StopFlag
	Registry *device.Registry
	Queues   message.Submitter
	Policy   scheduler.Policy
	Events   events.Sink
	Logger   Logger

	// PinThreads restricts each worker's thread to one CPU.
	PinThreads bool

	// StartHook, if set, runs after thread setup. Used to inject startup
	// failures.
	StartHook StartHook
}

// Stats is a snapshot of one worker's counters.
type Stats struct {
	ID        int    `json:"id"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Busy      bool   `json:"busy"`
}

type worker struct {
	id        int
	done      chan struct{}
	processed atomic.Uint64
	failed    atomic.Uint64
	busy      atomic.Bool
}

// Pool is a fixed set of dispatch workers.
type Pool struct {
	deps Deps

	// gate holds started workers until every worker is up.
	gate chan struct{}

	mu      sync.Mutex
	workers []*worker // started successfully
	spawned []*worker // every goroutine launched, including a failed one
	started bool
}

// NewPool creates a pool. Events and Logger default to no-ops.
func NewPool(deps Deps) *Pool {
	if deps.Events == nil {
		deps.Events = events.Noop
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	return &Pool{deps: deps, gate: make(chan struct{})}
}

// Start launches n workers one after another. No worker dequeues until all
// n have started.
//
// ctx is passed to every Process call; cancelling it does not stop the
// workers. If any worker fails to start, Start stops and joins the ones
// already running and returns an error wrapping ErrWorkerStartupFailed.
// In that case no message has been dequeued.
func (p *Pool) Start(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("starting %d workers: %w", n, ErrWorkerCountInvalid)
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.mu.Unlock()

	for id := range n {
		w := &worker{id: id, done: make(chan struct{})}
		ready := make(chan error, 1)
		p.mu.Lock()
		p.spawned = append(p.spawned, w)
		p.mu.Unlock()
		go p.run(ctx, w, ready)

		if err := <-ready; err != nil {
			p.deps.Logger.Error("worker failed to start", "worker", id, "of", n, "error", err)
			p.abort()
			return fmt.Errorf("%w: worker %d of %d: %w", ErrWorkerStartupFailed, id, n, err)
		}

		p.mu.Lock()
		p.workers = append(p.workers, w)
		p.mu.Unlock()
	}
	close(p.gate)
	return nil
}

// abort stops the workers started so far and joins them together with the
// one that failed.
func (p *Pool) abort() {
	p.deps.Flag.Set()
	p.deps.Queue.RequestCancel()
	close(p.gate)
	p.Wait()
}

// Wait blocks until every spawned worker goroutine has returned, joining
// them in reverse spawn order.
func (p *Pool) Wait() {
	p.mu.Lock()
	workers := append([]*worker(nil), p.spawned...)
	p.mu.Unlock()

	for i := len(workers) - 1; i >= 0; i-- {
		<-workers[i].done
	}
}

// Size returns the number of workers that started.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Stats returns counters for each started worker.
func (p *Pool) Stats() []Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Stats, len(p.workers))
	for i, w := range p.workers {
		out[i] = Stats{
			ID:        w.id,
			Processed: w.processed.Load(),
			Failed:    w.failed.Load(),
			Busy:      w.busy.Load(),
		}
	}
	return out
}

func (p *Pool) run(ctx context.Context, w *worker, ready chan<- error) {
	defer close(w.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := p.setup(w.id); err != nil {
		ready <- err
		return
	}
	ready <- nil
	<-p.gate

	p.deps.Logger.Debug("worker started", "worker", w.id)
	for !p.deps.Flag.IsSet() {
		msg, ok := p.deps.Queue.DequeueBlocking()
		if !ok {
			continue
		}
		p.dispatch(ctx, w, msg)
	}
	p.deps.Logger.Debug("worker exiting", "worker", w.id,
		"processed", w.processed.Load(), "failed", w.failed.Load())
}

func (p *Pool) setup(id int) error {
	if p.deps.PinThreads {
		if err := pinToCPU(id); err != nil {
			return err
		}
	}
	if p.deps.StartHook != nil {
		return p.deps.StartHook(id)
	}
	return nil
}

func (p *Pool) dispatch(ctx context.Context, w *worker, msg message.Message) {
	w.busy.Store(true)
	defer w.busy.Store(false)

	start := time.Now()
	idx := -1
	resolved, err := scheduler.Resolve(p.deps.Policy, p.deps.Registry.Count(), msg)
	if err == nil {
		idx = resolved
		target := message.NewTarget(w.id, p.deps.Registry.Device(idx), p.deps.Queues)
		err = process(ctx, msg, target)
	}

	if err != nil {
		w.failed.Add(1)
		p.deps.Logger.Debug("message failed", "id", msg.ID(), "worker", w.id, "device", idx, "error", err)
		p.fail(msg, err)
	} else {
		w.processed.Add(1)
	}

	p.deps.Events.Emit(events.Event{
		Kind:      events.KindDispatched,
		Time:      time.Now(),
		MessageID: msg.ID(),
		Worker:    w.id,
		Device:    idx,
		Duration:  time.Since(start),
		Error:     events.ErrString(err),
	})
}

func process(ctx context.Context, msg message.Message, target message.Target) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", message.ErrProcessPanic, r)
		}
	}()
	return msg.Process(ctx, target)
}

func (p *Pool) fail(msg message.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.deps.Logger.Error("panic in message fail callback", "id", msg.ID(), "panic", r)
		}
	}()
	msg.Fail(err)
}
