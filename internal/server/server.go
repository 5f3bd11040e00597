package server

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/nerrad567/offload-core/internal/accel"
	"github.com/nerrad567/offload-core/internal/cmdqueue"
	"github.com/nerrad567/offload-core/internal/device"
	"github.com/nerrad567/offload-core/internal/events"
	"github.com/nerrad567/offload-core/internal/message"
	"github.com/nerrad567/offload-core/internal/msgqueue"
	"github.com/nerrad567/offload-core/internal/scheduler"
	"github.com/nerrad567/offload-core/internal/shmem"
	"github.com/nerrad567/offload-core/internal/worker"
)

// State is the controller's lifecycle state.
type State string

// Lifecycle states.
const (
	StateInit     State = "init"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// defaultShutdownTimeout bounds the wait for device queues while draining.
const defaultShutdownTimeout = 10 * time.Second

// Logger defines the logging interface used by the server.
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

// Config holds dispatch core settings.
type Config struct {
	// NumWorkers is the worker count. 0 means one per CPU.
	NumWorkers int

	// PinWorkers restricts each worker thread to one CPU.
	PinWorkers bool

	// QueueCapacity bounds the message queue. 0 means unbounded.
	QueueCapacity int

	// SchedulerPolicy is a scheduler policy name.
	SchedulerPolicy string

	DeviceFilter    device.Filter
	QueueProperties accel.QueueProperties

	// SharedMemoryBytes is the size of the shared segment. 0 disables it.
	SharedMemoryBytes int64

	ShutdownTimeout time.Duration

	// CPUCount reports online CPUs. Defaults to runtime.NumCPU.
	CPUCount func() int

	// WorkerStartHook runs on each worker thread before its loop.
	WorkerStartHook worker.StartHook
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. It is passed on to the device
// registry, the worker pool and the zone pinning step.
func WithLogger(l Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithEvents sets the sink for lifecycle and dispatch events.
func WithEvents(sink events.Sink) Option {
	return func(s *Server) { s.sink = sink }
}

// Server owns devices, queues and workers for one process lifetime.
type Server struct {
	cfg      Config
	platform accel.Platform
	logger   Logger
	sink     events.Sink

	queue *msgqueue.Queue
	flag  worker.StopFlag

	stopOnce sync.Once
	stopCh   chan struct{}
	ready    chan struct{}
	done     chan struct{}
	runOnce  sync.Once

	mu         sync.RWMutex
	state      State
	stopReason string
	started    time.Time
	registry   *device.Registry
	actx       accel.Context
	queues     *cmdqueue.Set
	segment    *shmem.Segment
	pinned     []accel.Buffer
	pool       *worker.Pool
	workers    int
}

// New creates a server in the Init state. Producers may Enqueue right away;
// messages wait until workers start.
func New(cfg Config, platform accel.Platform, opts ...Option) *Server {
	if cfg.CPUCount == nil {
		cfg.CPUCount = runtime.NumCPU
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		cfg:      cfg,
		platform: platform,
		logger:   noopLogger{},
		sink:     events.Noop,
		queue:    msgqueue.New(cfg.QueueCapacity),
		stopCh:   make(chan struct{}),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateInit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts the server and blocks until it has fully stopped.
//
// It returns a startup error (wrapping device.ErrNoDeviceFound,
// device.ErrDeviceInit, worker.ErrWorkerCountInvalid or
// worker.ErrWorkerStartupFailed) if the server never reached Running, and
// nil after an orderly stop. Cancelling ctx requests a stop.
func (s *Server) Run(ctx context.Context) error {
	first := false
	s.runOnce.Do(func() { first = true })
	if !first {
		return ErrAlreadyRun
	}
	defer close(s.done)

	s.logger.Info("starting", "platform", s.platform.Name())
	s.sink.Emit(events.Lifecycle(string(StateInit)))

	unwatch := context.AfterFunc(ctx, func() { s.RequestStop("context cancelled") })
	defer unwatch()
	if ctx.Err() != nil {
		s.RequestStop("context cancelled")
	}

	// Startup steps run to completion even if ctx is cancelled; the stop is
	// observed through the flag once they return.
	if err := s.start(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("startup failed", "error", err)
		s.RequestStop("startup failed")
		s.drain()
		return err
	}

	if s.flag.IsSet() {
		s.drain()
		return nil
	}

	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()
	s.setState(StateRunning)
	close(s.ready)
	s.logger.Info("started", "workers", s.workers, "devices", s.registry.Count())

	<-s.stopCh

	s.drain()
	return nil
}

func (s *Server) start(ctx context.Context) error {
	n, err := worker.ResolveCount(s.cfg.NumWorkers, s.cfg.CPUCount)
	if err != nil {
		return err
	}

	reg, err := device.Enumerate(ctx, s.platform, s.cfg.DeviceFilter, s.logger)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.registry = reg
	s.mu.Unlock()

	actx, err := s.platform.CreateContext(ctx, reg.Infos())
	if err != nil {
		return fmt.Errorf("%w: creating context: %w", device.ErrDeviceInit, err)
	}
	s.mu.Lock()
	s.actx = actx
	s.mu.Unlock()

	queues, err := cmdqueue.CreateAll(actx, reg, s.cfg.QueueProperties)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.queues = queues
	s.mu.Unlock()

	if err := s.mapSharedMemory(reg, actx); err != nil {
		return err
	}

	policy, err := scheduler.New(s.cfg.SchedulerPolicy, reg.Count(), queues)
	if err != nil {
		return err
	}

	if s.flag.IsSet() {
		s.logger.Info("stop requested during startup; not spawning workers")
		return nil
	}

	pool := worker.NewPool(worker.Deps{
		Queue:      s.queue,
		Flag:       &s.flag,
		Registry:   reg,
		Queues:     queues,
		Policy:     policy,
		Events:     s.sink,
		Logger:     s.logger,
		PinThreads: s.cfg.PinWorkers,
		StartHook:  s.cfg.WorkerStartHook,
	})
	s.mu.Lock()
	s.pool = pool
	s.mu.Unlock()

	if err := pool.Start(ctx, n); err != nil {
		return err
	}
	s.mu.Lock()
	s.workers = n
	s.mu.Unlock()
	return nil
}

func (s *Server) mapSharedMemory(reg *device.Registry, actx accel.Context) error {
	if s.cfg.SharedMemoryBytes <= 0 {
		return nil
	}

	seg, err := shmem.Map(s.cfg.SharedMemoryBytes)
	if err != nil {
		return fmt.Errorf("%w: %w", device.ErrDeviceInit, err)
	}
	s.mu.Lock()
	s.segment = seg
	s.mu.Unlock()

	zones, err := seg.Zones(reg.ZoneLength())
	if err != nil {
		return fmt.Errorf("%w: %w", device.ErrDeviceInit, err)
	}
	bufs, err := shmem.PinAll(zones, actx.PinHostBuffer, s.logger)
	if err != nil {
		return fmt.Errorf("%w: %w", device.ErrDeviceInit, err)
	}
	s.mu.Lock()
	s.pinned = bufs
	s.mu.Unlock()
	return nil
}

// RequestStop asks the server to stop. Only the first call has an effect.
// It never blocks.
func (s *Server) RequestStop(reason string) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopReason = reason
		s.mu.Unlock()

		s.flag.Set()
		s.queue.RequestCancel()
		close(s.stopCh)
	})
}

// drain performs Draining→Stopped. Safe after a failed startup: only the
// resources actually acquired are released.
func (s *Server) drain() {
	s.setState(StateDraining)

	s.mu.RLock()
	reason := s.stopReason
	pool, queues, pinned, actx, seg := s.pool, s.queues, s.pinned, s.actx, s.segment
	s.mu.RUnlock()

	s.logger.Info("stopping", "reason", reason)

	if pool != nil {
		pool.Wait()
	}

	leftover := s.queue.CloseAndDrain()
	for _, m := range leftover {
		s.failBack(m)
	}
	if len(leftover) > 0 {
		s.logger.Info("failed back queued messages", "count", len(leftover))
	}

	if queues != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		if err := queues.Finish(ctx); err != nil {
			s.logger.Warn("device queues did not finish", "error", err)
		}
		cancel()
		if err := queues.Release(); err != nil {
			s.logger.Warn("releasing device queues", "error", err)
		}
	}
	if err := shmem.ReleaseAll(pinned); err != nil {
		s.logger.Warn("releasing pinned zones", "error", err)
	}
	if actx != nil {
		if err := actx.Release(); err != nil {
			s.logger.Warn("releasing device context", "error", err)
		}
	}
	if seg != nil {
		if err := seg.Unmap(); err != nil {
			s.logger.Warn("unmapping shared memory", "error", err)
		}
	}

	s.setState(StateStopped)
	s.logger.Info("stopped")
}

func (s *Server) failBack(m message.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in message fail callback", "id", m.ID(), "panic", r)
		}
	}()
	m.Fail(message.ErrShutdownInProgress)
	s.sink.Emit(events.Event{
		Kind:      events.KindFailedBack,
		Time:      time.Now(),
		MessageID: m.ID(),
		Worker:    events.NoWorker,
		Device:    -1,
		Error:     message.ErrShutdownInProgress.Error(),
	})
}

// Enqueue hands a message to the server. It fails with
// msgqueue.ErrQueueClosed once a stop has been requested, and with
// msgqueue.ErrQueueFull on a bounded queue at capacity. The caller keeps
// ownership of a rejected message.
func (s *Server) Enqueue(m message.Message) error {
	if err := s.queue.Enqueue(m); err != nil {
		s.sink.Emit(events.Event{
			Kind:      events.KindRejected,
			Time:      time.Now(),
			MessageID: m.ID(),
			Worker:    events.NoWorker,
			Device:    -1,
			Error:     err.Error(),
		})
		return err
	}
	return nil
}

func (s *Server) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.sink.Emit(events.Lifecycle(string(st)))
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready is closed when the server reaches Running. It is never closed if
// startup fails or a stop arrives first.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Done is closed when Run returns.
func (s *Server) Done() <-chan struct{} { return s.done }

// Devices returns the registered devices, or nil before enumeration.
func (s *Server) Devices() []device.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.registry == nil {
		return nil
	}
	return s.registry.Devices()
}
