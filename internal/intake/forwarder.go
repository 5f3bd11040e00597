package intake

import (
	"sync"
	"sync/atomic"

	"github.com/nerrad567/offload-core/internal/events"
)

const defaultForwarderBuffer = 1024

// Forwarder publishes events to {prefix}/events/{kind}. It implements
// events.Sink; events that arrive while the buffer is full are dropped.
type Forwarder struct {
	broker Broker
	logger Logger
	ch     chan events.Event

	mu      sync.Mutex
	closed  bool
	started bool
	done    chan struct{}

	dropped atomic.Uint64
}

// NewForwarder creates a forwarder with room for size pending events.
func NewForwarder(broker Broker, size int, logger Logger) *Forwarder {
	if size <= 0 {
		size = defaultForwarderBuffer
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Forwarder{
		broker: broker,
		logger: logger,
		ch:     make(chan events.Event, size),
		done:   make(chan struct{}),
	}
}

// Start launches the publishing goroutine.
func (f *Forwarder) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrForwarderClosed
	}
	if !f.started {
		f.started = true
		go f.run()
	}
	return nil
}

// Emit implements events.Sink.
func (f *Forwarder) Emit(ev events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.ch <- ev:
	default:
		f.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the buffer was
// full.
func (f *Forwarder) Dropped() uint64 {
	return f.dropped.Load()
}

// Close stops accepting events and waits for buffered ones to be published.
func (f *Forwarder) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	started := f.started
	close(f.ch)
	f.mu.Unlock()

	if started {
		<-f.done
	}
}

func (f *Forwarder) run() {
	defer close(f.done)
	topics := f.broker.Topics()
	for ev := range f.ch {
		if err := f.broker.PublishJSON(topics.Event(string(ev.Kind)), ev); err != nil {
			f.logger.Debug("event publish failed", "kind", ev.Kind, "error", err)
		}
	}
}
