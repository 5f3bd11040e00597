// Package events carries dispatch and lifecycle notifications from the core
// to observers (ledger, metrics, live stream).
//
// Sinks are called synchronously from worker goroutines and must not block;
// a sink that does I/O buffers internally and drops when full.
package events

import (
	"time"
)

// Kind classifies an event.
type Kind string

// Event kinds.
const (
	// KindLifecycle marks a server state transition. State holds the new state.
	KindLifecycle Kind = "lifecycle"

	// KindDispatched marks a message whose Process call returned.
	// Error is set when Process failed and the message was failed back.
	KindDispatched Kind = "dispatched"

	// KindFailedBack marks a message failed with a shutdown error while
	// still queued.
	KindFailedBack Kind = "failed_back"

	// KindRejected marks a message that Enqueue refused.
	KindRejected Kind = "rejected"
)

// NoWorker is the Worker value for events not raised by a worker.
const NoWorker = -1

// Event is a single notification.
type Event struct {
	Kind      Kind          `json:"kind"`
	Time      time.Time     `json:"time"`
	MessageID string        `json:"message_id,omitempty"`
	Worker    int           `json:"worker"`
	Device    int           `json:"device"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
	Error     string        `json:"error,omitempty"`
	State     string        `json:"state,omitempty"`
}

// Sink receives events.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ev Event) { f(ev) }

// Noop discards every event.
var Noop Sink = SinkFunc(func(Event) {})

// Fanout delivers each event to every sink in order.
type Fanout []Sink

// Emit implements Sink.
func (f Fanout) Emit(ev Event) {
	for _, s := range f {
		s.Emit(ev)
	}
}

// Lifecycle builds a lifecycle event.
func Lifecycle(state string) Event {
	return Event{Kind: KindLifecycle, Time: time.Now(), Worker: NoWorker, Device: -1, State: state}
}

// ErrString returns err's text, or "" for nil.
func ErrString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
