package msgqueue

import "errors"

var (
	// ErrQueueClosed is returned by Enqueue once the queue has left Open.
	ErrQueueClosed = errors.New("msgqueue: queue closed")

	// ErrQueueFull is returned by Enqueue on a bounded queue at capacity.
	ErrQueueFull = errors.New("msgqueue: queue full")
)
