package cmdqueue

import "errors"

var (
	// ErrReleased is returned when submitting to a released set.
	ErrReleased = errors.New("cmdqueue: released")

	// ErrNoQueue is returned when the device index has no queue.
	ErrNoQueue = errors.New("cmdqueue: no queue for device")
)
