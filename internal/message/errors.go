package message

import "errors"

var (
	// ErrShutdownInProgress is delivered to messages still queued when the
	// server stops.
	ErrShutdownInProgress = errors.New("message: shutdown in progress")

	// ErrProcessPanic wraps a panic recovered from Process.
	ErrProcessPanic = errors.New("message: process panicked")
)
