package worker

import "errors"

var (
	// ErrWorkerCountInvalid is returned when the worker count does not
	// resolve to a positive integer.
	ErrWorkerCountInvalid = errors.New("worker: invalid worker count")

	// ErrWorkerStartupFailed is returned when any worker fails to start.
	// Workers already running have been joined by the time it is returned.
	ErrWorkerStartupFailed = errors.New("worker: startup failed")

	// ErrAlreadyStarted is returned by Start on a pool that has been started.
	ErrAlreadyStarted = errors.New("worker: pool already started")
)
