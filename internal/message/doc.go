// Package message defines the unit of work that producers hand to the
// dispatch core.
//
// A Message carries its own behaviour. A worker calls Process exactly once
// with the device target chosen for it. If Process returns an error, or
// panics, the worker calls Fail exactly once with that error. During
// shutdown, messages that were never dequeued are failed with
// ErrShutdownInProgress instead. No message ever sees both a successful
// Process and a Fail.
package message
