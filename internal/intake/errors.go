package intake

import "errors"

var (
	// ErrInvalidRequest is returned for a submission that cannot be parsed
	// or names an invalid job ID.
	ErrInvalidRequest = errors.New("intake: invalid request")

	// ErrForwarderClosed is returned by Start on a closed Forwarder.
	ErrForwarderClosed = errors.New("intake: forwarder closed")
)
