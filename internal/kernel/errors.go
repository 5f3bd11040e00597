package kernel

import "errors"

var (
	// ErrUnknownKernel is returned for a kernel name that is not registered.
	ErrUnknownKernel = errors.New("kernel: unknown kernel")

	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayload.
	ErrPayloadTooLarge = errors.New("kernel: payload too large")
)
