package accel

import "errors"

var (
	// ErrReleased is returned when a released context or queue is used.
	ErrReleased = errors.New("accel: resource released")

	// ErrBufferTooLarge is returned when a region exceeds the pin limit.
	ErrBufferTooLarge = errors.New("accel: buffer exceeds max allocation")

	// ErrUnknownDevice is returned when a device is not part of the context.
	ErrUnknownDevice = errors.New("accel: device not in context")
)
