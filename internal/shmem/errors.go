package shmem

import "errors"

var (
	// ErrPinFailed is returned when a zone cannot be registered with the
	// device context.
	ErrPinFailed = errors.New("shmem: pinning zone failed")

	// ErrInvalidSize is returned for a non-positive segment or zone size.
	ErrInvalidSize = errors.New("shmem: invalid size")

	// ErrUnmapped is returned when an unmapped segment is used.
	ErrUnmapped = errors.New("shmem: segment unmapped")
)
