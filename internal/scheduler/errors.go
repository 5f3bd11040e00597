package scheduler

import "errors"

var (
	// ErrInvalidDeviceHint is returned when a message names a device index
	// outside the registry.
	ErrInvalidDeviceHint = errors.New("scheduler: device hint out of range")

	// ErrUnknownPolicy is returned by New for an unrecognised policy name.
	ErrUnknownPolicy = errors.New("scheduler: unknown policy")

	// ErrNoDevices is returned when a policy is built for zero devices.
	ErrNoDevices = errors.New("scheduler: no devices")
)
