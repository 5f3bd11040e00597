package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNoDeviceFound) {
//	    // nothing usable on this host
//	}
var (
	// ErrNoDeviceFound is returned when enumeration yields zero usable devices.
	ErrNoDeviceFound = errors.New("device: no device found")

	// ErrDeviceInit is returned when the driver fails to set up a context,
	// queue or pinned buffer for a device.
	ErrDeviceInit = errors.New("device: initialisation failed")

	// ErrIndexOutOfRange is returned when a device index is not in [0, Count).
	ErrIndexOutOfRange = errors.New("device: index out of range")
)
