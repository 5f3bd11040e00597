//go:build !linux

package worker

// pinToCPU is a no-op where thread affinity is not supported.
func pinToCPU(int) error { return nil }
