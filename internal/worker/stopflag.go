package worker

import "sync/atomic"

// StopFlag is the shared shutdown flag. It only ever goes from unset to set.
type StopFlag struct {
	v atomic.Bool
}

// Set sets the flag. It reports whether this call was the one that set it.
func (f *StopFlag) Set() bool {
	return f.v.CompareAndSwap(false, true)
}

// IsSet reports whether the flag has been set.
func (f *StopFlag) IsSet() bool {
	return f.v.Load()
}
