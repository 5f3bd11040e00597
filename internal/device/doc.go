// Package device holds the registry of compute devices the daemon dispatches
// to.
//
// The registry is built exactly once during startup by Enumerate and is
// read-only afterwards, so lookups take no locks.
//
// # Architecture
//
//	┌──────────────┐  Devices()   ┌──────────────┐
//	│ accel        │─────────────▶│ Enumerate    │
//	│ Platform     │              │  (filter,    │
//	└──────────────┘              │   index)     │
//	                              └──────┬───────┘
//	                                     │
//	                                     ▼
//	                              ┌──────────────┐
//	                              │  Registry    │  Count / Device(i)
//	                              │  [0..N-1]    │──────────────────▶ scheduler,
//	                              └──────────────┘                    cmdqueue
//
// Devices are indexed 0..N-1 in the order the platform reports them. That
// index is the identity used by the scheduler and the command-queue set.
//
// # Usage
//
//	reg, err := device.Enumerate(ctx, platform, device.Filter{Kinds: kinds})
//	if errors.Is(err, device.ErrNoDeviceFound) {
//	    // fatal: nothing to dispatch to
//	}
//	for i := range reg.Count() {
//	    d := reg.Device(i)
//	    ...
//	}
//
// # Thread Safety
//
// A Registry is immutable after Enumerate returns and may be shared freely.
package device
