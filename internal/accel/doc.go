// Package accel defines the boundary between the dispatch core and a compute
// device driver.
//
// The dispatch core never talks to hardware directly. It enumerates devices
// through a Platform, builds one Context that spans every usable device, and
// creates one Queue per device on that context. Work is submitted to a Queue
// as a plain function and completes asynchronously through an Event.
//
// # Contract
//
//   - Queue.Enqueue must never block on the work itself. It either accepts
//     the work and returns an Event, or returns an error.
//   - Event.Wait honours context cancellation.
//   - Release methods are idempotent.
//
// The only driver shipped with the daemon is hostsim, which executes work on
// goroutines. Drivers for real accelerators implement the same interfaces.
package accel
