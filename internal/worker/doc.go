// Package worker runs the pool of goroutines that drain the server message
// queue.
//
// Every worker is pinned to its own OS thread and runs the same loop:
//
//	for !stop.IsSet() {
//	    msg, ok := queue.DequeueBlocking()
//	    if !ok {
//	        continue // flag re-checked
//	    }
//	    dispatch(msg) // resolve device, Process, Fail on error
//	}
//
// # Startup
//
// Workers are started one at a time and each one reports back once its
// thread is set up. Startup is all-or-nothing: if worker i fails to come up,
// the pool sets the stop flag, cancels the queue, joins workers i-1..0 and
// returns ErrWorkerStartupFailed.
//
// # Shutdown
//
// The owner sets the StopFlag, then cancels the queue so that blocked
// workers wake. Wait joins workers in reverse start order.
//
// # Failure Isolation
//
// A panic in Process or Fail is recovered. A Process panic is delivered to
// the message's Fail as message.ErrProcessPanic; the worker keeps running.
package worker
