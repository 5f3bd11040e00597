// Package msgqueue implements the server message queue: a thread-safe,
// cancellable FIFO that workers block on.
//
// # State Machine
//
//	Open ──RequestCancel──▶ Cancelling ──CloseAndDrain──▶ Closed
//
// Enqueue succeeds only while Open. DequeueBlocking returns messages in
// enqueue order while Open and returns (nil, false) without consuming
// anything once the queue has left Open. RequestCancel wakes every blocked
// dequeuer with a broadcast. CloseAndDrain hands back every message that was
// never dequeued so the caller can fail it explicitly.
//
// All state lives under a single mutex paired with a sync.Cond, so Enqueue,
// DequeueBlocking and RequestCancel cannot deadlock against each other.
//
// # Usage
//
//	q := msgqueue.New(0) // unbounded
//	_ = q.Enqueue(msg)
//
//	// worker
//	for !stop.IsSet() {
//	    msg, ok := q.DequeueBlocking()
//	    if !ok {
//	        continue
//	    }
//	    ...
//	}
//
//	// controller, after every worker has returned
//	for _, m := range q.CloseAndDrain() {
//	    m.Fail(message.ErrShutdownInProgress)
//	}
package msgqueue
