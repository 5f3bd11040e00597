// Package ledger journals dispatch core events to SQLite.
//
// The Ledger is an events.Sink. Emit never blocks: events go into a
// buffered channel and a single writer goroutine inserts them in batched
// transactions. When the buffer is full the event is dropped and counted.
//
// The schema lives in the top-level migrations package (table
// message_events) and must be applied before Start.
package ledger
