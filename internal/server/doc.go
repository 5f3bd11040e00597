// Package server is the lifecycle controller of the dispatch core.
//
// # States
//
//	Init ──startup ok──▶ Running ──stop requested──▶ Draining ──▶ Stopped
//	  │                                                             ▲
//	  └──────────────────────startup failed─────────────────────────┘
//
// Startup is strictly ordered: resolve the worker count, enumerate devices,
// create the device context and one command queue per device, pin the
// shared-memory zones, then spawn the worker pool. Workers therefore never
// observe a partially built registry or queue set. Any startup error is
// fatal and releases whatever had been acquired.
//
// # Stopping
//
// RequestStop is idempotent, never blocks, and is safe to call from a
// signal-handling goroutine. It sets the shared stop flag and cancels the
// message queue. Run then joins every worker, closes the queue and fails
// each message that was never dequeued with
// message.ErrShutdownInProgress, waits (bounded) for device queues to
// finish, and releases device resources. Errors while draining are logged
// and never prevent reaching Stopped.
//
// # Usage
//
//	srv := server.New(cfg, platform, server.WithLogger(logger))
//	go func() {
//	    <-sigCh
//	    srv.RequestStop("signal")
//	}()
//	if err := srv.Run(ctx); err != nil {
//	    // startup failed
//	}
package server
