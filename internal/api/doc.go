// Package api implements the HTTP API and WebSocket event stream of the
// offload daemon.
//
// This package provides:
//   - Job submission, optionally waiting for the result
//   - Device, kernel, health and metrics endpoints
//   - Ledger queries (per-job history, summary, recent events)
//   - A WebSocket hub that streams dispatch and lifecycle events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Security
//
// When security.jwt.secret is set, job and ledger routes require an HS256
// bearer token signed with it, and WebSocket connections need a single-use
// ticket from POST /api/v1/auth/ws-ticket. With no secret the API is open
// and meant for localhost only.
//
// # Graceful Degradation
//
// The ledger, database and MQTT are optional. Ledger routes answer 404 when
// the ledger is disabled; metrics omit what is not configured.
package api
