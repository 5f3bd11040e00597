// Package logging provides structured logging for the offload daemon.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Framed pipe output for a supervising log collector
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, pipe
//
// # Pipe Output
//
// With output "pipe", each record is split into frames of at most
// PipeChunkSize bytes (header plus up to PipeMaxPayload bytes of text) and
// written to stderr. The final frame of a record is flagged so the collector
// can reassemble records of any length.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("started", "workers", 8)
//	logger.Error("device init failed", "error", err)
package logging
