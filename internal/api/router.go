package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/offload-core/internal/server"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(bodySizeLimit(maxRequestBodySize))

			// Unauthenticated monitoring.
			r.Get("/health", s.handleHealth)
			r.Get("/metrics", s.handleMetrics)
			r.Get("/devices", s.handleListDevices)
			r.Get("/kernels", s.handleListKernels)

			// WebSocket authenticates with a ticket in the handler.
			r.Get("/ws", s.handleWebSocket)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)

				r.Post("/auth/ws-ticket", s.handleWSTicket)

				r.Route("/ledger", func(r chi.Router) {
					r.Get("/summary", s.handleLedgerSummary)
					r.Get("/recent", s.handleLedgerRecent)
				})
			})
		})

		// Job bodies carry base64 payloads up to kernel.MaxPayload.
		r.Group(func(r chi.Router) {
			r.Use(bodySizeLimit(maxJobBodySize))
			r.Use(s.authMiddleware)

			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", s.handleSubmitJob)
				r.Get("/{id}/events", s.handleJobEvents)
			})
		})
	})

	return r
}

// handleHealth reports the dispatch core state. Anything other than running
// is 503 so load balancers stop routing submissions during a drain.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.dispatcher.State()
	status, code := "ok", http.StatusOK
	if state != server.StateRunning {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"state":   state,
		"version": s.version,
	})
}
