package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/offload-core/internal/intake"
	"github.com/nerrad567/offload-core/internal/kernel"
	"github.com/nerrad567/offload-core/internal/msgqueue"
)

const (
	// defaultWaitTimeout applies when the configured wait is zero.
	defaultWaitTimeout = 30 * time.Second

	// maxRecentLimit caps GET /ledger/recent.
	maxRecentLimit = 1000
)

// handleSubmitJob enqueues a kernel job.
//
// Without ?wait=true it answers 202 as soon as the job is queued. With it,
// the handler blocks until the result arrives (200) or the wait timeout
// passes (202, the job keeps running).
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooBig.Limit))
			return
		}
		writeBadRequest(w, "reading body: "+err.Error())
		return
	}
	req, err := intake.ParseRequest(body)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	results := make(chan kernel.Result, 1)
	job, err := req.Job(func(res kernel.Result) { results <- res })
	if errors.Is(err, kernel.ErrPayloadTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge,
			fmt.Sprintf("payload exceeds %d bytes", kernel.MaxPayload))
		return
	}
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.dispatcher.Enqueue(job); err != nil {
		switch {
		case errors.Is(err, msgqueue.ErrQueueClosed):
			writeUnavailable(w, "server is shutting down")
		case errors.Is(err, msgqueue.ErrQueueFull):
			writeError(w, http.StatusTooManyRequests, ErrCodeQueueFull, "message queue is full")
		default:
			s.logger.Error("enqueue failed", "id", req.ID, "error", err)
			writeInternalError(w, "enqueue failed")
		}
		return
	}

	accepted := map[string]any{"id": req.ID, "status": "queued"}
	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, accepted)
		return
	}

	timeout := time.Duration(s.cfg.Timeouts.Wait) * time.Second
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		writeJSON(w, http.StatusOK, res)
	case <-timer.C:
		writeJSON(w, http.StatusAccepted, accepted)
	case <-r.Context().Done():
	}
}

// handleJobEvents returns the ledger history of one job.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeNotFound(w, "ledger is disabled")
		return
	}
	id := chi.URLParam(r, "id")
	evs, err := s.ledger.History(r.Context(), id)
	if err != nil {
		s.logger.Error("reading job history", "id", id, "error", err)
		writeInternalError(w, "reading ledger")
		return
	}
	if len(evs) == 0 {
		writeNotFound(w, "no events for job "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "events": evs})
}

func (s *Server) handleLedgerSummary(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeNotFound(w, "ledger is disabled")
		return
	}
	sum, err := s.ledger.Summary(r.Context())
	if err != nil {
		s.logger.Error("reading ledger summary", "error", err)
		writeInternalError(w, "reading ledger")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleLedgerRecent(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeNotFound(w, "ledger is disabled")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}
	evs, err := s.ledger.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("reading recent events", "error", err)
		writeInternalError(w, "reading ledger")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs, "count": len(evs)})
}
