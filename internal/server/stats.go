package server

import (
	"time"

	"github.com/nerrad567/offload-core/internal/cmdqueue"
	"github.com/nerrad567/offload-core/internal/msgqueue"
	"github.com/nerrad567/offload-core/internal/worker"
)

// Stats is a point-in-time view of the server.
type Stats struct {
	State        State            `json:"state"`
	Platform     string           `json:"platform"`
	Uptime       time.Duration    `json:"uptime_ns"`
	Workers      int              `json:"workers"`
	Devices      int              `json:"devices"`
	PinnedZones  int              `json:"pinned_zones"`
	Queue        msgqueue.Stats   `json:"queue"`
	DeviceQueues []cmdqueue.Stats `json:"device_queues,omitempty"`
	WorkerStats  []worker.Stats   `json:"worker_stats,omitempty"`
}

// Stats returns a snapshot of server counters.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	st := Stats{
		State:       s.state,
		Platform:    s.platform.Name(),
		Workers:     s.workers,
		PinnedZones: len(s.pinned),
	}
	if !s.started.IsZero() {
		st.Uptime = time.Since(s.started)
	}
	if s.registry != nil {
		st.Devices = s.registry.Count()
	}
	queues, pool := s.queues, s.pool
	s.mu.RUnlock()

	st.Queue = s.queue.Stats()
	if queues != nil {
		st.DeviceQueues = queues.Stats()
	}
	if pool != nil {
		st.WorkerStats = pool.Stats()
	}
	return st
}
