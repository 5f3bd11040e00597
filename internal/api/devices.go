package api

import (
	"net/http"

	"github.com/nerrad567/offload-core/internal/accel"
	"github.com/nerrad567/offload-core/internal/kernel"
)

// DeviceView is the API representation of a registered device.
type DeviceView struct {
	Index          int        `json:"index"`
	ID             string     `json:"id"`
	Name           string     `json:"name,omitempty"`
	Vendor         string     `json:"vendor,omitempty"`
	Kind           accel.Kind `json:"kind"`
	ComputeUnits   int        `json:"compute_units"`
	GlobalMemBytes int64      `json:"global_mem_bytes"`
	MaxAllocBytes  int64      `json:"max_alloc_bytes"`
}

// handleListDevices returns the device registry. It is empty until the
// dispatch core has finished startup.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	descs := s.dispatcher.Devices()
	out := make([]DeviceView, 0, len(descs))
	for _, d := range descs {
		out = append(out, DeviceView{
			Index:          d.Index,
			ID:             d.ID,
			Name:           d.Name,
			Vendor:         d.Vendor,
			Kind:           d.Kind,
			ComputeUnits:   d.ComputeUnits,
			GlobalMemBytes: d.GlobalMemBytes,
			MaxAllocBytes:  d.MaxAllocBytes,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleListKernels returns the registered kernel names.
func (s *Server) handleListKernels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"kernels":     kernel.Names(),
		"max_payload": kernel.MaxPayload,
	})
}
