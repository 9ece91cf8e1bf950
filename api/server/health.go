package server

import (
	"net/http"

	"consentchain/core/ledger"
)

// StatusResponse represents the JSON structure for /status endpoint
type StatusResponse struct {
	Status        string      `json:"status"`
	Uptime        int64       `json:"uptime_seconds"`
	EventPosition uint64      `json:"event_position"`
	Version       string      `json:"version"`
	APIVersion    string      `json:"api_version"`
	Metrics       NodeMetrics `json:"metrics"`
}

// LivenessResponse for /health/liveness
type LivenessResponse struct {
	Alive bool `json:"alive"`
}

// ReadinessResponse for /health/readiness
type ReadinessResponse struct {
	Ready bool `json:"ready"`
}

// NodeHealthResponse is the response type for the /nodehealth endpoint
type NodeHealthResponse struct {
	Status  string      `json:"status"`
	Metrics NodeMetrics `json:"metrics"`
}

func NodeVersion() string {
	return "v1.0.0"
}

func APIVersion() string {
	return "v1"
}

// NodeLiveness returns true once the process is serving requests.
func (s *Server) NodeLiveness() bool {
	return true
}

// NodeReadiness returns true if the store is reachable and the
// projections are not drowning behind the log head.
func (s *Server) NodeReadiness() bool {
	for _, cat := range ledger.Categories {
		if _, err := s.engine.Cursor(cat); err != nil {
			return false
		}
	}
	metrics := s.GetNodeMetrics()
	return metrics.MaxCursorLag <= uint64(s.cfg.ProjectionBatch)*2
}

// deriveStatus maps metrics onto a coarse operator-facing state.
func deriveStatus(metrics NodeMetrics, batchLimit int) string {
	switch {
	case metrics.EventPosition == 0:
		return "initializing"
	case metrics.MaxCursorLag > uint64(batchLimit):
		return "indexing"
	default:
		return "healthy"
	}
}

// HandleLiveness responds to /health/liveness
func (s *Server) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Alive: s.NodeLiveness()})
}

// HandleReadiness responds to /health/readiness
func (s *Server) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ready := s.NodeReadiness()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, ReadinessResponse{Ready: ready})
}

// HandleStatus responds to /status with node status
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	metrics := s.GetNodeMetrics()
	resp := StatusResponse{
		Status:        deriveStatus(metrics, s.cfg.ProjectionBatch),
		Uptime:        metrics.UptimeSeconds,
		EventPosition: metrics.EventPosition,
		Version:       NodeVersion(),
		APIVersion:    APIVersion(),
		Metrics:       metrics,
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleNodeHealth responds to /nodehealth (summary health)
func (s *Server) HandleNodeHealth(w http.ResponseWriter, r *http.Request) {
	metrics := s.GetNodeMetrics()
	writeJSON(w, http.StatusOK, NodeHealthResponse{
		Status:  deriveStatus(metrics, s.cfg.ProjectionBatch),
		Metrics: metrics,
	})
}
