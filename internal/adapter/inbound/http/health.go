package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Sentinel-Gate/echogate/internal/domain/session"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"activeSessions"`
	Timestamp      string `json:"timestamp"` // RFC 3339, UTC
	Version        string `json:"version,omitempty"`
}

// HealthChecker reports liveness and the registered session count.
type HealthChecker struct {
	registry session.Registry
	version  string
	now      func() time.Time
}

// NewHealthChecker creates a HealthChecker. registry may be nil.
func NewHealthChecker(registry session.Registry, version string) *HealthChecker {
	return &HealthChecker{
		registry: registry,
		version:  version,
		now:      time.Now,
	}
}

// Check samples the current state. It never fails.
func (h *HealthChecker) Check() HealthResponse {
	active := 0
	if h.registry != nil {
		active = h.registry.Count()
	}
	return HealthResponse{
		Status:         "healthy",
		ActiveSessions: active,
		Timestamp:      h.now().UTC().Format(time.RFC3339Nano),
		Version:        h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(h.Check())
	})
}
