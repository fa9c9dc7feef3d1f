package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports backend reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles service health and readiness checks
type HealthHandler struct {
	store     Pinger
	backend   string
	breaker   func() string
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler. breaker reports the state
// of the invitation API circuit breaker and may be nil.
func NewHealthHandler(store Pinger, backend string, breaker func() string, version string) *HealthHandler {
	return &HealthHandler{
		store:     store,
		backend:   backend,
		breaker:   breaker,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Timestamp     string `json:"timestamp"`
	Store         string `json:"store"`
	StoreBackend  string `json:"store_backend"`
	InviteBreaker string `json:"invite_breaker,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Ready bool   `json:"ready"`
	Store string `json:"store"`
}

func (h *HealthHandler) storeStatus(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		return "disconnected"
	}
	return "connected"
}

// Health returns the service health status
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Store:         h.storeStatus(r.Context()),
		StoreBackend:  h.backend,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
	if h.breaker != nil {
		response.InviteBreaker = h.breaker()
	}

	writeJSON(w, http.StatusOK, response)
}

// Ready returns the service readiness status
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := h.storeStatus(r.Context())

	statusCode := http.StatusOK
	if status != "connected" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Ready: statusCode == http.StatusOK,
		Store: status,
	})
}
