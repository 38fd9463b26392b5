package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"issuelinks/internal/issue"
)

// ServiceName is reported by the health endpoints
const ServiceName = "issuelinks"

// storePingTimeout bounds the readiness check against Redis
const storePingTimeout = 2 * time.Second

// HealthResponse answers /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// StoreStatus reports the Redis round trip made by /ready
type StoreStatus struct {
	Healthy        bool   `json:"healthy"`
	Error          string `json:"error,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms"`
}

// ReadinessResponse answers /ready
type ReadinessResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Service   string          `json:"service"`
	Store     StoreStatus     `json:"store"`
	Backends  []issue.Backend `json:"backends"`
}

// Pinger is the part of the Redis client readiness needs
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// HealthHandler serves /health and /ready
type HealthHandler struct {
	version  string
	store    Pinger
	backends []issue.Backend
	writer   ResponseWriter
}

// NewHealthHandler creates a health handler. backends lists the services
// whose webhooks this instance accepts.
func NewHealthHandler(version string, store Pinger, backends []issue.Backend, writer ResponseWriter) *HealthHandler {
	return &HealthHandler{version: version, store: store, backends: backends, writer: writer}
}

// HandleHealth reports that the process is up
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		_ = h.writer.WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	_ = h.writer.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   ServiceName,
		Version:   h.version,
	})
}

// HandleReady reports whether deliveries can be accepted. Webhook secrets and
// issue records live in Redis, so an unreachable store means not ready.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		_ = h.writer.WriteError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	store := h.pingStore(r.Context())
	resp := ReadinessResponse{
		Status:    "ready",
		Timestamp: time.Now(),
		Service:   ServiceName,
		Store:     store,
		Backends:  h.backends,
	}

	status := http.StatusOK
	if !store.Healthy {
		resp.Status = "not ready"
		status = http.StatusServiceUnavailable
		slog.Warn("Issue store unreachable", "error", store.Error)
	}
	_ = h.writer.WriteJSON(w, status, resp)
}

func (h *HealthHandler) pingStore(ctx context.Context) StoreStatus {
	ctx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()

	start := time.Now()
	err := h.store.Ping(ctx).Err()
	status := StoreStatus{Healthy: err == nil, ResponseTimeMs: time.Since(start).Milliseconds()}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}
