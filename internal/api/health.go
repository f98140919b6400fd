package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/gazecal/internal/store"
)

const healthCheckTimeout = 5 * time.Second

// StatsFunc reports counters for an auxiliary component.
type StatsFunc func() map[string]interface{}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	tracker StatsFunc
}

// NewHealthHandler creates a new health handler. tracker may be nil.
func NewHealthHandler(repo store.Repository, tracker StatsFunc) *HealthHandler {
	return &HealthHandler{repo: repo, tracker: tracker}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}
	if h.tracker != nil {
		status["tracker"] = h.tracker()
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
