package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/zerocode/internal/config"
	"github.com/ashureev/zerocode/internal/gateway"
	"github.com/ashureev/zerocode/internal/store"
	"github.com/go-chi/chi/v5"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	gateway gateway.Pinger
	cfg     *config.Config
	logger  *slog.Logger
}

// NewHealthHandler creates a health handler. gw may be nil.
func NewHealthHandler(repo store.Repository, gw gateway.Pinger, cfg *config.Config, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{repo: repo, gateway: gw, cfg: cfg, logger: logger}
}

// Health returns the health status of the API and its dependencies. An
// unreachable gateway degrades the status but keeps the 200.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	healthCheckTimeout := 5 * time.Second
	if h.cfg != nil && h.cfg.Timeout.HealthCheck > 0 {
		healthCheckTimeout = h.cfg.Timeout.HealthCheck
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		status = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.gateway != nil {
		if err := h.gateway.Ping(ctx); err != nil {
			h.logger.Warn("Gateway health check failed", "error", err)
			status = "degraded"
			checks["gateway"] = "unreachable"
		} else {
			checks["gateway"] = "ok"
		}
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
