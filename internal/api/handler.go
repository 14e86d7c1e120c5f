// Package api provides HTTP handlers for the ZeroCode API.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ashureev/zerocode/internal/config"
	"github.com/ashureev/zerocode/internal/domain"
	"github.com/ashureev/zerocode/internal/identity"
	"github.com/ashureev/zerocode/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler serves the account and frontend configuration endpoints.
type Handler struct {
	repo     store.Repository
	cfg      *config.Config
	provider string
}

// NewHandler creates a new Handler. provider names the active completion
// provider reported by /api/config.
func NewHandler(repo store.Repository, cfg *config.Config, provider string) *Handler {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Handler{repo: repo, cfg: cfg, provider: provider}
}

// RegisterRoutes registers the account routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
	})
}

// GetMe returns the current anonymous user.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     user.UserID,
		"username":    user.Username,
		"session_id":  identity.SessionIDFromContext(r.Context()),
		"session_ttl": int64(h.cfg.SessionTTL.Seconds()),
		"idle_for":    int64(user.IdleFor(time.Now()).Seconds()),
	})
}

// GetConfig returns the assistant configuration the panel renders with.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"provider":       h.provider,
		"planning_model": h.cfg.Assistant.PlanningModel,
		"coding_model":   h.cfg.Assistant.CodingModel,
		"image_model":    h.cfg.Gateway.ImageModel,
		"badges": map[string]string{
			string(domain.IntentPlanning): domain.IntentPlanning.Badge(),
			string(domain.IntentCoding):   domain.IntentCoding.Badge(),
			string(domain.IntentImage):    domain.IntentImage.Badge(),
		},
		"sse_retry_ms": h.cfg.SSE.RetryDelay.Milliseconds(),
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
