package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/zerocode/internal/api"
	"github.com/ashureev/zerocode/internal/config"
	"github.com/ashureev/zerocode/internal/domain"
	"github.com/ashureev/zerocode/internal/identity"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// SubmitRequest is the body of POST /api/assistant/messages.
type SubmitRequest struct {
	Message string `json:"message"`
	// Wait holds the response until the submission settled.
	Wait bool `json:"wait,omitempty"`
}

// MessageView is a transcript entry as rendered by the panel.
type MessageView struct {
	domain.Message
	Badge string `json:"badge,omitempty"`
}

// TranscriptResponse is the body of GET /api/assistant/messages.
type TranscriptResponse struct {
	Messages []MessageView `json:"messages"`
	Loading  bool          `json:"loading"`
}

// SubmitResponse is the body of a successful POST /api/assistant/messages.
type SubmitResponse struct {
	Message  MessageView   `json:"message"`
	Messages []MessageView `json:"messages,omitempty"`
	Loading  bool          `json:"loading"`
}

// NewMessageView attaches the presentation badge to m.
func NewMessageView(m domain.Message) MessageView {
	v := MessageView{Message: m}
	if m.Role == domain.RoleAssistant {
		v.Badge = m.Intent.Badge()
	}
	return v
}

// MessageViews converts a transcript for rendering.
func MessageViews(msgs []domain.Message) []MessageView {
	out := make([]MessageView, len(msgs))
	for i, m := range msgs {
		out[i] = NewMessageView(m)
	}
	return out
}

// Handler serves the assistant panel over HTTP and SSE.
type Handler struct {
	svc         *Service
	hub         *Hub
	rateLimiter *RateLimiter
	cfg         config.SSEConfig
	logger      *slog.Logger
}

// NewHandler creates the assistant HTTP handler.
func NewHandler(svc *Service, hub *Hub, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Handler{
		svc:         svc,
		hub:         hub,
		rateLimiter: NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		cfg:         cfg.SSE,
		logger:      logger,
	}
}

func (h *Handler) maxRequestBodySize() int64 {
	if h.cfg.MaxRequestBodySize > 0 {
		return h.cfg.MaxRequestBodySize
	}
	return defaultMaxRequestBodySize
}

// Rejected reports whether Submit turned text away at intake, before any
// work was started for it.
func Rejected(err error) bool {
	return errors.Is(err, ErrEmptyInput) || errors.Is(err, ErrBusy) || errors.Is(err, ErrClosed)
}

// RegisterRoutes registers the assistant routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/assistant", func(r chi.Router) {
		r.Get("/messages", h.HandleMessages)
		r.With(chiMiddleware.RequestSize(h.maxRequestBodySize())).Post("/messages", h.HandleSubmit)
		r.Delete("/messages", h.HandleReset)
		r.Get("/stream", h.HandleStream)
	})
}

// RateLimiter returns the per-user submission limiter.
func (h *Handler) RateLimiter() *RateLimiter {
	return h.rateLimiter
}

// Close stops the rate limiter.
func (h *Handler) Close() {
	h.rateLimiter.Close()
}

// HandleMessages handles GET /api/assistant/messages.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	p, err := h.svc.Panel(r.Context(), userID, sessionID)
	if err != nil {
		h.logger.Error("Failed to load assistant panel", "user_id", userID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	api.JSON(w, http.StatusOK, TranscriptResponse{
		Messages: MessageViews(p.Messages()),
		Loading:  p.IsLoading(),
	})
}

// HandleSubmit handles POST /api/assistant/messages.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.rateLimiter.Allow(userID) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	h.logger.Info("Assistant submission",
		"user_id", userID,
		"session_id", sessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message),
		"wait", req.Wait,
	)

	user, err := h.svc.Submit(r.Context(), userID, sessionID, req.Message, req.Wait)
	if Rejected(err) {
		h.rateLimiter.Refund(userID)
	}
	switch {
	case errors.Is(err, ErrEmptyInput):
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	case errors.Is(err, ErrBusy):
		api.Error(w, http.StatusConflict, "a request is already in flight")
		return
	case errors.Is(err, ErrClosed):
		api.Error(w, http.StatusServiceUnavailable, "shutting down")
		return
	case err != nil:
		h.logger.Error("Assistant submission failed", "user_id", userID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to submit message")
		return
	}

	if !req.Wait {
		api.JSON(w, http.StatusAccepted, SubmitResponse{Message: NewMessageView(user), Loading: true})
		return
	}

	p, err := h.svc.Panel(r.Context(), userID, sessionID)
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}
	api.JSON(w, http.StatusOK, SubmitResponse{
		Message:  NewMessageView(user),
		Messages: MessageViews(p.Messages()),
		Loading:  p.IsLoading(),
	})
}

// HandleReset handles DELETE /api/assistant/messages.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	err := h.svc.Reset(r.Context(), userID, sessionID)
	switch {
	case errors.Is(err, ErrBusy):
		api.Error(w, http.StatusConflict, "a request is already in flight")
		return
	case err != nil:
		h.logger.Error("Assistant reset failed", "user_id", userID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to reset transcript")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStream handles GET /api/assistant/stream. Events carry hub IDs so a
// reconnecting client can resume with Last-Event-ID.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
			h.logger.Info("SSE client reconnecting with Last-Event-ID",
				"user_id", userID,
				"last_event_id", lastEventID,
			)
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	retryDelay := h.cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", retryDelay.Milliseconds())); err != nil {
		h.logger.Warn("Failed to write SSE retry header", "error", err, "user_id", userID)
		return
	}
	flusher.Flush()

	sub, missed := h.hub.Subscribe(userID, sessionID, lastEventID)
	defer sub.Close()

	if len(missed) > 0 {
		h.logger.Info("Sending missed events",
			"user_id", userID,
			"session_id", sessionID,
			"count", len(missed),
		)
	}
	for _, ev := range missed {
		if err := h.sendEvent(w, ev); err != nil {
			h.logger.Warn("Failed to replay SSE event", "error", err, "user_id", userID)
			return
		}
	}

	connected := fmt.Sprintf(`{"status":"connected","user_id":%q,"session_id":%q}`, userID, sessionID)
	if err := writeSSE(w, "connected", connected); err != nil {
		h.logger.Warn("Failed to write SSE connected event", "error", err, "user_id", userID)
		return
	}
	flusher.Flush()

	h.logger.Info("SSE connection established",
		"user_id", userID,
		"session_id", sessionID,
		"reconnect", lastEventID > 0,
	)

	keepaliveInterval := h.cfg.KeepaliveInterval
	if keepaliveInterval <= 0 {
		keepaliveInterval = 10 * time.Second
	}
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("Assistant stream disconnected", "user_id", userID, "session_id", sessionID)
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := h.sendEvent(w, ev); err != nil {
				h.logger.Warn("Failed to write SSE event", "error", err, "user_id", userID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Warn("Failed to write SSE keepalive ping", "error", err, "user_id", userID)
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) sendEvent(w io.Writer, ev Event) error {
	data, err := json.Marshal(ev.Wire())
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return writeSSEWithID(w, ev.ID, string(ev.Type), string(data))
}

// WireEvent is the JSON form of an Event on the SSE and websocket channels.
type WireEvent struct {
	ID      int64        `json:"id"`
	Type    EventType    `json:"type"`
	Message *MessageView `json:"message,omitempty"`
	Loading *bool        `json:"loading,omitempty"`
	Code    string       `json:"code,omitempty"`
	URL     string       `json:"url,omitempty"`
}

// Wire converts ev to its JSON form.
func (ev Event) Wire() WireEvent {
	out := WireEvent{
		ID:      ev.ID,
		Type:    ev.Type,
		Loading: ev.Loading,
		Code:    ev.Code,
		URL:     ev.URL,
	}
	if ev.Message != nil {
		v := NewMessageView(*ev.Message)
		out.Message = &v
	}
	return out
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
