package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/zerocode/internal/assistant"
	"github.com/ashureev/zerocode/internal/identity"
	"github.com/ashureev/zerocode/internal/store"
	"github.com/coder/websocket"
)

// Inbound message types.
const (
	TypeSubmit = "submit"
	TypeReset  = "reset"
	TypePing   = "ping"
)

// Outbound control message types. Panel events are sent as
// assistant.WireEvent with their own type.
const (
	TypeSnapshot = "snapshot"
	TypeAccepted = "accepted"
	TypeError    = "error"
	TypePong     = "pong"
)

// inMessage is a client frame.
type inMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// controlMessage is a server frame that is not a panel event.
type controlMessage struct {
	Type     string                  `json:"type"`
	Messages []assistant.MessageView `json:"messages,omitempty"`
	Message  *assistant.MessageView  `json:"message,omitempty"`
	Loading  *bool                   `json:"loading,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// WebSocketHandler serves GET /ws/assistant.
type WebSocketHandler struct {
	svc            *assistant.Service
	hub            *assistant.Hub
	limiter        *assistant.RateLimiter
	repo           store.Repository
	sm             *SessionManager
	allowedOrigins []string
	isDev          bool
	logger         *slog.Logger
}

// Options configures a WebSocketHandler.
type Options struct {
	// RateLimiter is shared with the HTTP submit route; nil disables limiting.
	RateLimiter    *assistant.RateLimiter
	AllowedOrigins []string
	IsDev          bool
}

// NewWebSocketHandler creates a new websocket handler.
func NewWebSocketHandler(svc *assistant.Service, hub *assistant.Hub, repo store.Repository, sm *SessionManager, opts Options, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		svc:            svc,
		hub:            hub,
		limiter:        opts.RateLimiter,
		repo:           repo,
		sm:             sm,
		allowedOrigins: opts.AllowedOrigins,
		isDev:          opts.IsDev,
		logger:         logger,
	}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	h.logger.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.sm.Register(userID, sessionID, ws)
	defer h.sm.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	lastEventID, _ := strconv.ParseInt(r.URL.Query().Get("lastEventId"), 10, 64)
	sub, missed := h.hub.Subscribe(userID, sessionID, lastEventID)
	defer sub.Close()

	panel, err := h.svc.Panel(ctx, userID, sessionID)
	if err != nil {
		h.logger.Error("Failed to load assistant panel", "error", err, "user_id", userID)
		_ = h.writeJSON(ctx, ws, controlMessage{Type: TypeError, Error: "panel_unavailable"})
		return
	}
	loading := panel.IsLoading()
	if err := h.writeJSON(ctx, ws, controlMessage{
		Type:     TypeSnapshot,
		Messages: assistant.MessageViews(panel.Messages()),
		Loading:  &loading,
	}); err != nil {
		h.logger.Debug("Failed to send snapshot", "error", err, "user_id", userID)
		return
	}
	for _, ev := range missed {
		if err := h.writeJSON(ctx, ws, ev.Wire()); err != nil {
			return
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, userID, sessionID)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, sub, userID)
	}()

	wg.Wait()
	h.logger.Info("Assistant socket ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg inMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = h.writeJSON(ctx, ws, controlMessage{Type: TypeError, Error: "invalid_message"})
			continue
		}

		switch msg.Type {
		case TypeSubmit:
			h.submit(ctx, ws, userID, sessionID, msg.Content)
		case TypeReset:
			if err := h.svc.Reset(ctx, userID, sessionID); err != nil {
				_ = h.writeJSON(ctx, ws, controlMessage{Type: TypeError, Error: errorCode(err)})
			}
		case TypePing:
			if err := h.writeJSON(ctx, ws, controlMessage{Type: TypePong}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		default:
			_ = h.writeJSON(ctx, ws, controlMessage{Type: TypeError, Error: "unknown_type"})
		}

		h.touch(userID)
	}
}

func (h *WebSocketHandler) submit(ctx context.Context, ws *websocket.Conn, userID, sessionID, content string) {
	if h.limiter != nil && !h.limiter.Allow(userID) {
		_ = h.writeJSON(ctx, ws, controlMessage{Type: TypeError, Error: "rate_limited"})
		return
	}
	user, err := h.svc.Submit(ctx, userID, sessionID, content, false)
	if h.limiter != nil && assistant.Rejected(err) {
		h.limiter.Refund(userID)
	}
	if err != nil {
		_ = h.writeJSON(ctx, ws, controlMessage{Type: TypeError, Error: errorCode(err)})
		return
	}
	view := assistant.NewMessageView(user)
	_ = h.writeJSON(ctx, ws, controlMessage{Type: TypeAccepted, Message: &view})
}

func (h *WebSocketHandler) outputLoop(ctx context.Context, ws *websocket.Conn, sub *assistant.Subscription, userID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := h.writeJSON(ctx, ws, ev.Wire()); err != nil {
				if ctx.Err() == nil {
					h.logger.Debug("WebSocket write error", "error", err, "user_id", userID)
				}
				return
			}
		}
	}
}

// touch updates last seen asynchronously with a timeout.
func (h *WebSocketHandler) touch(userID string) {
	if h.repo == nil {
		return
	}
	go func() {
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
			h.logger.Warn("Failed to update last seen", "error", err)
		}
	}()
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, assistant.ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, assistant.ErrBusy):
		return "busy"
	case errors.Is(err, assistant.ErrClosed):
		return "shutting_down"
	default:
		return "internal"
	}
}
