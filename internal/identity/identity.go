// Package identity resolves who is talking to the assistant: an anonymous
// per-device user (cookie) and the browser tab they are typing in (session).
// Each (user, session) pair owns one assistant panel.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/zerocode/internal/domain"
	"github.com/ashureev/zerocode/internal/store"
	"github.com/google/uuid"
)

const (
	AnonCookieName        = "zerocode_anon_id"
	SessionHeaderName     = "X-ZeroCode-Session-ID"
	SessionQueryParam     = "session_id"
	DefaultSessionIDValue = "default"

	anonPrefix         = "anon_"
	anonCookieMaxAge   = 30 * 24 * time.Hour
	lastSeenResolution = time.Minute
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Identity names the panel a request addresses.
type Identity struct {
	UserID    string
	SessionID string
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying the given identity. An unusable
// session ID falls back to the default session.
func WithIdentity(ctx context.Context, userID, sessionID string) context.Context {
	return context.WithValue(ctx, contextKey{}, Identity{
		UserID:    userID,
		SessionID: sanitizeSessionID(sessionID),
	})
}

// FromContext returns the identity stored by the middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// UserIDFromContext returns the user ID, or "" for an anonymous request that
// never passed the middleware.
func UserIDFromContext(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UserID
}

// SessionIDFromContext returns the tab session ID, or the default session.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id.SessionID
	}
	return DefaultSessionIDValue
}

// newAnonID mints "anon_" followed by 32 hex digits.
func newAnonID() string {
	return anonPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

// sessionIDFromRequest reads the tab session. EventSource and WebSocket
// clients cannot set headers, so the query parameter is accepted too.
func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get(SessionQueryParam)
	}
	return sanitizeSessionID(sid)
}

// resolver binds requests to stored anonymous users.
type resolver struct {
	repo   store.Repository
	secure bool
	now    func() time.Time
}

// Middleware attaches an Identity to every request, minting an anonymous user
// and cookie on first contact. Cookies are Secure outside development.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	res := &resolver{repo: repo, secure: !isDev, now: time.Now}
	return res.middleware
}

func (res *resolver) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := newAnonID()
		if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
			userID = c.Value
		}
		res.setCookie(w, userID)

		if err := res.ensureUser(r.Context(), userID); err != nil {
			http.Error(w, `{"error":"failed to initialize anonymous user"}`, http.StatusInternalServerError)
			return
		}

		ctx := WithIdentity(r.Context(), userID, sessionIDFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// setCookie issues or refreshes the identity cookie.
func (res *resolver) setCookie(w http.ResponseWriter, userID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    userID,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  res.now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   res.secure,
	})
}

// ensureUser creates the user row on first sight and otherwise bumps last
// seen at most once per lastSeenResolution; the TTL worker reads it.
func (res *resolver) ensureUser(ctx context.Context, userID string) error {
	now := res.now()
	user, err := res.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return res.repo.UpsertUser(ctx, &domain.User{
			UserID:     userID,
			Username:   "anon-" + userID[len(userID)-8:],
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if user.IdleFor(now) < lastSeenResolution {
		return nil
	}
	return res.repo.UpdateLastSeen(ctx, userID, now)
}

// IPFromRequest returns the remote IP for request logging.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
