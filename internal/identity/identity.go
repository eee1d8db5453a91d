// Package identity resolves the dev backend's session tokens into user ids.
//
// The dev backend trusts the token as the user id. A token is taken from
// the Authorization bearer header or, for WebSocket upgrades that cannot
// set headers, the token query parameter.
package identity

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/expertdesk/livesync/internal/domain"
)

const (
	SessionHeaderName     = "X-Session-ID"
	DefaultSessionIDValue = "default"
)

type contextKey int

const (
	userIDKey contextKey = iota
	sessionIDKey
)

var (
	tokenPattern     = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// AccountStore creates accounts on first sight.
type AccountStore interface {
	EnsureAccount(ctx context.Context, userID string) (*domain.Account, error)
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithUser returns a copy of ctx carrying userID and sessionID.
func WithUser(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}

// TokenFromRequest returns the bearer token or token query parameter, or
// "" if neither is present and well formed.
func TokenFromRequest(r *http.Request) string {
	token := ""
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			token = strings.TrimSpace(rest)
		}
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if !tokenPattern.MatchString(token) {
		return ""
	}
	return token
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware rejects requests without a valid token and injects the user
// and tab session IDs into the request context.
func Middleware(accounts AccountStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := TokenFromRequest(r)
			if userID == "" {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			if _, err := accounts.EnsureAccount(r.Context(), userID); err != nil {
				http.Error(w, `{"error":"failed to initialize account"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithUser(r.Context(), userID, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
