// Package identity assigns every gateway request a console session id.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ashureev/researchdeck/internal/protocol"
)

// SessionQueryParam carries the session id for WebSocket upgrades, where browsers
// cannot set custom headers.
const SessionQueryParam = "session_id"

type contextKey int

const (
	sessionIDKey contextKey = iota
	remoteIPKey
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// SessionIDFromContext extracts the session id from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// RemoteIPFromContext extracts the normalized client IP.
func RemoteIPFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(remoteIPKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID returns a context carrying id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// SessionIDFromRequest reads the header, then the query parameter. It returns ""
// when neither holds a valid id.
func SessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(protocol.SessionHeader)
	if sid == "" {
		sid = r.URL.Query().Get(SessionQueryParam)
	}
	return sanitizeSessionID(sid)
}

// Middleware injects the session id, generating one when the client sent none,
// and echoes it in the response header so HTTP-only clients can keep it.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := SessionIDFromRequest(r)
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		w.Header().Set(protocol.SessionHeader, sessionID)

		ctx := WithSessionID(r.Context(), sessionID)
		ctx = context.WithValue(ctx, remoteIPKey, IPFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
