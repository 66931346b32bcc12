package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/petmarket/internal/logger"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	RoleAdmin = "admin"
)

type ctxKey int

const identityKey ctxKey = iota

// Identity is the caller as asserted by the upstream gateway.
type Identity struct {
	UserID string
	Role   string
}

// Authenticate reads the identity headers set by the upstream gateway.
// Requests without a user id are rejected.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
			return
		}
		id := Identity{
			UserID: userID,
			Role:   strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))),
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := identityFromContext(r.Context())
			if !ok || id.Role != role {
				respondError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func identityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

func userIDFromContext(ctx context.Context) string {
	id, _ := identityFromContext(ctx)
	return id.UserID
}

// RequestLogger writes one structured line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := logger.FromContext(r.Context()).Info()
			if status >= http.StatusInternalServerError {
				ev = logger.FromContext(r.Context()).Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		}()
		next.ServeHTTP(ww, r)
	})
}
