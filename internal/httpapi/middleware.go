package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/stakematch/internal/auth"
)

type ctxKey string

const (
	requestIDKey ctxKey = "requestID"
	adminSubKey  ctxKey = "adminSub"
)

// RequestID tags every request with a UUID and logs it on completion.
func RequestID(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.NewString()
			w.Header().Set("X-Request-Id", id)

			start := time.Now()
			ctx := context.WithValue(r.Context(), requestIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))

			log.Info("http request",
				"requestId", id,
				"method", r.Method,
				"path", r.URL.Path,
				"durationMs", time.Since(start).Milliseconds(),
			)
		})
	}
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	return v, ok
}

// AdminAuth guards controller-only routes with a bearer token issued by
// the admin login endpoint.
func AdminAuth(jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			token := strings.TrimPrefix(h, "Bearer ")

			claims, err := auth.Verify(jwtSecret, token)
			if err != nil || claims.Role != "admin" {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), adminSubKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
