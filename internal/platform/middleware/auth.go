package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"vendorgrid/internal/platform/metrics"
	"vendorgrid/pkg/requestcontext"
)

const (
	// HeaderActor names the operator on whose behalf the request acts. It is
	// recorded on audit events.
	HeaderActor = "X-Actor"

	// DefaultActor is used when an authenticated request names no actor.
	DefaultActor = "operator"
)

// TokenVerifier checks a presented operator token, typically against a
// bcrypt hash.
type TokenVerifier func(token string) error

// RequireOperator rejects requests without a valid bearer token and puts the
// actor into the request context.
func RequireOperator(verify TokenVerifier, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				m.IncrementAuthFailures()
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}
			if err := verify(token); err != nil {
				m.IncrementAuthFailures()
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeUnauthorized(w, "Invalid operator token")
				return
			}

			actor := strings.TrimSpace(r.Header.Get(HeaderActor))
			if actor == "" {
				actor = DefaultActor
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, actor)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
