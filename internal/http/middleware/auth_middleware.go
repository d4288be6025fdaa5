package middleware

import (
	"context"
	"net/http"
	"strings"

	"tabletop-session-service/internal/http/response"
	"tabletop-session-service/internal/observability"
	"tabletop-session-service/internal/security"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Auth verifies the bearer token and stores the resulting identity on the
// request context. Verification happens once per request; everything past
// this middleware trusts the identity.
func Auth(verifier *security.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				observability.RecordTokenValidation(r.Context(), "missing", "none")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
				return
			}
			identity, err := verifier.Verify(raw)
			if err != nil {
				observability.RecordTokenValidation(r.Context(), "invalid", "bearer")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token", nil)
				return
			}
			observability.RecordTokenValidation(r.Context(), "valid", "bearer")
			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the verified identity set by Auth.
func IdentityFromContext(ctx context.Context) (security.Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(security.Identity)
	return id, ok
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	// SSE clients cannot set headers from EventSource, so the stream
	// endpoint accepts the token as a query parameter.
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
