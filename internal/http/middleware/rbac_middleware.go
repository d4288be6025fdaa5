package middleware

import (
	"net/http"

	"tabletop-session-service/internal/domain"
	"tabletop-session-service/internal/http/response"
	"tabletop-session-service/internal/observability"
)

// RequireRole gates an endpoint on the identity's role. Session creation is
// the one boundary-enforced role check; everything finer-grained happens in
// the coordinator against session permissions.
func RequireRole(role domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
				return
			}
			if identity.Role != role {
				observability.Audit(r, "role_denied", "user_id", identity.UserID, "required", string(role))
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient role", map[string]string{"required": string(role)})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
