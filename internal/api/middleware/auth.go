package middleware

import (
	"net/http"
	"strings"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/auth"
)

// RequireAuth guards the wrapped handler with a bearer token when enabled.
// Validated claims are stored on the request context.
func RequireAuth(secret string, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			claims, err := auth.ValidateToken(secret, token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

// extractBearer reads the Authorization header, falling back to ?token= for
// WebSocket clients that cannot set headers.
func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
