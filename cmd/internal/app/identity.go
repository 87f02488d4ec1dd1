package app

import (
	"net/http"
	"strings"

	"ripple/cmd/internal/users"
)

// IdentityHeader names the trusted header carrying the authenticated user id.
// An auth proxy in front of this service strips and re-sets it; this process
// never validates credentials itself.
const IdentityHeader = "X-Ripple-User"

// WithIdentity lifts the trusted identity header into the request context.
// Handlers that require a caller reject requests where it is absent.
func WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(IdentityHeader)); id != "" {
			r = r.WithContext(users.WithCaller(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
