package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/sells-group/outreach-cli/internal/auth"
)

type ctxKey int

const ownerKey ctxKey = 0

// SessionAuth requires a bearer session token and puts its owner on the
// request context.
func SessionAuth(tokens *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			owner, err := tokens.ParseSession(strings.TrimSpace(header[len(prefix):]))
			if err != nil {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey, owner)))
		})
	}
}

// ownerFrom returns the authenticated owner. Only valid behind SessionAuth.
func ownerFrom(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey).(string)
	return owner
}
