// Package middleware holds small, stateless HTTP middleware factories,
// matching the teacher's shape: a constructor takes whatever config the
// middleware needs and returns an http.Handler-wrapping function.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// RequireBearerToken guards a handler behind a static bearer token, per
// §6's "a bearer token required for any process-kill endpoint." An empty
// token disables the endpoint entirely (returns 503) rather than
// accepting any request — there is no safe default for a kill endpoint.
func RequireBearerToken(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token == "" {
			http.Error(w, "kill endpoint disabled: no token configured", http.StatusServiceUnavailable)
			return
		}

		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		supplied := strings.TrimPrefix(auth, prefix)
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
			slog.Warn("middleware: rejected kill request with invalid bearer token", "path", r.URL.Path)
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}
