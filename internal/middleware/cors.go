// Package middleware provides HTTP middleware for the console API.
package middleware

import (
	"net/http"
	"slices"
)

const (
	allowedMethods  = "GET, POST, PUT, DELETE, OPTIONS"
	allowedHeaders  = "Content-Type, X-Session-ID, X-Request-Id"
	exposedHeaders  = "X-Request-Id"
	preflightMaxAge = "600"
)

// CORS returns middleware that handles CORS headers. "*" in allowedOrigins
// echoes any origin but never allows credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(allowedOrigins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			explicit := origin != "" && slices.Contains(allowedOrigins, origin)

			if origin != "" && (explicit || wildcard) {
				h := w.Header()
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", allowedMethods)
				h.Set("Access-Control-Allow-Headers", allowedHeaders)
				h.Set("Access-Control-Expose-Headers", exposedHeaders)
				h.Set("Access-Control-Max-Age", preflightMaxAge)
				// Credentials with an echoed wildcard origin would enable CSRF.
				if explicit {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
