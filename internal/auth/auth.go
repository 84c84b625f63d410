// Package auth guards the panel API with an optional operator token.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Middleware provides authentication middleware for HTTP handlers
type Middleware struct {
	token string
}

// NewMiddleware creates a new auth middleware. An empty token disables
// authentication.
func NewMiddleware(token string) *Middleware {
	return &Middleware{
		token: strings.TrimSpace(token),
	}
}

// RequireAuth wraps an http.Handler and requires valid authentication
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	if !m.IsEnabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.isAuthenticated(r) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="hopx-panel"`)
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized", "code": "UNAUTHORIZED"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAuthenticated checks the X-Panel-Token header, then the bearer token,
// then the token query parameter used by browser websockets.
func (m *Middleware) isAuthenticated(r *http.Request) bool {
	if token := r.Header.Get("X-Panel-Token"); token != "" {
		return m.matches(token)
	}

	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		// Must be "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return false
		}
		return m.matches(parts[1])
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return m.matches(token)
	}
	return false
}

func (m *Middleware) matches(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) == 1
}

// IsEnabled returns true if authentication is configured
func (m *Middleware) IsEnabled() bool {
	return m.token != ""
}
