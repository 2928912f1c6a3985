// SPDX-License-Identifier: MIT

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// extractToken reads the bearer token from the Authorization header.
func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// authorizeToken compares tokens in constant time. Empty inputs never
// authorize.
func authorizeToken(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// requireAuth enforces the static API token on the /api/v1 routes. An
// empty configured token disables authentication entirely.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.config().APIToken
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		got := extractToken(r)
		if got == "" {
			s.audit.AuthMissing(r.Context(), r.RemoteAddr, r.URL.Path)
			writeUnauthorized(w)
			return
		}

		if !authorizeToken(got, token) {
			s.audit.AuthFailure(r.Context(), r.RemoteAddr, r.URL.Path)
			writeUnauthorized(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}
