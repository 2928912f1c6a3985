// SPDX-License-Identifier: MIT

// Package middleware provides the HTTP ingress middleware stack for the
// API server.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/cratedig/cratedig/internal/log"
)

// RequestIDHeader is the canonical request id header, honored inbound and
// always set on the response.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns every request an id, stores it in the context, and
// injects a request-scoped logger carrying it so downstream handlers log
// with correlation for free.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := log.ContextWithRequestID(r.Context(), id)
		logger := log.Base().With().Str(log.FieldRequestID, id).Logger()
		ctx = logger.WithContext(ctx)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Recoverer converts panics into 500 responses instead of tearing down
// the connection, logging the stack for diagnosis.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.FromContext(r.Context()).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("path", r.URL.Path).
					Msg("panic recovered in http handler")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
