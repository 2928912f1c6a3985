// SPDX-License-Identifier: MIT

package middleware

import (
	"github.com/go-chi/chi/v5"
)

// StackConfig selects which middlewares the router applies.
type StackConfig struct {
	// TracingService enables OpenTelemetry spans when non-empty.
	TracingService string
	// DisableRateLimit turns off the default per-IP limiter.
	DisableRateLimit bool
}

// NewRouter builds a chi router with the standard middleware stack.
func NewRouter(cfg StackConfig) chi.Router {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack installs the shared middleware chain in a fixed order:
// recovery, request IDs, metrics, tracing, access log, rate limiting.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(Metrics)
	if cfg.TracingService != "" {
		r.Use(OTelHTTP(cfg.TracingService))
	}
	r.Use(AccessLog())
	if !cfg.DisableRateLimit {
		r.Use(APIRateLimit(nil))
	}
}
