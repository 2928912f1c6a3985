// SPDX-License-Identifier: MIT

// Package api exposes the recommendation service over HTTP: a fetch
// endpoint driving the orchestrator, operational status, history
// control, and the usual probe and metrics endpoints.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cratedig/cratedig/internal/api/middleware"
	"github.com/cratedig/cratedig/internal/audit"
	"github.com/cratedig/cratedig/internal/config"
	"github.com/cratedig/cratedig/internal/health"
	"github.com/cratedig/cratedig/internal/history"
	"github.com/cratedig/cratedig/internal/ratelimit"
	"github.com/cratedig/cratedig/internal/rec"
)

// Fetcher runs one orchestrated recommendation fetch.
// *suggest.Orchestrator implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req rec.Request) ([]rec.Recommendation, error)
}

// Options carry the server dependencies.
type Options struct {
	Config  config.Config
	Fetcher Fetcher
	Monitor *health.Monitor
	Limiter *ratelimit.Limiter
	History *history.Service
	Health  *health.Manager
	Version string
}

// Server is the HTTP API server.
type Server struct {
	mu      sync.RWMutex
	cfg     config.Config
	fetcher Fetcher
	monitor *health.Monitor
	limiter *ratelimit.Limiter
	history *history.Service
	health  *health.Manager
	audit   *audit.Logger

	version   string
	startTime time.Time
}

// New creates the API server. Health manager defaults to an empty one
// so the probe endpoints always work.
func New(opts Options) *Server {
	hm := opts.Health
	if hm == nil {
		hm = health.NewManager(opts.Version)
	}
	return &Server{
		cfg:       opts.Config,
		fetcher:   opts.Fetcher,
		monitor:   opts.Monitor,
		limiter:   opts.Limiter,
		history:   opts.History,
		health:    hm,
		audit:     audit.NewLogger(),
		version:   opts.Version,
		startTime: time.Now(),
	}
}

// HealthManager exposes the probe manager for checker registration.
func (s *Server) HealthManager() *health.Manager {
	return s.health
}

// ApplyConfig swaps the request-time configuration after a reload.
// Listen address changes still require a restart.
func (s *Server) ApplyConfig(cfg config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// config returns the current configuration snapshot.
func (s *Server) config() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Handler builds the router with the shared middleware stack.
func (s *Server) Handler() http.Handler {
	tracing := ""
	if mode := s.config().Telemetry.Mode; mode != "" && mode != "disabled" {
		tracing = "cratedig-api"
	}

	r := middleware.NewRouter(middleware.StackConfig{
		TracingService: tracing,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Rate limiting sits in front of auth so credential guessing is
	// throttled like everything else.
	onLimit := func(req *http.Request) {
		s.audit.RateLimited(req.Context(), req.RemoteAddr, req.URL.Path)
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIRateLimit(onLimit))
		r.Use(s.requireAuth)
		r.With(middleware.FetchRateLimit(onLimit)).Post("/recommendations", s.handleRecommendations)
		r.Get("/status", s.handleStatus)
		r.Post("/history/clear", s.handleHistoryClear)
	})

	return r
}
