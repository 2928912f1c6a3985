// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cratedig/cratedig/internal/health"
	"github.com/cratedig/cratedig/internal/llm"
	"github.com/cratedig/cratedig/internal/log"
	"github.com/cratedig/cratedig/internal/ratelimit"
	"github.com/cratedig/cratedig/internal/rec"
)

// maxRequestBody bounds the recommendation request payload.
const maxRequestBody = 64 << 10

// recommendationRequest is the fetch request body. Every field is
// optional; omitted fields fall back to the configured defaults.
type recommendationRequest struct {
	Backend   string   `json:"backend"`
	Model     string   `json:"model"`
	Count     int      `json:"count"`
	Mode      string   `json:"mode"`
	Discovery string   `json:"discovery"`
	Tier      string   `json:"tier"`
	Styles    []string `json:"styles"`
}

type recommendationResponse struct {
	Items         []rec.Recommendation `json:"items"`
	ElapsedMS     int64                `json:"elapsed_ms"`
	CorrelationID string               `json:"correlation_id"`
}

// handleRecommendations fills defaults, runs one orchestrated fetch, and
// returns the suggestions. An unhealthy backend yields an empty item list,
// not an error.
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var body recommendationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}

	req, err := s.buildRequest(body)
	if err != nil {
		writeError(w, err)
		return
	}

	correlationID := log.NewCorrelationID()
	ctx := log.ContextWithCorrelationID(r.Context(), correlationID)

	start := time.Now()
	items, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			writeGatewayTimeout(w)
		case errors.Is(err, llm.ErrUnknownBackend):
			writeError(w, err)
		default:
			logger.Error().Err(err).
				Str("event", "api.fetch_failed").
				Str(log.FieldBackend, req.BackendID).
				Str(log.FieldCorrelationID, correlationID).
				Msg("recommendation fetch failed")
			writeServerError(w, err)
		}
		return
	}
	if items == nil {
		items = []rec.Recommendation{}
	}

	writeJSON(w, http.StatusOK, recommendationResponse{
		Items:         items,
		ElapsedMS:     time.Since(start).Milliseconds(),
		CorrelationID: correlationID,
	})
}

// buildRequest merges the body with the configured defaults and parses
// the enums.
func (s *Server) buildRequest(body recommendationRequest) (rec.Request, error) {
	defs := s.config().Defaults

	backend := body.Backend
	if backend == "" {
		backend = defs.Backend
	}
	model := body.Model
	if model == "" {
		model = defs.Model
	}
	count := body.Count
	if count == 0 {
		count = defs.TargetCount
	}

	modeStr := body.Mode
	if modeStr == "" {
		modeStr = defs.Mode
	}
	mode, err := rec.ParseMode(modeStr)
	if err != nil {
		return rec.Request{}, err
	}

	discoveryStr := body.Discovery
	if discoveryStr == "" {
		discoveryStr = defs.Discovery
	}
	discovery, err := rec.ParseDiscoveryMode(discoveryStr)
	if err != nil {
		return rec.Request{}, err
	}

	tierStr := body.Tier
	if tierStr == "" {
		tierStr = defs.Tier
	}
	tier, err := rec.ParseSamplingTier(tierStr)
	if err != nil {
		return rec.Request{}, err
	}

	styles := body.Styles
	if styles == nil {
		styles = defs.StyleFilters
	}

	req := rec.Request{
		BackendID:    backend,
		ModelID:      model,
		TargetCount:  count,
		Mode:         mode,
		Discovery:    discovery,
		Tier:         tier,
		StyleFilters: styles,
	}
	return req, req.Validate()
}

type backendStatusPayload struct {
	Status health.Status `json:"status"`
	Record health.Record `json:"record"`
}

type statusResponse struct {
	Version       string                          `json:"version"`
	UptimeSeconds int64                           `json:"uptime_seconds"`
	Backends      map[string]backendStatusPayload `json:"backends"`
	RateLimits    map[string]ratelimit.Stats      `json:"rate_limits"`
	HistorySize   int                             `json:"history_size"`
	Timestamp     time.Time                       `json:"timestamp"`
}

// handleStatus reports per-backend health, limiter stats, and the size
// of the suggestion history.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.config()

	backends := make(map[string]backendStatusPayload, len(cfg.Backends))
	for _, b := range cfg.Backends {
		backends[b.Name] = backendStatusPayload{
			Status: s.monitor.Status(b.Name),
			Record: s.monitor.Snapshot(b.Name),
		}
	}

	limits := make(map[string]ratelimit.Stats)
	for _, resource := range s.limiter.Resources() {
		limits[resource] = s.limiter.Stats(resource)
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Backends:      backends,
		RateLimits:    limits,
		HistorySize:   s.history.Size(),
		Timestamp:     time.Now().UTC(),
	})
}

// handleHistoryClear drops all remembered suggestions.
func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	size := s.history.Size()
	s.history.Clear()

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "history.cleared").
		Int("entries", size).
		Msg("suggestion history cleared")

	writeJSON(w, http.StatusOK, map[string]int{"cleared": size})
}
