// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Prompt planning metrics
	promptActualTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cratedig_prompt_actual_tokens",
		Help:    "Estimated token count of rendered prompts",
		Buckets: []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
	})

	promptCompressionRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cratedig_prompt_compression_ratio",
		Help:    "Ratio of final to initial prompt tokens after compression",
		Buckets: []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1.0},
	})

	planCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cratedig_prompt_plan_cache_total",
		Help: "Prompt plan cache lookups by outcome",
	}, []string{"outcome"}) // outcome=hit|miss

	// Rate limiter metrics
	rateRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cratedig_rate_rejected_total",
		Help: "Requests rejected by the per-resource rate limiter",
	}, []string{"resource"})

	rateQueued = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cratedig_rate_queued",
		Help: "Requests currently queued per rate limited resource",
	}, []string{"resource"})

	// Backend health metrics
	healthConsecutiveFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cratedig_health_consecutive_failures",
		Help: "Consecutive failures recorded per backend",
	}, []string{"backend"})

	healthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cratedig_health_status",
		Help: "Derived backend status (0=unknown 1=healthy 2=degraded 3=unhealthy)",
	}, []string{"backend"})

	// Fetch pipeline metrics
	fetchElapsedMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cratedig_fetch_elapsed_ms",
		Help:    "Wall time of orchestrated recommendation fetches in milliseconds",
		Buckets: []float64{100, 500, 1000, 5000, 15000, 30000, 60000, 120000},
	})

	fetchEmptyReason = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cratedig_fetch_empty_reason_total",
		Help: "Fetches that returned no suggestions, by reason",
	}, []string{"reason"}) // reason=unhealthy|rate_limited|parse_empty|cancelled|deadline|backend_error

	fetchSuggestions = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cratedig_fetch_suggestions",
		Help:    "Unique suggestions returned per fetch",
		Buckets: []float64{0, 1, 5, 10, 20, 30, 50},
	})

	// Backend invocation metrics
	backendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cratedig_backend_requests_total",
		Help: "Backend invocations by backend and outcome",
	}, []string{"backend", "outcome"}) // outcome=success|transient|auth|bad_request|parse_empty|cancelled|deadline

	// Operational metrics
	configValidationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cratedig_config_validation_errors_total",
		Help: "Total number of configuration validation errors",
	})

	historySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cratedig_history_size",
		Help: "Entries currently retained in the suggestion history",
	})
)

func ObservePromptTokens(n int)          { promptActualTokens.Observe(float64(n)) }
func ObserveCompressionRatio(r float64)  { promptCompressionRatio.Observe(r) }
func IncPlanCache(outcome string)        { planCacheTotal.WithLabelValues(outcome).Inc() }
func IncRateRejected(resource string)    { rateRejectedTotal.WithLabelValues(resource).Inc() }
func SetRateQueued(resource string, n int) {
	rateQueued.WithLabelValues(resource).Set(float64(n))
}

func SetConsecutiveFailures(backend string, n int) {
	healthConsecutiveFailures.WithLabelValues(backend).Set(float64(n))
}

func SetHealthStatus(backend string, code int) {
	healthStatus.WithLabelValues(backend).Set(float64(code))
}

func ObserveFetchElapsed(ms float64)  { fetchElapsedMS.Observe(ms) }
func IncFetchEmpty(reason string)     { fetchEmptyReason.WithLabelValues(reason).Inc() }
func ObserveFetchSuggestions(n int)   { fetchSuggestions.Observe(float64(n)) }
func IncBackendRequest(backend, outcome string) {
	backendRequestsTotal.WithLabelValues(backend, outcome).Inc()
}

func IncConfigValidationError() { configValidationErrors.Inc() }
func SetHistorySize(n int)      { historySize.Set(float64(n)) }
