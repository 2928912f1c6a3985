// SPDX-License-Identifier: MIT
package metrics

// Tags carries metric dimensions as plain key/value pairs.
type Tags map[string]string

// Sink is the narrow surface core components emit metrics through. Injecting
// it keeps the orchestration packages free of prometheus types and lets
// tests assert emissions without a registry.
type Sink interface {
	Count(name string, value float64, tags Tags)
	Gauge(name string, value float64, tags Tags)
	Observe(name string, value float64, tags Tags)
}

// Series names accepted by the prometheus sink. Unknown names are dropped.
const (
	SeriesPromptActualTokens     = "prompt.actual_tokens"
	SeriesPromptCompressionRatio = "prompt.compression_ratio"
	SeriesPlanCacheHit           = "prompt.plan_cache_hit"
	SeriesRateRejected           = "rate.rejected"
	SeriesRateQueued             = "rate.queued"
	SeriesConsecutiveFailures    = "health.consecutive_failures"
	SeriesHealthStatus           = "health.status"
	SeriesFetchElapsedMS         = "fetch.elapsed_ms"
	SeriesFetchEmptyReason       = "fetch.empty_reason"
	SeriesFetchSuggestions       = "fetch.suggestions"
	SeriesBackendRequests        = "backend.requests"
	SeriesHistorySize            = "history.size"
)

type promSink struct{}

// NewPromSink returns a Sink backed by the package prometheus collectors.
func NewPromSink() Sink { return promSink{} }

func (promSink) Count(name string, value float64, tags Tags) {
	switch name {
	case SeriesPlanCacheHit:
		planCacheTotal.WithLabelValues(tags["outcome"]).Add(value)
	case SeriesRateRejected:
		rateRejectedTotal.WithLabelValues(tags["resource"]).Add(value)
	case SeriesFetchEmptyReason:
		fetchEmptyReason.WithLabelValues(tags["reason"]).Add(value)
	case SeriesBackendRequests:
		backendRequestsTotal.WithLabelValues(tags["backend"], tags["outcome"]).Add(value)
	}
}

func (promSink) Gauge(name string, value float64, tags Tags) {
	switch name {
	case SeriesRateQueued:
		rateQueued.WithLabelValues(tags["resource"]).Set(value)
	case SeriesConsecutiveFailures:
		healthConsecutiveFailures.WithLabelValues(tags["backend"]).Set(value)
	case SeriesHealthStatus:
		healthStatus.WithLabelValues(tags["backend"]).Set(value)
	case SeriesHistorySize:
		historySize.Set(value)
	}
}

func (promSink) Observe(name string, value float64, tags Tags) {
	switch name {
	case SeriesPromptActualTokens:
		promptActualTokens.Observe(value)
	case SeriesPromptCompressionRatio:
		promptCompressionRatio.Observe(value)
	case SeriesFetchElapsedMS:
		fetchElapsedMS.Observe(value)
	case SeriesFetchSuggestions:
		fetchSuggestions.Observe(value)
	}
}

type nopSink struct{}

// Nop returns a Sink that discards every emission. Tests and disabled
// telemetry paths use it so components never nil-check their sink.
func Nop() Sink { return nopSink{} }

func (nopSink) Count(string, float64, Tags)   {}
func (nopSink) Gauge(string, float64, Tags)   {}
func (nopSink) Observe(string, float64, Tags) {}
