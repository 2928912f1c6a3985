// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"
	HTTPUserAgentKey  = "http.user_agent"

	// Fetch attributes
	FetchBackendKey   = "fetch.backend"
	FetchModeKey      = "fetch.mode"
	FetchDiscoveryKey = "fetch.discovery"
	FetchTierKey      = "fetch.tier"
	FetchTargetKey    = "fetch.target"

	// Generation attributes
	GenBackendKey      = "gen.backend"
	GenModelKey        = "gen.model"
	GenInputTokensKey  = "gen.input_tokens"
	GenOutputTokensKey = "gen.output_tokens"
	GenDurationKey     = "gen.duration_ms"

	// Outcome attributes
	OutcomeReceivedKey   = "outcome.received"
	OutcomeUniqueKey     = "outcome.unique"
	OutcomeRejectedKey   = "outcome.rejected"
	OutcomeIterationsKey = "outcome.iterations"
	OutcomeReasonKey     = "outcome.reason"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// FetchAttributes creates span attributes describing one recommendation
// fetch request.
func FetchAttributes(backend, mode, discovery, tier string, target int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(FetchBackendKey, backend),
		attribute.String(FetchModeKey, mode),
		attribute.String(FetchDiscoveryKey, discovery),
		attribute.String(FetchTierKey, tier),
		attribute.Int(FetchTargetKey, target),
	}
}

// GenerationAttributes creates span attributes for one backend invocation.
func GenerationAttributes(backend, model string, inputTokens, outputTokens int, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(GenBackendKey, backend),
		attribute.String(GenModelKey, model),
		attribute.Int(GenInputTokensKey, inputTokens),
		attribute.Int(GenOutputTokensKey, outputTokens),
		attribute.Int64(GenDurationKey, durationMS),
	}
}

// OutcomeAttributes creates span attributes for a finished fetch. The
// reason attribute is only set when the fetch ended empty.
func OutcomeAttributes(received, unique, rejected, iterations int, reason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(OutcomeReceivedKey, received),
		attribute.Int(OutcomeUniqueKey, unique),
		attribute.Int(OutcomeRejectedKey, rejected),
		attribute.Int(OutcomeIterationsKey, iterations),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String(OutcomeReasonKey, reason))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
