// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// meterName is the instrumentation scope for fetch metrics.
const meterName = "cratedig.fetch"

// FetchObservation carries the outcome of one orchestrated fetch.
type FetchObservation struct {
	Backend    string
	Mode       string
	Discovery  string
	Tier       string
	Target     int
	Received   int
	Unique     int
	Rejected   int
	Iterations int
	Reason     string
	ElapsedMS  int64
}

// EmitFetchObs annotates the current span and records fetch metrics.
// Providers are looked up at call time, so swapped globals take effect
// without rewiring callers.
func EmitFetchObs(ctx context.Context, obs FetchObservation) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(FetchAttributes(obs.Backend, obs.Mode, obs.Discovery, obs.Tier, obs.Target)...)
	span.SetAttributes(OutcomeAttributes(obs.Received, obs.Unique, obs.Rejected, obs.Iterations, obs.Reason)...)

	meter := otel.GetMeterProvider().Meter(meterName)
	attrs := metric.WithAttributes(
		attribute.String("backend", obs.Backend),
		attribute.String("mode", obs.Mode),
	)

	fetchTotal, _ := meter.Int64Counter("cratedig_fetch_total",
		metric.WithDescription("Total orchestrated fetches"))
	fetchTotal.Add(ctx, 1, attrs)

	suggestions, _ := meter.Int64Histogram("cratedig_fetch_suggestions",
		metric.WithDescription("Unique suggestions returned per fetch"))
	suggestions.Record(ctx, int64(obs.Unique), attrs)

	elapsed, _ := meter.Int64Histogram("cratedig_fetch_duration_ms",
		metric.WithDescription("Fetch wall time"),
		metric.WithUnit("ms"))
	elapsed.Record(ctx, obs.ElapsedMS, attrs)

	if obs.Unique == 0 && obs.Reason != "" {
		emptyTotal, _ := meter.Int64Counter("cratedig_fetch_empty_total",
			metric.WithDescription("Fetches that returned no suggestions"))
		emptyTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", obs.Reason)))
	}
}

// EmitGenerationObs annotates the current span with one backend
// invocation's token usage and latency.
func EmitGenerationObs(ctx context.Context, backend, model string, inputTokens, outputTokens int, durationMS int64) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(GenerationAttributes(backend, model, inputTokens, outputTokens, durationMS)...)

	meter := otel.GetMeterProvider().Meter(meterName)
	tokens, _ := meter.Int64Counter("cratedig_gen_tokens_total",
		metric.WithDescription("Prompt and completion tokens consumed"))
	tokens.Add(ctx, int64(inputTokens), metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("model", model),
		attribute.String("kind", "input"),
	))
	tokens.Add(ctx, int64(outputTokens), metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("model", model),
		attribute.String("kind", "output"),
	))
}
