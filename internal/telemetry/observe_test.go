// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func collectMetricNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]bool {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	names := make(map[string]bool)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestEmitFetchObsRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	defer otel.SetMeterProvider(noop.NewMeterProvider())

	EmitFetchObs(context.Background(), FetchObservation{
		Backend:    "ollama",
		Mode:       "album",
		Discovery:  "similar",
		Tier:       "balanced",
		Target:     10,
		Received:   12,
		Unique:     9,
		Rejected:   3,
		Iterations: 2,
		ElapsedMS:  1500,
	})

	names := collectMetricNames(t, reader)
	for _, want := range []string{
		"cratedig_fetch_total",
		"cratedig_fetch_suggestions",
		"cratedig_fetch_duration_ms",
	} {
		if !names[want] {
			t.Errorf("metric %s not recorded, have %v", want, names)
		}
	}
	if names["cratedig_fetch_empty_total"] {
		t.Error("empty counter must not fire for a non-empty fetch")
	}
}

func TestEmitFetchObsCountsEmptyFetches(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	defer otel.SetMeterProvider(noop.NewMeterProvider())

	EmitFetchObs(context.Background(), FetchObservation{
		Backend:   "ollama",
		Mode:      "album",
		Discovery: "similar",
		Tier:      "balanced",
		Target:    10,
		Reason:    "unhealthy",
	})

	names := collectMetricNames(t, reader)
	if !names["cratedig_fetch_empty_total"] {
		t.Errorf("empty counter missing, have %v", names)
	}
}

func TestEmitFetchObsAnnotatesSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(noop.NewMeterProvider())
	defer otel.SetTracerProvider(tracenoop.NewTracerProvider())

	ctx, span := tp.Tracer("test").Start(context.Background(), "fetch")
	EmitFetchObs(ctx, FetchObservation{
		Backend:   "ollama",
		Mode:      "album",
		Discovery: "similar",
		Tier:      "balanced",
		Target:    5,
		Received:  5,
		Unique:    5,
	})
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}

	attrs := make(map[string]any)
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs[FetchBackendKey] != "ollama" {
		t.Errorf("%s = %v, want ollama", FetchBackendKey, attrs[FetchBackendKey])
	}
	if got, ok := attrs[OutcomeUniqueKey].(int64); !ok || got != 5 {
		t.Errorf("%s = %v, want 5", OutcomeUniqueKey, attrs[OutcomeUniqueKey])
	}
	if _, ok := attrs[OutcomeReasonKey]; ok {
		t.Error("reason attribute must be omitted for non-empty fetches")
	}
}

func TestEmitGenerationObsRecordsTokens(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	defer otel.SetMeterProvider(noop.NewMeterProvider())

	EmitGenerationObs(context.Background(), "ollama", "llama3.2", 900, 250, 2400)

	names := collectMetricNames(t, reader)
	if !names["cratedig_gen_tokens_total"] {
		t.Errorf("token counter missing, have %v", names)
	}
}
