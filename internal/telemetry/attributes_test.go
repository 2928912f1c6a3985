// SPDX-License-Identifier: MIT

package telemetry

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("POST", "/api/v1/recommendations", "http://localhost:8080/api/v1/recommendations", 200)

	if len(attrs) != 4 {
		t.Fatalf("Expected 4 attributes, got %d", len(attrs))
	}
	verifyAttribute(t, attrs, HTTPMethodKey, "POST")
	verifyAttribute(t, attrs, HTTPRouteKey, "/api/v1/recommendations")
	verifyAttribute(t, attrs, HTTPURLKey, "http://localhost:8080/api/v1/recommendations")
	verifyIntAttribute(t, attrs, HTTPStatusCodeKey, 200)
}

func TestFetchAttributes(t *testing.T) {
	attrs := FetchAttributes("ollama", "album", "similar", "balanced", 10)

	if len(attrs) != 5 {
		t.Fatalf("Expected 5 attributes, got %d", len(attrs))
	}
	verifyAttribute(t, attrs, FetchBackendKey, "ollama")
	verifyAttribute(t, attrs, FetchModeKey, "album")
	verifyAttribute(t, attrs, FetchDiscoveryKey, "similar")
	verifyAttribute(t, attrs, FetchTierKey, "balanced")
	verifyIntAttribute(t, attrs, FetchTargetKey, 10)
}

func TestGenerationAttributes(t *testing.T) {
	attrs := GenerationAttributes("anthropic", "claude-sonnet-4", 1200, 400, 2500)

	if len(attrs) != 5 {
		t.Fatalf("Expected 5 attributes, got %d", len(attrs))
	}
	verifyAttribute(t, attrs, GenBackendKey, "anthropic")
	verifyAttribute(t, attrs, GenModelKey, "claude-sonnet-4")
	verifyIntAttribute(t, attrs, GenInputTokensKey, 1200)
	verifyIntAttribute(t, attrs, GenOutputTokensKey, 400)
	verifyInt64Attribute(t, attrs, GenDurationKey, 2500)
}

func TestOutcomeAttributes(t *testing.T) {
	tests := []struct {
		name    string
		reason  string
		wantLen int
	}{
		{name: "with reason", reason: "exhausted", wantLen: 5},
		{name: "without reason", reason: "", wantLen: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := OutcomeAttributes(16, 8, 7, 2, tt.reason)

			if len(attrs) != tt.wantLen {
				t.Fatalf("Expected %d attributes, got %d", tt.wantLen, len(attrs))
			}
			verifyIntAttribute(t, attrs, OutcomeReceivedKey, 16)
			verifyIntAttribute(t, attrs, OutcomeUniqueKey, 8)
			verifyIntAttribute(t, attrs, OutcomeRejectedKey, 7)
			verifyIntAttribute(t, attrs, OutcomeIterationsKey, 2)
			if tt.reason != "" {
				verifyAttribute(t, attrs, OutcomeReasonKey, tt.reason)
			}
		})
	}
}

func TestErrorAttributes(t *testing.T) {
	err := errors.New("test error")
	attrs := ErrorAttributes(err, "backend_error")

	if len(attrs) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(attrs))
	}
	verifyBoolAttribute(t, attrs, ErrorKey, true)
	verifyAttribute(t, attrs, ErrorTypeKey, "backend_error")
}

func TestAttributeKeysNonEmpty(t *testing.T) {
	keys := []string{
		HTTPMethodKey,
		HTTPStatusCodeKey,
		HTTPRouteKey,
		FetchBackendKey,
		GenModelKey,
		OutcomeReasonKey,
		ErrorKey,
	}
	for _, key := range keys {
		if key == "" {
			t.Errorf("Expected non-empty attribute key")
		}
	}
}

func verifyAttribute(t *testing.T, attrs []attribute.KeyValue, key, expectedValue string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsString() != expectedValue {
				t.Errorf("Expected %s=%s, got %s", key, expectedValue, attr.Value.AsString())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyIntAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != int64(expectedValue) {
				t.Errorf("Expected %s=%d, got %d", key, expectedValue, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyInt64Attribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue int64) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsInt64() != expectedValue {
				t.Errorf("Expected %s=%d, got %d", key, expectedValue, attr.Value.AsInt64())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyBoolAttribute(t *testing.T, attrs []attribute.KeyValue, key string, expectedValue bool) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			if attr.Value.AsBool() != expectedValue {
				t.Errorf("Expected %s=%v, got %v", key, expectedValue, attr.Value.AsBool())
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}
