// SPDX-License-Identifier: MIT

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cratedig/cratedig/internal/log"
)

func captureLogger() (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &Logger{logger: zerolog.New(buf)}, buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode audit line %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogFillsTimestamp(t *testing.T) {
	logger, buf := captureLogger()

	logger.Log(Event{
		Type:     EventConfigReload,
		Actor:    "system",
		Action:   "reloaded configuration",
		Resource: "config",
		Result:   "success",
	})

	entry := decodeLine(t, buf)
	if entry["timestamp"] == nil {
		t.Error("timestamp not filled")
	}
	if entry["event_type"] != "config.reload" {
		t.Errorf("event_type = %v, want config.reload", entry["event_type"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info for success", entry["level"])
	}
}

func TestDeniedEventsLogAtWarn(t *testing.T) {
	logger, buf := captureLogger()

	logger.AuthMissing(context.Background(), "10.0.0.7:51332", "/api/v1/recommendations")

	entry := decodeLine(t, buf)
	if entry["level"] != "warn" {
		t.Errorf("level = %v, want warn for denied", entry["level"])
	}
	if entry["event_type"] != "auth.missing" {
		t.Errorf("event_type = %v, want auth.missing", entry["event_type"])
	}
	if entry["actor"] != "10.0.0.7:51332" || entry["remote_addr"] != "10.0.0.7:51332" {
		t.Errorf("actor/remote_addr = %v/%v, want client address", entry["actor"], entry["remote_addr"])
	}
	if entry["resource"] != "/api/v1/recommendations" {
		t.Errorf("resource = %v, want endpoint path", entry["resource"])
	}
}

func TestLogFromContextFillsRequestID(t *testing.T) {
	logger, buf := captureLogger()
	ctx := log.ContextWithCorrelationID(context.Background(), "req-123")

	logger.FetchError(ctx, "ollama", "connection refused")

	entry := decodeLine(t, buf)
	if entry["request_id"] != "req-123" {
		t.Errorf("request_id = %v, want req-123", entry["request_id"])
	}
	if entry["level"] != "warn" {
		t.Errorf("level = %v, want warn for failure", entry["level"])
	}
	if entry["error"] != "connection refused" {
		t.Errorf("error = %v, want reason detail", entry["error"])
	}
}

func TestFetchCompleteCarriesCounts(t *testing.T) {
	logger, buf := captureLogger()

	logger.FetchComplete(context.Background(), "anthropic", 12, 4321)

	entry := decodeLine(t, buf)
	if entry["event_type"] != "fetch.success" {
		t.Errorf("event_type = %v, want fetch.success", entry["event_type"])
	}
	if entry["resource"] != "anthropic" {
		t.Errorf("resource = %v, want backend name", entry["resource"])
	}
	if entry["suggestions"] != "12" || entry["duration_ms"] != "4321" {
		t.Errorf("details = %v/%v, want 12/4321", entry["suggestions"], entry["duration_ms"])
	}
}

func TestConfigReloadFailureSwitchesType(t *testing.T) {
	logger, buf := captureLogger()

	logger.ConfigReload("system", "failure", map[string]string{"error": "yaml: line 3"})

	entry := decodeLine(t, buf)
	if entry["event_type"] != "config.reload.error" {
		t.Errorf("event_type = %v, want config.reload.error", entry["event_type"])
	}
	if entry["level"] != "warn" {
		t.Errorf("level = %v, want warn", entry["level"])
	}
}
