// SPDX-License-Identifier: MIT

// Package audit writes a structured trail of security-relevant operations:
// who did what, to which resource, with what outcome. Events share the
// zerolog pipeline but carry log_type=audit so downstream collectors can
// split them from operational logs.
package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cratedig/cratedig/internal/log"
)

// EventType identifies the kind of audited operation.
type EventType string

const (
	EventConfigReload      EventType = "config.reload"
	EventConfigReloadError EventType = "config.reload.error"

	EventFetchSuccess EventType = "fetch.success"
	EventFetchError   EventType = "fetch.error"

	EventAuthFailure EventType = "auth.failure"
	EventAuthMissing EventType = "auth.missing"

	EventRateLimited EventType = "api.ratelimit"
)

// Event is one audit record. Actor answers WHO (client address or
// "system"), Action and Resource answer WHAT, Timestamp answers WHEN.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	Type       EventType         `json:"type"`
	Actor      string            `json:"actor"`
	Action     string            `json:"action"`
	Resource   string            `json:"resource"`
	Result     string            `json:"result"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// Logger emits audit events.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger returns a Logger on the shared pipeline.
func NewLogger() *Logger {
	return &Logger{
		logger: log.WithComponent("audit").With().
			Str("log_type", "audit").
			Logger(),
	}
}

// Log writes one event. A zero timestamp is filled with the current time.
// Non-success outcomes log at warn so they surface in level-filtered views.
func (l *Logger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e := l.logger.Info()
	if event.Result != "success" {
		e = l.logger.Warn()
	}
	e.Time("timestamp", event.Timestamp).
		Str("event_type", string(event.Type)).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("resource", event.Resource).
		Str("result", event.Result)
	if event.RemoteAddr != "" {
		e.Str("remote_addr", event.RemoteAddr)
	}
	if event.RequestID != "" {
		e.Str("request_id", event.RequestID)
	}
	for key, value := range event.Details {
		e.Str(key, value)
	}
	e.Msg("audit event")
}

// LogFromContext fills the request ID from the context's correlation ID
// before writing.
func (l *Logger) LogFromContext(ctx context.Context, event Event) {
	if event.RequestID == "" {
		event.RequestID = log.CorrelationIDFromContext(ctx)
	}
	l.Log(event)
}

// ConfigReload records a configuration reload outcome.
func (l *Logger) ConfigReload(actor, result string, details map[string]string) {
	typ := EventConfigReload
	if result != "success" {
		typ = EventConfigReloadError
	}
	l.Log(Event{
		Type:     typ,
		Actor:    actor,
		Action:   "reloaded configuration",
		Resource: "config",
		Result:   result,
		Details:  details,
	})
}

// FetchComplete records a finished recommendation fetch.
func (l *Logger) FetchComplete(ctx context.Context, backend string, count int, durationMS int64) {
	l.LogFromContext(ctx, Event{
		Type:     EventFetchSuccess,
		Actor:    "system",
		Action:   "completed recommendation fetch",
		Resource: backend,
		Result:   "success",
		Details: map[string]string{
			"suggestions": strconv.Itoa(count),
			"duration_ms": strconv.FormatInt(durationMS, 10),
		},
	})
}

// FetchError records a fetch that failed outright.
func (l *Logger) FetchError(ctx context.Context, backend, reason string) {
	l.LogFromContext(ctx, Event{
		Type:     EventFetchError,
		Actor:    "system",
		Action:   "recommendation fetch failed",
		Resource: backend,
		Result:   "failure",
		Details: map[string]string{
			"error": reason,
		},
	})
}

// AuthFailure records a request that presented a wrong credential.
func (l *Logger) AuthFailure(ctx context.Context, remoteAddr, endpoint string) {
	l.LogFromContext(ctx, Event{
		Type:       EventAuthFailure,
		Actor:      remoteAddr,
		Action:     "authentication failed",
		Resource:   endpoint,
		Result:     "denied",
		RemoteAddr: remoteAddr,
	})
}

// AuthMissing records a request without a credential.
func (l *Logger) AuthMissing(ctx context.Context, remoteAddr, endpoint string) {
	l.LogFromContext(ctx, Event{
		Type:       EventAuthMissing,
		Actor:      remoteAddr,
		Action:     "accessed endpoint without credentials",
		Resource:   endpoint,
		Result:     "denied",
		RemoteAddr: remoteAddr,
	})
}

// RateLimited records a throttled request.
func (l *Logger) RateLimited(ctx context.Context, remoteAddr, endpoint string) {
	l.LogFromContext(ctx, Event{
		Type:       EventRateLimited,
		Actor:      remoteAddr,
		Action:     "rate limit exceeded",
		Resource:   endpoint,
		Result:     "denied",
		RemoteAddr: remoteAddr,
	})
}
