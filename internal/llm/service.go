// SPDX-License-Identifier: MIT

package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cratedig/cratedig/internal/health"
	"github.com/cratedig/cratedig/internal/log"
	"github.com/cratedig/cratedig/internal/metrics"
	"github.com/cratedig/cratedig/internal/resilience"
)

// ServiceOptions wires the cross-cutting concerns around a backend.
type ServiceOptions struct {
	Monitor *health.Monitor
	Sink    metrics.Sink
	Retry   resilience.Policy

	// CredentialHash identifies the configured credential in operator
	// warnings without revealing it. Empty for credential-less backends.
	CredentialHash string
}

// Service decorates a Generator with retries, health accounting and
// request metrics. Configuration reloads build a fresh Service, which
// re-arms the one-shot auth warning for the new credential.
type Service struct {
	gen      Generator
	monitor  *health.Monitor
	sink     metrics.Sink
	retry    resilience.Policy
	credHash string

	logger   zerolog.Logger
	authWarn sync.Once
}

func NewService(gen Generator, opts ServiceOptions) *Service {
	sink := opts.Sink
	if sink == nil {
		sink = metrics.Nop()
	}
	return &Service{
		gen:      gen,
		monitor:  opts.Monitor,
		sink:     sink,
		retry:    opts.Retry,
		credHash: opts.CredentialHash,
		logger:   log.WithComponent("llm").With().Str(log.FieldBackend, gen.Name()).Logger(),
	}
}

func (s *Service) Name() string { return s.gen.Name() }

func (s *Service) Capability() Capability { return s.gen.Capability() }

func (s *Service) Model() ModelSpec { return s.gen.Model() }

func (s *Service) UpdateModel(id string) { s.gen.UpdateModel(id) }

// Probe delegates without touching the health record; Monitor.Check
// owns probe accounting.
func (s *Service) Probe(ctx context.Context) error { return s.gen.Probe(ctx) }

// Invoke runs the generation with transient retries. Every completed
// call lands in the health record and the request counter; caller
// cancellation is the one outcome that is nobody's fault.
func (s *Service) Invoke(ctx context.Context, p Prompt) (Result, error) {
	start := time.Now()
	var res Result
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var invokeErr error
		res, invokeErr = s.gen.Invoke(ctx, p)
		return invokeErr
	}, func(err error) bool {
		return errors.Is(err, ErrTransient)
	})
	elapsed := time.Since(start)

	s.sink.Count(metrics.SeriesBackendRequests, 1, metrics.Tags{
		"backend": s.gen.Name(),
		"outcome": outcomeLabel(err),
	})
	s.record(elapsed, err)
	if err != nil {
		s.warnOnAuth(err)
		return Result{}, err
	}
	return res, nil
}

func (s *Service) record(elapsed time.Duration, err error) {
	if s.monitor == nil {
		return
	}
	switch {
	case err == nil:
		s.monitor.RecordSuccess(s.gen.Name(), elapsed)
	case errors.Is(err, context.Canceled):
		// Not a backend signal.
	default:
		s.monitor.RecordFailure(s.gen.Name(), err.Error())
	}
}

// warnOnAuth surfaces a credential problem once per Service lifetime.
// Auth errors repeat identically until an operator fixes the config,
// so one warning per credential is the right volume.
func (s *Service) warnOnAuth(err error) {
	if !errors.Is(err, ErrAuth) {
		return
	}
	s.authWarn.Do(func() {
		s.logger.Warn().
			Str("event", "backend.auth_failed").
			Str("credential_hash", s.credHash).
			Msg("backend rejected the configured credential; check the key and its permissions")
	})
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "error"
	}
}
