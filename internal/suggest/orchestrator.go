// SPDX-License-Identifier: MIT

package suggest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cratedig/cratedig/internal/audit"
	"github.com/cratedig/cratedig/internal/catalog"
	"github.com/cratedig/cratedig/internal/health"
	"github.com/cratedig/cratedig/internal/history"
	"github.com/cratedig/cratedig/internal/llm"
	"github.com/cratedig/cratedig/internal/log"
	"github.com/cratedig/cratedig/internal/metrics"
	"github.com/cratedig/cratedig/internal/rec"
	"github.com/cratedig/cratedig/internal/telemetry"
)

// DefaultFetchTimeout bounds one whole fetch including every iteration.
const DefaultFetchTimeout = 120 * time.Second

// Orchestrator is the public entry for recommendation fetches. Concurrent
// fetches with the same operation key collapse into one execution whose
// result all callers share.
type Orchestrator struct {
	catalog  catalog.Catalog
	registry *llm.Registry
	monitor  *health.Monitor
	history  *history.Service
	strategy *Strategy
	sink     metrics.Sink
	logger   zerolog.Logger
	auditor  *audit.Logger
	timeout  time.Duration
	export   *Exporter

	lastMu    sync.Mutex
	lastFetch time.Time
	lastError string
}

type OrchestratorOptions struct {
	Catalog  catalog.Catalog
	Registry *llm.Registry
	Monitor  *health.Monitor
	History  *history.Service
	Strategy *Strategy
	Sink     metrics.Sink

	// Timeout bounds one fetch execution; zero means DefaultFetchTimeout.
	Timeout time.Duration

	// Exporter, when set, persists each non-empty result.
	Exporter *Exporter
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	sink := opts.Sink
	if sink == nil {
		sink = metrics.Nop()
	}
	return &Orchestrator{
		catalog:  opts.Catalog,
		registry: opts.Registry,
		monitor:  opts.Monitor,
		history:  opts.History,
		strategy: opts.Strategy,
		sink:     sink,
		logger:   log.WithComponent("orchestrator"),
		auditor:  audit.NewLogger(),
		timeout:  timeout,
		export:   opts.Exporter,
	}
}

type fetchResult struct {
	items        []rec.Recommendation
	inputTokens  int
	outputTokens int
}

// Fetch returns at most req.TargetCount suggestions absent from the
// library and not surfaced within the retention window. Backend failures
// surface as an empty list, not an error; only invalid requests and
// catalog access problems are returned as errors.
func (o *Orchestrator) Fetch(ctx context.Context, req rec.Request) ([]rec.Recommendation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	gen, err := o.registry.Get(req.BackendID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	items, err := o.run(ctx, req, gen)
	o.noteFetch(err)
	if err != nil {
		o.auditor.FetchError(ctx, req.BackendID, err.Error())
	} else {
		o.auditor.FetchComplete(ctx, req.BackendID, len(items), time.Since(start).Milliseconds())
	}
	return items, err
}

// LastFetch reports when the most recent fetch attempt finished and its
// error, empty on success. Request validation failures are not attempts.
func (o *Orchestrator) LastFetch() (time.Time, string) {
	o.lastMu.Lock()
	defer o.lastMu.Unlock()
	return o.lastFetch, o.lastError
}

func (o *Orchestrator) noteFetch(err error) {
	o.lastMu.Lock()
	defer o.lastMu.Unlock()
	o.lastFetch = time.Now()
	o.lastError = ""
	if err != nil {
		o.lastError = err.Error()
	}
}

func (o *Orchestrator) run(ctx context.Context, req rec.Request, gen llm.Generator) ([]rec.Recommendation, error) {
	if log.CorrelationIDFromContext(ctx) == "" {
		ctx = log.ContextWithCorrelationID(ctx, log.NewCorrelationID())
	}
	logger := log.WithContext(ctx, o.logger)

	artists, err := o.catalog.Artists(ctx)
	if err != nil {
		return nil, fmt.Errorf("load artists: %w", err)
	}
	albums, err := o.catalog.Albums(ctx)
	if err != nil {
		return nil, fmt.Errorf("load albums: %w", err)
	}

	// Fingerprint and profile derive from the loaded snapshot so the
	// operation key always matches the data the prompt was built from.
	snapshot := catalog.NewMemoryCatalog(artists, albums)
	fingerprint, err := snapshot.Fingerprint(ctx)
	if err != nil {
		return nil, fmt.Errorf("library fingerprint: %w", err)
	}
	profile, err := catalog.BuildProfile(ctx, snapshot)
	if err != nil {
		return nil, fmt.Errorf("library profile: %w", err)
	}

	opKey := req.OperationKey(fingerprint)
	logger.Info().
		Str(log.FieldEvent, "fetch.start").
		Str(log.FieldBackend, req.BackendID).
		Str(log.FieldModel, req.ModelID).
		Str(log.FieldMode, string(req.Mode)).
		Str(log.FieldOperationID, opKey).
		Int("target", req.TargetCount).
		Msg("recommendation fetch started")

	start := time.Now()
	v, shared, err := o.history.Run(ctx, opKey, func(runCtx context.Context) (any, error) {
		return o.execute(runCtx, req, Input{
			Spec:        req,
			Profile:     profile,
			Artists:     artists,
			Albums:      albums,
			Fingerprint: fingerprint,
			Generator:   gen,
		})
	})
	if err != nil {
		// Run fails only when this caller's context ends first.
		return nil, err
	}
	res := v.(fetchResult)

	logger.Info().
		Str(log.FieldEvent, "fetch.complete").
		Str(log.FieldBackend, req.BackendID).
		Str(log.FieldOperationID, opKey).
		Int(log.FieldCount, len(res.items)).
		Int64(log.FieldElapsedMS, time.Since(start).Milliseconds()).
		Int("input_tokens", res.inputTokens).
		Int("output_tokens", res.outputTokens).
		Bool("shared", shared).
		Msg("recommendation fetch finished")

	return res.items, nil
}

// execute is the single-flight body: health gate, iterative strategy under
// the fetch deadline, then history dedup and filtering.
func (o *Orchestrator) execute(ctx context.Context, req rec.Request, in Input) (fetchResult, error) {
	logger := log.WithContext(ctx, o.logger)

	if o.monitor.Status(req.BackendID) == health.StatusUnhealthy {
		o.sink.Count(metrics.SeriesFetchEmptyReason, 1, metrics.Tags{"reason": ReasonUnhealthy})
		telemetry.EmitFetchObs(ctx, telemetry.FetchObservation{
			Backend:   req.BackendID,
			Mode:      string(req.Mode),
			Discovery: string(req.Discovery),
			Tier:      string(req.Tier),
			Target:    req.TargetCount,
			Reason:    ReasonUnhealthy,
		})
		logger.Warn().
			Str(log.FieldEvent, "fetch.gated").
			Str(log.FieldBackend, req.BackendID).
			Msg("backend unhealthy, fetch skipped")
		return fetchResult{items: []rec.Recommendation{}}, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	outcome := o.strategy.Recommend(fetchCtx, in)

	deduped, inserted := o.history.Dedupe(req.Mode, outcome.Items)
	final := o.history.Filter(req.Mode, deduped, inserted)

	elapsedMS := time.Since(start).Milliseconds()
	o.sink.Observe(metrics.SeriesFetchElapsedMS, float64(elapsedMS), metrics.Tags{"backend": req.BackendID})
	o.sink.Observe(metrics.SeriesFetchSuggestions, float64(len(final)), metrics.Tags{"backend": req.BackendID})
	emptyReason := ""
	if len(final) == 0 {
		emptyReason = outcome.Reason
		if emptyReason == "" {
			emptyReason = ReasonExhausted
		}
		o.sink.Count(metrics.SeriesFetchEmptyReason, 1, metrics.Tags{"reason": emptyReason})
	}
	telemetry.EmitFetchObs(ctx, telemetry.FetchObservation{
		Backend:    req.BackendID,
		Mode:       string(req.Mode),
		Discovery:  string(req.Discovery),
		Tier:       string(req.Tier),
		Target:     req.TargetCount,
		Received:   outcome.Received,
		Unique:     len(final),
		Rejected:   outcome.Rejected,
		Iterations: outcome.Iterations,
		Reason:     emptyReason,
		ElapsedMS:  elapsedMS,
	})

	if o.export != nil && len(final) > 0 {
		if err := o.export.Write(req, final); err != nil {
			logger.Warn().Err(err).
				Str(log.FieldEvent, "fetch.export_failed").
				Msg("result export failed")
		}
	}

	return fetchResult{
		items:        final,
		inputTokens:  outcome.InputTokens,
		outputTokens: outcome.OutputTokens,
	}, nil
}
