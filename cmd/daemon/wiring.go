// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cratedig/cratedig/internal/api"
	"github.com/cratedig/cratedig/internal/catalog"
	"github.com/cratedig/cratedig/internal/config"
	"github.com/cratedig/cratedig/internal/health"
	"github.com/cratedig/cratedig/internal/history"
	"github.com/cratedig/cratedig/internal/metrics"
	"github.com/cratedig/cratedig/internal/prompt"
	"github.com/cratedig/cratedig/internal/ratelimit"
	"github.com/cratedig/cratedig/internal/suggest"
	"github.com/cratedig/cratedig/internal/version"
)

// catalogFilename is the SQLite library file under the data directory.
const catalogFilename = "catalog.db"

// planCacheSweep is the in-memory plan cache janitor cadence.
const planCacheSweep = time.Minute

// runtime bundles the wired subsystems main hands to the daemon app.
type runtime struct {
	store      *catalog.Store
	monitor    *health.Monitor
	limiter    *ratelimit.Limiter
	history    *history.Service
	server     *api.Server
	probes     map[string]health.ProbeFunc
	janitor    func(ctx context.Context)
	redisCache *prompt.RedisPlanCache
}

// buildRuntime composes the recommendation core bottom-up: catalog store,
// generation backends, prompt planning, rate limiting, history, the
// orchestrator, and finally the API server with its health checkers.
func buildRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	sink := metrics.NewPromSink()

	catalogPath := filepath.Join(cfg.DataDir, catalogFilename)
	store, err := catalog.NewStore(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog store: %w", err)
	}

	monitor := health.NewMonitor(cfg.Health.CheckInterval, sink)

	registry, probes, err := buildBackends(ctx, cfg, monitor, sink)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bucket := ratelimit.BucketConfig{
		Capacity:  cfg.Rate.Capacity,
		Period:    cfg.Rate.Period,
		QueueSize: cfg.Rate.QueueSize,
		Timeout:   cfg.Rate.QueueTimeout,
	}
	limiter := ratelimit.New(bucket, sink)
	for _, b := range cfg.Backends {
		limiter.Configure(b.Name, bucket)
	}

	rt := &runtime{
		store:   store,
		monitor: monitor,
		limiter: limiter,
		probes:  probes,
	}

	var planCache prompt.PlanCache
	if cfg.PlanCache.RedisAddr != "" {
		redisCache, err := prompt.NewRedisPlanCache(prompt.RedisConfig{
			Addr:     cfg.PlanCache.RedisAddr,
			Password: config.ParseString("CRATEDIG_REDIS_PASSWORD", ""),
		}, cfg.PlanCache.TTL)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connect plan cache: %w", err)
		}
		planCache = redisCache
		rt.redisCache = redisCache
	} else {
		memCache := prompt.NewMemoryPlanCache(cfg.PlanCache.Capacity, cfg.PlanCache.TTL)
		planCache = memCache
		rt.janitor = func(ctx context.Context) {
			memCache.RunJanitor(ctx, planCacheSweep)
		}
	}

	planner := prompt.NewPlanner(prompt.PlannerOptions{
		Tokens:                     prompt.NewTokenizerRegistry(),
		Cache:                      planCache,
		Sink:                       sink,
		ComprehensiveTokenOverride: cfg.Defaults.ComprehensiveTokenOverride,
	})

	rt.history = history.New(cfg.Fetch.MinInterval, cfg.History.Retention, cfg.History.CleanupCadence, sink)

	var exporter *suggest.Exporter
	if !cfg.Export.Disabled {
		exporter = suggest.NewExporter(cfg.Export.Path)
	}

	orchestrator := suggest.NewOrchestrator(suggest.OrchestratorOptions{
		Catalog:  store,
		Registry: registry,
		Monitor:  monitor,
		History:  rt.history,
		Strategy: suggest.NewStrategy(planner, limiter),
		Sink:     sink,
		Timeout:  cfg.Fetch.Timeout,
		Exporter: exporter,
	})

	rt.server = api.New(api.Options{
		Config:  cfg,
		Fetcher: orchestrator,
		Monitor: monitor,
		Limiter: limiter,
		History: rt.history,
		Version: version.Version,
	})

	hm := rt.server.HealthManager()
	for _, b := range cfg.Backends {
		hm.RegisterChecker(health.NewBackendChecker(b.Name, monitor))
	}
	hm.RegisterChecker(health.NewLastFetchChecker(orchestrator.LastFetch))
	// A vanished catalog file breaks every fetch, so readiness tracks it.
	hm.RegisterChecker(health.NewFileChecker("catalog", catalogPath))

	return rt, nil
}
