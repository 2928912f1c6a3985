// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cratedig/cratedig/internal/api"
	"github.com/cratedig/cratedig/internal/audit"
	"github.com/cratedig/cratedig/internal/config"
	"github.com/cratedig/cratedig/internal/health"
	"github.com/cratedig/cratedig/internal/history"
	"github.com/cratedig/cratedig/internal/log"
	"github.com/cratedig/cratedig/internal/ratelimit"
)

// probeTimeout bounds one backend probe cycle entry.
const probeTimeout = 10 * time.Second

// AppOptions wire the runtime subsystems the App drives.
type AppOptions struct {
	Logger    zerolog.Logger
	Manager   Manager
	Holder    *config.Holder
	APIServer *api.Server
	Monitor   *health.Monitor
	History   *history.Service
	Limiter   *ratelimit.Limiter

	// Probes map backend ids to their connectivity probe.
	Probes map[string]health.ProbeFunc

	// ProbeInterval is the cadence of the background probe loop.
	ProbeInterval time.Duration

	// Janitor is an optional cache sweep loop; it must return when its
	// context ends.
	Janitor func(ctx context.Context)
}

// App owns the long-lived runtime lifecycle: config watching and reload
// wiring, history cleanup, cache sweeping, backend probing. Server
// management is delegated to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	holder       *config.Holder
	apiServer    *api.Server
	monitor      *health.Monitor
	history      *history.Service
	limiter      *ratelimit.Limiter
	probes       map[string]health.ProbeFunc
	probeEvery   time.Duration
	janitor      func(ctx context.Context)
	reloadSignal os.Signal
	auditor      *audit.Logger
}

// NewApp creates the app orchestrator.
func NewApp(opts AppOptions) *App {
	return &App{
		logger:       opts.Logger,
		manager:      opts.Manager,
		holder:       opts.Holder,
		apiServer:    opts.APIServer,
		monitor:      opts.Monitor,
		history:      opts.History,
		limiter:      opts.Limiter,
		probes:       opts.Probes,
		probeEvery:   opts.ProbeInterval,
		janitor:      opts.Janitor,
		reloadSignal: syscall.SIGHUP,
		auditor:      audit.NewLogger(),
	}
}

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup must not fail on it.
	if a.holder != nil {
		if err := a.holder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).
				Str("event", "config.watcher_start_failed").
				Msg("failed to start config watcher")
		}

		applyCh := make(chan config.Config, 1)
		a.holder.RegisterListener(applyCh)

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.applyConfig(cfg)
				}
			}
		})

		if a.reloadSignal != nil {
			g.Go(func() error {
				hupChan := make(chan os.Signal, 1)
				signal.Notify(hupChan, a.reloadSignal)
				defer signal.Stop(hupChan)

				for {
					select {
					case <-ctx.Done():
						return nil
					case <-hupChan:
						a.logger.Info().
							Str("event", "config.reload_signal").
							Str("signal", a.reloadSignal.String()).
							Msg("received reload signal, reloading config")

						if err := a.holder.Reload(context.Background()); err != nil {
							a.logger.Warn().
								Err(err).
								Str("event", "config.reload_failed").
								Msg("config reload failed")
							a.auditor.ConfigReload("system", "failure", map[string]string{
								"error": err.Error(),
							})
						}
					}
				}
			})
		}
	}

	// History retention sweep (stops via ctx).
	if a.history != nil {
		g.Go(func() error {
			a.history.RunCleanup(ctx)
			return nil
		})
	}

	// Plan cache sweep (stops via ctx).
	if a.janitor != nil {
		g.Go(func() error {
			a.janitor(ctx)
			return nil
		})
	}

	// Backend probe loop (stops via ctx).
	if a.monitor != nil && len(a.probes) > 0 {
		g.Go(func() error {
			a.runProbes(ctx)
			return nil
		})
	}

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// applyConfig pushes a reloaded configuration into the running
// subsystems.
func (a *App) applyConfig(cfg config.Config) {
	if err := log.SetLevel(cfg.LogLevel); err != nil {
		a.logger.Warn().Err(err).
			Str("event", "config.apply_log_level_failed").
			Msg("could not apply reloaded log level")
	}

	if a.apiServer != nil {
		a.apiServer.ApplyConfig(cfg)
	}

	if a.limiter != nil {
		bucket := ratelimit.BucketConfig{
			Capacity:  cfg.Rate.Capacity,
			Period:    cfg.Rate.Period,
			QueueSize: cfg.Rate.QueueSize,
			Timeout:   cfg.Rate.QueueTimeout,
		}
		for _, b := range cfg.Backends {
			a.limiter.Configure(b.Name, bucket)
		}
	}

	a.logger.Info().
		Str("event", "config.applied").
		Str("log_level", cfg.LogLevel).
		Msg("configuration changes applied")
	a.auditor.ConfigReload("system", "success", map[string]string{
		"log_level": cfg.LogLevel,
		"backends":  strconv.Itoa(len(cfg.Backends)),
	})
}

// runProbes periodically checks backend connectivity. Monitor.Check
// self-limits: it probes only thin records and shares concurrent probes.
func (a *App) runProbes(ctx context.Context) {
	interval := a.probeEvery
	if interval <= 0 {
		interval = health.DefaultCheckInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, probe := range a.probes {
				probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
				status := a.monitor.Check(probeCtx, name, probe)
				cancel()

				a.logger.Debug().
					Str("event", "health.probe_cycle").
					Str(log.FieldBackend, name).
					Str("status", string(status)).
					Msg("backend probe cycle finished")
			}
		}
	}
}
