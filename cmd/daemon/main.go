// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cratedig/cratedig/internal/config"
	"github.com/cratedig/cratedig/internal/daemon"
	"github.com/cratedig/cratedig/internal/health"
	"github.com/cratedig/cratedig/internal/log"
	"github.com/cratedig/cratedig/internal/telemetry"
	"github.com/cratedig/cratedig/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Safe logger defaults until the configuration is loaded.
	log.Configure(log.Config{
		Level:   "info",
		Service: "cratedig",
		Version: version.Version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	explicitConfigPath := strings.TrimSpace(*configPath)
	effectiveConfigPath := explicitConfigPath
	if effectiveConfigPath == "" {
		effectiveConfigPath = resolveDefaultConfigPath()
	}

	loader := config.NewLoader(effectiveConfigPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	if err := log.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn().Err(err).Msg("invalid log level, keeping info")
	}

	switch {
	case explicitConfigPath != "":
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", explicitConfigPath).
			Msg("loaded configuration from file")
	case effectiveConfigPath != "":
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file(auto)").
			Str("path", effectiveConfigPath).
			Msg("loaded configuration from file")
	default:
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.datadir_failed").
			Str("path", cfg.DataDir).
			Msg("failed to create data directory")
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration and permissions.")
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Mode != "" && cfg.Telemetry.Mode != "disabled",
		ServiceName:    "cratedig",
		ServiceVersion: version.Version,
		ExporterType:   cfg.Telemetry.Mode,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialise telemetry")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.Listen).
		Msg("starting cratedig")

	// Log key configuration
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	logger.Info().Msgf("→ Backends: %s", strings.Join(backendSummary(cfg), ", "))
	logger.Info().Msgf("→ Defaults: %s/%s, %d per fetch", cfg.Defaults.Backend, cfg.Defaults.Model, cfg.Defaults.TargetCount)
	if cfg.APIToken != "" {
		logger.Info().Msg("→ API token: configured")
	} else {
		logger.Warn().
			Str("security", "weak").
			Msg("→ API token: NOT configured (auth disabled). Set CRATEDIG_API_TOKEN to require bearer auth.")
	}
	if cfg.Export.Disabled {
		logger.Info().Msg("→ Export: disabled")
	} else {
		logger.Info().Msgf("→ Export: %s", cfg.Export.Path)
	}
	if cfg.PlanCache.RedisAddr != "" {
		logger.Info().Msgf("→ Plan cache: redis (%s)", cfg.PlanCache.RedisAddr)
	} else {
		logger.Info().Msgf("→ Plan cache: in-memory (capacity %d)", cfg.PlanCache.Capacity)
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.wiring_failed").
			Msg("failed to build runtime")
	}

	holder := config.NewHolder(cfg, config.NewLoader(effectiveConfigPath, version.Version), effectiveConfigPath)

	mgr, err := daemon.NewManager(daemon.NewServerConfig(cfg), daemon.Deps{
		Logger:     logger,
		APIHandler: rt.server.Handler(),
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.creation_failed").
			Msg("failed to create daemon manager")
	}

	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	mgr.RegisterShutdownHook("config_watcher", func(context.Context) error {
		holder.Stop()
		return nil
	})
	if rt.redisCache != nil {
		mgr.RegisterShutdownHook("plan_cache", func(context.Context) error {
			return rt.redisCache.Close()
		})
	}
	mgr.RegisterShutdownHook("catalog_store", func(context.Context) error {
		return rt.store.Close()
	})

	app := daemon.NewApp(daemon.AppOptions{
		Logger:        logger,
		Manager:       mgr,
		Holder:        holder,
		APIServer:     rt.server,
		Monitor:       rt.monitor,
		History:       rt.history,
		Limiter:       rt.limiter,
		Probes:        rt.probes,
		ProbeInterval: cfg.Health.CheckInterval,
		Janitor:       rt.janitor,
	})
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon app failed")
	}

	logger.Info().Msg("server exiting")
}

// resolveDefaultConfigPath auto-loads <dataDir>/config.yaml when it exists,
// so a file written next to the data survives restarts without flags.
func resolveDefaultConfigPath() string {
	dataDir := strings.TrimSpace(os.Getenv("CRATEDIG_DATA_DIR"))
	if dataDir == "" {
		dataDir = "./data"
	}
	autoPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}

func backendSummary(cfg config.Config) []string {
	out := make([]string, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		out = append(out, fmt.Sprintf("%s (%s)", b.Name, b.Kind))
	}
	return out
}
