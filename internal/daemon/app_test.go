// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/cratedig/cratedig/internal/config"
	"github.com/cratedig/cratedig/internal/health"
	"github.com/cratedig/cratedig/internal/history"
	"github.com/cratedig/cratedig/internal/log"
	"github.com/cratedig/cratedig/internal/metrics"
	"github.com/cratedig/cratedig/internal/ratelimit"
)

func TestAppRequiresManager(t *testing.T) {
	app := NewApp(AppOptions{Logger: log.WithComponent("test")})

	if err := app.Run(context.Background()); !errors.Is(err, ErrMissingManager) {
		t.Fatalf("Run() error = %v, want ErrMissingManager", err)
	}
}

func TestAppRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	addr := reserveListenAddr(t)
	mgr, err := NewManager(testServerConfig(addr), Deps{
		Logger:     log.WithComponent("test"),
		APIHandler: http.NotFoundHandler(),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	app := NewApp(AppOptions{
		Logger:  log.WithComponent("test"),
		Manager: mgr,
		History: history.New(0, time.Hour, time.Hour, metrics.Nop()),
		Janitor: func(ctx context.Context) { <-ctx.Done() },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Run(ctx)
	}()

	if err := waitForListen(addr, 2*time.Second); err != nil {
		t.Fatalf("server did not start listening: %v", err)
	}

	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func TestAppRunsProbeLoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	addr := reserveListenAddr(t)
	mgr, err := NewManager(testServerConfig(addr), Deps{
		Logger:     log.WithComponent("test"),
		APIHandler: http.NotFoundHandler(),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	monitor := health.NewMonitor(time.Minute, metrics.Nop())
	app := NewApp(AppOptions{
		Logger:  log.WithComponent("test"),
		Manager: mgr,
		Monitor: monitor,
		Probes: map[string]health.ProbeFunc{
			"ollama": func(context.Context) error { return nil },
		},
		ProbeInterval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Run(ctx)
	}()

	if err := waitForListen(addr, 2*time.Second); err != nil {
		t.Fatalf("server did not start listening: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if monitor.Status("ollama") == health.StatusHealthy {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := monitor.Status("ollama"); got != health.StatusHealthy {
		t.Errorf("Status(ollama) = %q, want healthy after probe cycle", got)
	}

	cancel()
	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
	}
}

func TestAppAppliesReloadedConfig(t *testing.T) {
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	limiter := ratelimit.New(ratelimit.DefaultBucketConfig(), metrics.Nop())
	app := NewApp(AppOptions{
		Logger:  log.WithComponent("test"),
		Limiter: limiter,
	})

	cfg := config.Default()
	cfg.LogLevel = "debug"
	cfg.Backends = []config.BackendSettings{{Name: "ollama"}}
	cfg.Rate.Capacity = 5
	cfg.Rate.Period = time.Minute
	cfg.Rate.QueueSize = 2
	cfg.Rate.QueueTimeout = time.Second

	app.applyConfig(cfg)

	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("global log level = %v, want debug", zerolog.GlobalLevel())
	}

	found := false
	for _, name := range limiter.Resources() {
		if name == "ollama" {
			found = true
		}
	}
	if !found {
		t.Errorf("Resources() = %v, want ollama bucket configured", limiter.Resources())
	}
}
