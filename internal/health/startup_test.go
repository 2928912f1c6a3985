// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cratedig/cratedig/internal/config"
)

func startupConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Export.Path = filepath.Join(cfg.DataDir, "recommendations.json")
	return cfg
}

func TestPerformStartupChecksPasses(t *testing.T) {
	cfg := startupConfig(t)
	require.NoError(t, PerformStartupChecks(context.Background(), cfg))
}

func TestPerformStartupChecksMissingDataDir(t *testing.T) {
	cfg := startupConfig(t)
	cfg.DataDir = filepath.Join(cfg.DataDir, "does-not-exist")

	err := PerformStartupChecks(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data directory check failed")
}

func TestPerformStartupChecksBadListenAddr(t *testing.T) {
	cfg := startupConfig(t)
	cfg.Listen = "no-port"

	err := PerformStartupChecks(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen address check failed")
}

func TestPerformStartupChecksRejectsBackendScheme(t *testing.T) {
	cfg := startupConfig(t)
	cfg.Backends[0].URL = "ftp://127.0.0.1:11434"

	err := PerformStartupChecks(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme must be http or https")
}

func TestPerformStartupChecksNoBackends(t *testing.T) {
	cfg := startupConfig(t)
	cfg.Backends = nil

	err := PerformStartupChecks(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no generation backends")
}
