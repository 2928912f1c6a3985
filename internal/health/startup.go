// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cratedig/cratedig/internal/config"
	"github.com/cratedig/cratedig/internal/log"
)

// PerformStartupChecks validates the environment before the daemon starts
// serving. It fails fast on anything that would make every request fail
// and warns on conditions the operator should know about.
func PerformStartupChecks(ctx context.Context, cfg config.Config) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("Running pre-flight startup checks...")

	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if err := checkListenAddr(logger, cfg.Listen); err != nil {
		return fmt.Errorf("listen address check failed: %w", err)
	}
	if err := checkBackends(logger, cfg.Backends); err != nil {
		return fmt.Errorf("backend check failed: %w", err)
	}
	checkExportTarget(logger, cfg)
	warnOnTempDataDir(logger, cfg.DataDir)

	logger.Info().Msg("✅ All startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("✓ Data directory is writable")
	return nil
}

func checkListenAddr(logger zerolog.Logger, addr string) error {
	if addr == "" {
		return fmt.Errorf("listen address is empty")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	logger.Info().Str("addr", addr).Msg("✓ Listen address is valid")
	return nil
}

func checkBackends(logger zerolog.Logger, backends []config.BackendSettings) error {
	if len(backends) == 0 {
		return fmt.Errorf("no generation backends configured")
	}
	for _, b := range backends {
		u, err := url.Parse(b.URL)
		if err != nil {
			return fmt.Errorf("backend %q: invalid URL: %w", b.Name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("backend %q: URL scheme must be http or https, got: %s", b.Name, u.Scheme)
		}
		if b.Kind == config.KindCloud && b.Credential == "" {
			logger.Warn().
				Str("backend", b.Name).
				Msg("cloud backend has no credential; requests to it will fail until one is provided")
		}
	}
	logger.Info().Int("count", len(backends)).Msg("✓ Backend URLs are valid")
	return nil
}

func checkExportTarget(logger zerolog.Logger, cfg config.Config) {
	if cfg.Export.Disabled || cfg.Export.Path == "" {
		return
	}
	dir := filepath.Dir(cfg.Export.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		logger.Warn().
			Str("path", cfg.Export.Path).
			Err(err).
			Msg("export directory cannot be created; exports will fail")
		return
	}
	logger.Info().Str("path", cfg.Export.Path).Msg("✓ Export target is writable")
}

func warnOnTempDataDir(logger zerolog.Logger, dataDir string) {
	tempDir := filepath.Clean(os.TempDir())
	clean := filepath.Clean(dataDir)
	if tempDir != "." && (clean == tempDir || strings.HasPrefix(clean, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str("data_dir", dataDir).
			Msg("data directory is under temp; suggestion history and exports may be lost on reboot")
	}
}
