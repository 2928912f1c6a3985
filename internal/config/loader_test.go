// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("CRATEDIG_DATA_DIR", dataDir)

	cfg, err := NewLoader("", "v1.2.3").Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Version != "v1.2.3" {
		t.Errorf("Version = %q, want v1.2.3", cfg.Version)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want :8080", cfg.Listen)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Defaults.Backend != "ollama" || cfg.Defaults.Model != "llama3.2" {
		t.Errorf("default backend/model = %q/%q", cfg.Defaults.Backend, cfg.Defaults.Model)
	}
	if cfg.Defaults.TargetCount != 10 {
		t.Errorf("TargetCount = %d, want 10", cfg.Defaults.TargetCount)
	}
	if cfg.Defaults.Mode != "album" || cfg.Defaults.Discovery != "similar" || cfg.Defaults.Tier != "balanced" {
		t.Errorf("request defaults = %q/%q/%q", cfg.Defaults.Mode, cfg.Defaults.Discovery, cfg.Defaults.Tier)
	}
	if cfg.Fetch.Timeout != 120*time.Second {
		t.Errorf("Fetch.Timeout = %v, want 120s", cfg.Fetch.Timeout)
	}
	if cfg.History.Retention != 10*time.Minute {
		t.Errorf("History.Retention = %v, want 10m", cfg.History.Retention)
	}
	if cfg.Rate.Capacity != 30 || cfg.Rate.QueueSize != 10 {
		t.Errorf("rate = %d/%d, want 30/10", cfg.Rate.Capacity, cfg.Rate.QueueSize)
	}
	if cfg.PlanCache.Capacity != 128 {
		t.Errorf("PlanCache.Capacity = %d, want 128", cfg.PlanCache.Capacity)
	}
	if cfg.Telemetry.Mode != "disabled" {
		t.Errorf("Telemetry.Mode = %q, want disabled", cfg.Telemetry.Mode)
	}

	if len(cfg.Backends) != 1 {
		t.Fatalf("len(Backends) = %d, want 1", len(cfg.Backends))
	}
	b := cfg.Backends[0]
	if b.Name != "ollama" || b.Kind != KindLocal || b.URL != "http://127.0.0.1:11434" {
		t.Errorf("default backend = %+v", b)
	}
	if b.ContextTokens != 8192 {
		t.Errorf("ContextTokens = %d, want 8192", b.ContextTokens)
	}

	wantExport := filepath.Join(dataDir, "recommendations.json")
	if cfg.Export.Path != wantExport {
		t.Errorf("Export.Path = %q, want %q", cfg.Export.Path, wantExport)
	}
}

func TestLoadFileMerge(t *testing.T) {
	dataDir := t.TempDir()
	content := fmt.Sprintf(`
dataDir: %s
listen: ":9090"
logLevel: debug
defaults:
  backend: anthropic
  targetCount: 15
  discovery: adjacent
fetch:
  timeout: 90s
rateLimit:
  capacity: 5
planCache:
  redisAddr: 127.0.0.1:6379
backends:
  - name: ollama
    url: http://127.0.0.1:11434
    contextTokens: 8192
  - name: anthropic
    kind: cloud
    url: https://api.anthropic.com/v1/messages
    model: claude-sonnet-4
    credential: test-credential
    contextTokens: 200000
`, dataDir)
	path := writeConfigFile(t, "config.yaml", content)

	cfg, err := NewLoader(path, "test").Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("Listen = %q, want :9090", cfg.Listen)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Defaults.Backend != "anthropic" {
		t.Errorf("Defaults.Backend = %q, want anthropic", cfg.Defaults.Backend)
	}
	if cfg.Defaults.TargetCount != 15 {
		t.Errorf("TargetCount = %d, want 15", cfg.Defaults.TargetCount)
	}
	if cfg.Defaults.Discovery != "adjacent" {
		t.Errorf("Discovery = %q, want adjacent", cfg.Defaults.Discovery)
	}
	// Fields the file does not set keep their defaults.
	if cfg.Defaults.Mode != "album" {
		t.Errorf("Mode = %q, want album", cfg.Defaults.Mode)
	}
	if cfg.Fetch.Timeout != 90*time.Second {
		t.Errorf("Fetch.Timeout = %v, want 90s", cfg.Fetch.Timeout)
	}
	if cfg.Fetch.MinInterval != 5*time.Second {
		t.Errorf("Fetch.MinInterval = %v, want 5s", cfg.Fetch.MinInterval)
	}
	if cfg.Rate.Capacity != 5 || cfg.Rate.QueueSize != 10 {
		t.Errorf("rate = %d/%d, want 5/10", cfg.Rate.Capacity, cfg.Rate.QueueSize)
	}
	if cfg.PlanCache.RedisAddr != "127.0.0.1:6379" {
		t.Errorf("RedisAddr = %q", cfg.PlanCache.RedisAddr)
	}

	if len(cfg.Backends) != 2 {
		t.Fatalf("len(Backends) = %d, want 2", len(cfg.Backends))
	}
	local, ok := cfg.Backend("ollama")
	if !ok || local.Kind != KindLocal {
		t.Errorf("ollama backend kind = %q, want local default", local.Kind)
	}
	cloud, ok := cfg.Backend("anthropic")
	if !ok {
		t.Fatal("anthropic backend missing")
	}
	if cloud.Kind != KindCloud || cloud.Model != "claude-sonnet-4" {
		t.Errorf("cloud backend = %+v", cloud)
	}
	if cloud.Credential != "test-credential" {
		t.Errorf("Credential = %q", cloud.Credential)
	}
	if cloud.ContextTokens != 200000 {
		t.Errorf("ContextTokens = %d, want 200000", cloud.ContextTokens)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", "bogusField: oops\n")

	_, err := NewLoader(path, "test").Load()
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !errors.Is(err, ErrUnknownConfigField) {
		t.Fatalf("expected ErrUnknownConfigField, got: %v", err)
	}
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", "listen: \":9090\"\n---\nlisten: \":9091\"\n")

	_, err := NewLoader(path, "test").Load()
	if err == nil || !strings.Contains(err.Error(), "multiple documents") {
		t.Fatalf("expected multiple-documents error, got: %v", err)
	}
}

func TestLoadRejectsUnsupportedExtension(t *testing.T) {
	path := writeConfigFile(t, "config.json", "{}")

	_, err := NewLoader(path, "test").Load()
	if err == nil || !strings.Contains(err.Error(), "unsupported config format") {
		t.Fatalf("expected unsupported-format error, got: %v", err)
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", "fetch:\n  timeout: banana\n")

	_, err := NewLoader(path, "test").Load()
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected invalid-duration error, got: %v", err)
	}
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	t.Setenv("CRATEDIG_DATA_DIR", t.TempDir())
	path := writeConfigFile(t, "config.yaml", "")

	cfg, err := NewLoader(path, "test").Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want :8080", cfg.Listen)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dataDir := t.TempDir()
	content := fmt.Sprintf("dataDir: %s\nlisten: \":9090\"\n", dataDir)
	path := writeConfigFile(t, "config.yaml", content)

	t.Setenv("CRATEDIG_LISTEN", ":7070")
	t.Setenv("CRATEDIG_TARGET_COUNT", "25")
	t.Setenv("CRATEDIG_STYLE_FILTERS", "ambient, idm,")

	cfg, err := NewLoader(path, "test").Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Listen != ":7070" {
		t.Errorf("Listen = %q, want :7070 (env must win over file)", cfg.Listen)
	}
	if cfg.Defaults.TargetCount != 25 {
		t.Errorf("TargetCount = %d, want 25", cfg.Defaults.TargetCount)
	}
	want := []string{"ambient", "idm"}
	if len(cfg.Defaults.StyleFilters) != len(want) {
		t.Fatalf("StyleFilters = %v, want %v", cfg.Defaults.StyleFilters, want)
	}
	for i := range want {
		if cfg.Defaults.StyleFilters[i] != want[i] {
			t.Errorf("StyleFilters[%d] = %q, want %q", i, cfg.Defaults.StyleFilters[i], want[i])
		}
	}
}

func TestLoadBackendEnvOverlay(t *testing.T) {
	dataDir := t.TempDir()
	content := fmt.Sprintf(`
dataDir: %s
defaults:
  backend: lm-studio
backends:
  - name: lm-studio
    url: http://127.0.0.1:1234
`, dataDir)
	path := writeConfigFile(t, "config.yaml", content)

	t.Setenv("CRATEDIG_BACKEND_LM_STUDIO_URL", "http://10.0.0.5:1234")
	t.Setenv("CRATEDIG_BACKEND_LM_STUDIO_MODEL", "qwen2.5-7b")
	t.Setenv("CRATEDIG_BACKEND_LM_STUDIO_CREDENTIAL", "lm-secret")

	cfg, err := NewLoader(path, "test").Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	b, ok := cfg.Backend("lm-studio")
	if !ok {
		t.Fatal("lm-studio backend missing")
	}
	if b.URL != "http://10.0.0.5:1234" {
		t.Errorf("URL = %q, want env override", b.URL)
	}
	if b.Model != "qwen2.5-7b" {
		t.Errorf("Model = %q, want qwen2.5-7b", b.Model)
	}
	if b.Credential != "lm-secret" {
		t.Errorf("Credential = %q, want lm-secret", b.Credential)
	}
}

func TestLoadValidationFailure(t *testing.T) {
	t.Setenv("CRATEDIG_DATA_DIR", t.TempDir())
	t.Setenv("CRATEDIG_TARGET_COUNT", "0")

	_, err := NewLoader("", "test").Load()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "config validation failed") {
		t.Errorf("error missing validation prefix: %v", err)
	}
	if !strings.Contains(err.Error(), "defaults.targetCount") {
		t.Errorf("error missing offending field: %v", err)
	}
}

func TestLoadUnknownDefaultBackendFails(t *testing.T) {
	t.Setenv("CRATEDIG_DATA_DIR", t.TempDir())
	t.Setenv("CRATEDIG_BACKEND", "missing")

	_, err := NewLoader("", "test").Load()
	if err == nil || !strings.Contains(err.Error(), "defaults.backend") {
		t.Fatalf("expected defaults.backend error, got: %v", err)
	}
}

func TestLoadKeepsExplicitExportPath(t *testing.T) {
	dataDir := t.TempDir()
	exportPath := filepath.Join(t.TempDir(), "custom.json")
	content := fmt.Sprintf("dataDir: %s\nexport:\n  path: %s\n", dataDir, exportPath)
	path := writeConfigFile(t, "config.yaml", content)

	cfg, err := NewLoader(path, "test").Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Export.Path != exportPath {
		t.Errorf("Export.Path = %q, want %q", cfg.Export.Path, exportPath)
	}
}

func TestBackendEnvPrefixSanitizesName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"ollama", "CRATEDIG_BACKEND_OLLAMA"},
		{"lm-studio", "CRATEDIG_BACKEND_LM_STUDIO"},
		{"my.backend 2", "CRATEDIG_BACKEND_MY_BACKEND_2"},
	}
	for _, tt := range tests {
		if got := backendEnvPrefix(tt.name); got != tt.want {
			t.Errorf("backendEnvPrefix(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestLoadFillsKnownBackendDefaults(t *testing.T) {
	dataDir := t.TempDir()
	content := fmt.Sprintf(`
dataDir: %s
defaults:
  backend: lmstudio
backends:
  - name: lmstudio
  - name: anthropic
    model: claude-sonnet-4
    credential: test-credential
`, dataDir)
	path := writeConfigFile(t, "config.yaml", content)

	cfg, err := NewLoader(path, "test").Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	lm, ok := cfg.Backend("lmstudio")
	if !ok {
		t.Fatal("lmstudio backend missing")
	}
	if lm.Kind != KindLocal || lm.URL != "http://127.0.0.1:1234" {
		t.Errorf("lmstudio = %q %q, want local default endpoint", lm.Kind, lm.URL)
	}

	anth, ok := cfg.Backend("anthropic")
	if !ok {
		t.Fatal("anthropic backend missing")
	}
	if anth.Kind != KindCloud {
		t.Errorf("anthropic Kind = %q, want cloud", anth.Kind)
	}
	if anth.URL != "https://api.anthropic.com/v1/messages" {
		t.Errorf("anthropic URL = %q", anth.URL)
	}
	if anth.CredentialHeader != "x-api-key" {
		t.Errorf("anthropic CredentialHeader = %q, want x-api-key", anth.CredentialHeader)
	}
}

func TestLoadExplicitBackendValuesWinOverKnownDefaults(t *testing.T) {
	dataDir := t.TempDir()
	content := fmt.Sprintf(`
dataDir: %s
backends:
  - name: ollama
    url: http://10.0.0.5:11434
  - name: anthropic
    kind: local
    url: http://127.0.0.1:9999
`, dataDir)
	path := writeConfigFile(t, "config.yaml", content)

	cfg, err := NewLoader(path, "test").Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	ollama, _ := cfg.Backend("ollama")
	if ollama.URL != "http://10.0.0.5:11434" {
		t.Errorf("ollama URL = %q, want explicit value kept", ollama.URL)
	}
	anth, _ := cfg.Backend("anthropic")
	if anth.Kind != KindLocal || anth.URL != "http://127.0.0.1:9999" {
		t.Errorf("anthropic = %q %q, want explicit kind and url kept", anth.Kind, anth.URL)
	}
}
