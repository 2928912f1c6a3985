// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader resolves the runtime configuration with precedence
// environment > file > defaults, then validates the result.
type Loader struct {
	configPath string
	version    string
}

func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load runs the full pipeline: defaults, strict YAML file, environment
// overlay, path resolution, validation. A validation failure is fatal for
// the load; no partial config is returned.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	if l.configPath != "" {
		fileCfg, err := loadFile(l.configPath)
		if err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFile(&cfg, fileCfg); err != nil {
			return Config{}, fmt.Errorf("merge config file: %w", err)
		}
	}

	mergeEnv(&cfg)
	fillBackendDefaults(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Export.Path == "" {
		cfg.Export.Path = filepath.Join(cfg.DataDir, "recommendations.json")
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile parses a YAML config file strictly: unknown fields, trailing
// documents, and non-YAML extensions are all fatal.
func loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format %q (only YAML supported)", ext)
	}

	// #nosec G304 -- the config path is operator-provided via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

func mergeFile(cfg *Config, file *FileConfig) error {
	setString(&cfg.DataDir, file.DataDir)
	setString(&cfg.Listen, file.Listen)
	setString(&cfg.APIToken, file.APIToken)
	setString(&cfg.LogLevel, file.LogLevel)

	if d := file.Defaults; d != nil {
		setString(&cfg.Defaults.Backend, d.Backend)
		setString(&cfg.Defaults.Model, d.Model)
		setInt(&cfg.Defaults.TargetCount, d.TargetCount)
		setString(&cfg.Defaults.Mode, d.Mode)
		setString(&cfg.Defaults.Discovery, d.Discovery)
		setString(&cfg.Defaults.Tier, d.Tier)
		if d.StyleFilters != nil {
			cfg.Defaults.StyleFilters = append([]string(nil), d.StyleFilters...)
		}
		setInt(&cfg.Defaults.ComprehensiveTokenOverride, d.ComprehensiveTokens)
	}

	if f := file.Fetch; f != nil {
		if err := setDuration(&cfg.Fetch.Timeout, "fetch.timeout", f.Timeout); err != nil {
			return err
		}
		if err := setDuration(&cfg.Fetch.MinInterval, "fetch.minInterval", f.MinInterval); err != nil {
			return err
		}
	}
	if h := file.History; h != nil {
		if err := setDuration(&cfg.History.Retention, "history.retention", h.Retention); err != nil {
			return err
		}
		if err := setDuration(&cfg.History.CleanupCadence, "history.cleanupCadence", h.CleanupCadence); err != nil {
			return err
		}
	}
	if h := file.Health; h != nil {
		if err := setDuration(&cfg.Health.CheckInterval, "health.checkInterval", h.CheckInterval); err != nil {
			return err
		}
	}
	if r := file.Rate; r != nil {
		setInt(&cfg.Rate.Capacity, r.Capacity)
		setInt(&cfg.Rate.QueueSize, r.QueueSize)
		if err := setDuration(&cfg.Rate.Period, "rateLimit.period", r.Period); err != nil {
			return err
		}
		if err := setDuration(&cfg.Rate.QueueTimeout, "rateLimit.queueTimeout", r.QueueTimeout); err != nil {
			return err
		}
	}
	if p := file.PlanCache; p != nil {
		setInt(&cfg.PlanCache.Capacity, p.Capacity)
		setString(&cfg.PlanCache.RedisAddr, p.RedisAddr)
		if err := setDuration(&cfg.PlanCache.TTL, "planCache.ttl", p.TTL); err != nil {
			return err
		}
	}
	if e := file.Export; e != nil {
		setString(&cfg.Export.Path, e.Path)
		setBool(&cfg.Export.Disabled, e.Disabled)
	}
	if t := file.Telemetry; t != nil {
		setString(&cfg.Telemetry.Mode, t.Mode)
		setString(&cfg.Telemetry.Endpoint, t.Endpoint)
		setFloat(&cfg.Telemetry.SampleRatio, t.SampleRatio)
	}

	if file.Backends != nil {
		backends := make([]BackendSettings, 0, len(file.Backends))
		for _, fb := range file.Backends {
			b := BackendSettings{
				Name: strings.TrimSpace(fb.Name),
				Kind: strings.TrimSpace(fb.Kind),
				URL:  strings.TrimSpace(fb.URL),
			}
			setString(&b.Model, fb.Model)
			setString(&b.Credential, fb.Credential)
			setString(&b.CredentialHeader, fb.CredentialHeader)
			setBool(&b.Chat, fb.Chat)
			setFloat(&b.Temperature, fb.Temperature)
			setInt(&b.ContextTokens, fb.ContextTokens)
			setInt(&b.PromptCeiling, fb.PromptCeiling)
			setBool(&b.SupportsThinking, fb.SupportsThinking)
			if err := setDuration(&b.Timeout, "backends."+b.Name+".timeout", fb.Timeout); err != nil {
				return err
			}
			backends = append(backends, b)
		}
		cfg.Backends = backends
	}
	return nil
}

// mergeEnv overlays CRATEDIG_* environment variables onto the config.
func mergeEnv(cfg *Config) {
	cfg.DataDir = ParseString("CRATEDIG_DATA_DIR", cfg.DataDir)
	cfg.Listen = ParseString("CRATEDIG_LISTEN", cfg.Listen)
	cfg.APIToken = ParseString("CRATEDIG_API_TOKEN", cfg.APIToken)
	cfg.LogLevel = ParseString("CRATEDIG_LOG_LEVEL", cfg.LogLevel)

	cfg.Defaults.Backend = ParseString("CRATEDIG_BACKEND", cfg.Defaults.Backend)
	cfg.Defaults.Model = ParseString("CRATEDIG_MODEL", cfg.Defaults.Model)
	cfg.Defaults.TargetCount = ParseInt("CRATEDIG_TARGET_COUNT", cfg.Defaults.TargetCount)
	cfg.Defaults.Mode = ParseString("CRATEDIG_MODE", cfg.Defaults.Mode)
	cfg.Defaults.Discovery = ParseString("CRATEDIG_DISCOVERY", cfg.Defaults.Discovery)
	cfg.Defaults.Tier = ParseString("CRATEDIG_TIER", cfg.Defaults.Tier)
	cfg.Defaults.StyleFilters = ParseList("CRATEDIG_STYLE_FILTERS", cfg.Defaults.StyleFilters)
	cfg.Defaults.ComprehensiveTokenOverride = ParseInt("CRATEDIG_COMPREHENSIVE_TOKENS", cfg.Defaults.ComprehensiveTokenOverride)

	cfg.Fetch.Timeout = ParseDuration("CRATEDIG_FETCH_TIMEOUT", cfg.Fetch.Timeout)
	cfg.Fetch.MinInterval = ParseDuration("CRATEDIG_MIN_INTERVAL", cfg.Fetch.MinInterval)

	cfg.History.Retention = ParseDuration("CRATEDIG_HISTORY_RETENTION", cfg.History.Retention)
	cfg.History.CleanupCadence = ParseDuration("CRATEDIG_HISTORY_CLEANUP", cfg.History.CleanupCadence)

	cfg.Health.CheckInterval = ParseDuration("CRATEDIG_HEALTH_INTERVAL", cfg.Health.CheckInterval)

	cfg.Rate.Capacity = ParseInt("CRATEDIG_RATE_CAPACITY", cfg.Rate.Capacity)
	cfg.Rate.Period = ParseDuration("CRATEDIG_RATE_PERIOD", cfg.Rate.Period)
	cfg.Rate.QueueSize = ParseInt("CRATEDIG_RATE_QUEUE", cfg.Rate.QueueSize)
	cfg.Rate.QueueTimeout = ParseDuration("CRATEDIG_RATE_QUEUE_TIMEOUT", cfg.Rate.QueueTimeout)

	cfg.PlanCache.Capacity = ParseInt("CRATEDIG_PLAN_CACHE_CAPACITY", cfg.PlanCache.Capacity)
	cfg.PlanCache.TTL = ParseDuration("CRATEDIG_PLAN_CACHE_TTL", cfg.PlanCache.TTL)
	cfg.PlanCache.RedisAddr = ParseString("CRATEDIG_PLAN_CACHE_REDIS", cfg.PlanCache.RedisAddr)

	cfg.Export.Path = ParseString("CRATEDIG_EXPORT_PATH", cfg.Export.Path)
	cfg.Export.Disabled = ParseBool("CRATEDIG_EXPORT_DISABLED", cfg.Export.Disabled)

	cfg.Telemetry.Mode = ParseString("CRATEDIG_OTLP_MODE", cfg.Telemetry.Mode)
	cfg.Telemetry.Endpoint = ParseString("CRATEDIG_OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SampleRatio = ParseFloat("CRATEDIG_TRACE_SAMPLE", cfg.Telemetry.SampleRatio)

	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		prefix := backendEnvPrefix(b.Name)
		b.URL = ParseString(prefix+"_URL", b.URL)
		b.Model = ParseString(prefix+"_MODEL", b.Model)
		b.Credential = ParseString(prefix+"_CREDENTIAL", b.Credential)
	}
}

// knownBackends resolve kind, endpoint, and credential header for
// well-known backend names, so a file can say `- name: ollama` and nothing
// else. The cloud entries speak the messages wire shape; OpenAI-compatible
// chat servers are configured explicitly as kind local with chat: true.
var knownBackends = map[string]BackendSettings{
	"ollama":   {Kind: KindLocal, URL: "http://127.0.0.1:11434"},
	"lmstudio": {Kind: KindLocal, URL: "http://127.0.0.1:1234"},
	"anthropic": {
		Kind:             KindCloud,
		URL:              "https://api.anthropic.com/v1/messages",
		CredentialHeader: "x-api-key",
	},
}

// fillBackendDefaults completes sparse backend entries from the known-name
// table. Explicit values always win; unknown names default to kind local.
func fillBackendDefaults(cfg *Config) {
	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		known, ok := knownBackends[strings.ToLower(b.Name)]
		if ok {
			if b.Kind == "" {
				b.Kind = known.Kind
			}
			if b.URL == "" {
				b.URL = known.URL
			}
			if b.CredentialHeader == "" {
				b.CredentialHeader = known.CredentialHeader
			}
		}
		if b.Kind == "" {
			b.Kind = KindLocal
		}
	}
}

// backendEnvPrefix maps a backend name to its environment key prefix:
// "lm-studio" becomes CRATEDIG_BACKEND_LM_STUDIO.
func backendEnvPrefix(name string) string {
	var sb strings.Builder
	sb.WriteString("CRATEDIG_BACKEND_")
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, field string, src *string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*src))
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", field, *src)
	}
	*dst = d
	return nil
}
