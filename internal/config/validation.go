// SPDX-License-Identifier: MIT

package config

import (
	"fmt"

	"github.com/cratedig/cratedig/internal/rec"
	"github.com/cratedig/cratedig/internal/validate"
)

// Validate checks the fully merged configuration. All violations are
// collected and reported together so the operator can fix a broken file
// in one pass.
func Validate(cfg Config) error {
	v := validate.New()

	v.ListenAddr("listen", cfg.Listen)
	v.WritableDirectory("dataDir", cfg.DataDir, false)

	if _, err := validate.ParseLogLevel(cfg.LogLevel); err != nil {
		v.AddError("logLevel", "must be one of: debug, info, warn, error", cfg.LogLevel)
	}

	validateDefaults(v, cfg)
	validateTimings(v, cfg)
	validateRate(v, cfg)
	validatePlanCache(v, cfg)
	validateExport(v, cfg)
	validateTelemetry(v, cfg)
	validateBackends(v, cfg)

	return v.Err()
}

func validateDefaults(v *validate.Validator, cfg Config) {
	d := cfg.Defaults

	v.NotEmpty("defaults.backend", d.Backend)
	if d.Backend != "" {
		if _, ok := cfg.Backend(d.Backend); !ok {
			v.AddError("defaults.backend", "not present in backends list", d.Backend)
		}
	}
	v.Range("defaults.targetCount", d.TargetCount, 1, 50)
	if _, err := rec.ParseMode(d.Mode); err != nil {
		v.AddError("defaults.mode", "must be one of: album, artist", d.Mode)
	}
	if _, err := rec.ParseDiscoveryMode(d.Discovery); err != nil {
		v.AddError("defaults.discovery", "must be one of: similar, adjacent, exploratory", d.Discovery)
	}
	if _, err := rec.ParseSamplingTier(d.Tier); err != nil {
		v.AddError("defaults.tier", "must be one of: minimal, balanced, comprehensive", d.Tier)
	}
	v.NonNegative("defaults.comprehensiveTokens", d.ComprehensiveTokenOverride)
}

func validateTimings(v *validate.Validator, cfg Config) {
	if cfg.Fetch.Timeout <= 0 {
		v.AddError("fetch.timeout", "must be positive", cfg.Fetch.Timeout)
	}
	if cfg.Fetch.MinInterval < 0 {
		v.AddError("fetch.minInterval", "must not be negative", cfg.Fetch.MinInterval)
	}
	if cfg.History.Retention <= 0 {
		v.AddError("history.retention", "must be positive", cfg.History.Retention)
	}
	if cfg.History.CleanupCadence <= 0 {
		v.AddError("history.cleanupCadence", "must be positive", cfg.History.CleanupCadence)
	}
	if cfg.Health.CheckInterval <= 0 {
		v.AddError("health.checkInterval", "must be positive", cfg.Health.CheckInterval)
	}
}

func validateRate(v *validate.Validator, cfg Config) {
	v.Positive("rateLimit.capacity", cfg.Rate.Capacity)
	v.NonNegative("rateLimit.queueSize", cfg.Rate.QueueSize)
	if cfg.Rate.Period <= 0 {
		v.AddError("rateLimit.period", "must be positive", cfg.Rate.Period)
	}
	if cfg.Rate.QueueTimeout <= 0 {
		v.AddError("rateLimit.queueTimeout", "must be positive", cfg.Rate.QueueTimeout)
	}
}

func validatePlanCache(v *validate.Validator, cfg Config) {
	v.NonNegative("planCache.capacity", cfg.PlanCache.Capacity)
	if cfg.PlanCache.TTL <= 0 {
		v.AddError("planCache.ttl", "must be positive", cfg.PlanCache.TTL)
	}
}

func validateExport(v *validate.Validator, cfg Config) {
	if cfg.Export.Disabled {
		return
	}
	v.NotEmpty("export.path", cfg.Export.Path)
}

func validateTelemetry(v *validate.Validator, cfg Config) {
	t := cfg.Telemetry
	v.OneOf("telemetry.mode", t.Mode, []string{"disabled", "grpc", "http"})
	if t.Mode != "disabled" {
		v.NotEmpty("telemetry.endpoint", t.Endpoint)
	}
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		v.AddError("telemetry.sampleRatio", "must be between 0 and 1", t.SampleRatio)
	}
}

func validateBackends(v *validate.Validator, cfg Config) {
	if len(cfg.Backends) == 0 {
		v.AddError("backends", "at least one backend must be configured", nil)
		return
	}

	seen := make(map[string]bool, len(cfg.Backends))
	for i, b := range cfg.Backends {
		field := fmt.Sprintf("backends[%d]", i)

		v.NotEmpty(field+".name", b.Name)
		if seen[b.Name] {
			v.AddError(field+".name", "duplicate backend name", b.Name)
		}
		seen[b.Name] = true

		v.OneOf(field+".kind", b.Kind, []string{KindLocal, KindCloud})
		v.URL(field+".url", b.URL, []string{"http", "https"})

		if b.Kind == KindCloud {
			v.NotEmpty(field+".model", b.Model)
		}
		v.NonNegative(field+".contextTokens", b.ContextTokens)
		v.NonNegative(field+".promptCeiling", b.PromptCeiling)
		if b.PromptCeiling > 0 && b.ContextTokens > 0 && b.PromptCeiling > b.ContextTokens {
			v.AddError(field+".promptCeiling", "must not exceed contextTokens", b.PromptCeiling)
		}
		if b.Timeout < 0 {
			v.AddError(field+".timeout", "must not be negative", b.Timeout)
		}
	}
}
