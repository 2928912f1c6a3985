// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cratedig/cratedig/internal/config"
	"github.com/cratedig/cratedig/internal/version"
)

func runConfigCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage()
		return 0
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:])
	case "dump":
		return runConfigDump(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage()
		return 2
	}
}

func printConfigUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  cratedig config validate [--file|-f config.yaml]")
	fmt.Fprintln(os.Stderr, "  cratedig config dump --effective [--file|-f config.yaml] [--format=yaml|json]")
}

func runConfigValidate(args []string) int {
	fs := flag.NewFlagSet("cratedig config validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var file string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	configPath := strings.TrimSpace(file)
	if configPath == "" {
		configPath = resolveDefaultConfigPath()
	}
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --file is required (no default config.yaml found in $CRATEDIG_DATA_DIR)")
		return 2
	}

	loader := config.NewLoader(configPath, version.Version)
	if _, err := loader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error in %s:\n  %v\n", configPath, err)
		return 1
	}

	fmt.Printf("✓ %s is valid\n", configPath)
	return 0
}

func runConfigDump(args []string) int {
	fs := flag.NewFlagSet("cratedig config dump", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var file string
	var format string
	var effective bool

	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	fs.StringVar(&format, "format", "yaml", "output format: yaml or json")
	fs.BoolVar(&effective, "effective", false, "dump effective configuration (defaults + file + env)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if !effective {
		fmt.Fprintln(os.Stderr, "Error: --effective is required")
		return 2
	}

	configPath := strings.TrimSpace(file)
	if configPath == "" {
		configPath = resolveDefaultConfigPath()
	}

	loader := config.NewLoader(configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error in %s:\n  %v\n", configPath, err)
		return 1
	}

	fileCfg := fileConfigFromConfig(cfg)
	redactFileSecrets(&fileCfg)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(fileCfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode YAML: %v\n", err)
			return 1
		}
		_ = enc.Close()
		return 0
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(fileCfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unsupported format: %s (use yaml or json)\n", format)
		return 2
	}
}

// fileConfigFromConfig renders the effective configuration back into the
// file shape, with durations as strings instead of nanosecond counts.
func fileConfigFromConfig(cfg config.Config) config.FileConfig {
	backends := make([]config.FileBackend, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		fb := config.FileBackend{
			Name: b.Name,
			Kind: b.Kind,
			URL:  b.URL,
		}
		if b.Model != "" {
			fb.Model = strPtr(b.Model)
		}
		if b.Credential != "" {
			fb.Credential = strPtr(b.Credential)
		}
		if b.CredentialHeader != "" {
			fb.CredentialHeader = strPtr(b.CredentialHeader)
		}
		if b.Chat {
			fb.Chat = boolPtr(b.Chat)
		}
		if b.Temperature != 0 {
			fb.Temperature = floatPtr(b.Temperature)
		}
		if b.Timeout != 0 {
			fb.Timeout = durPtr(b.Timeout)
		}
		if b.ContextTokens != 0 {
			fb.ContextTokens = intPtr(b.ContextTokens)
		}
		if b.PromptCeiling != 0 {
			fb.PromptCeiling = intPtr(b.PromptCeiling)
		}
		if b.SupportsThinking {
			fb.SupportsThinking = boolPtr(b.SupportsThinking)
		}
		backends = append(backends, fb)
	}

	return config.FileConfig{
		DataDir:  strPtr(cfg.DataDir),
		Listen:   strPtr(cfg.Listen),
		APIToken: strPtr(cfg.APIToken),
		LogLevel: strPtr(cfg.LogLevel),
		Defaults: &config.FileDefaults{
			Backend:             strPtr(cfg.Defaults.Backend),
			Model:               strPtr(cfg.Defaults.Model),
			TargetCount:         intPtr(cfg.Defaults.TargetCount),
			Mode:                strPtr(cfg.Defaults.Mode),
			Discovery:           strPtr(cfg.Defaults.Discovery),
			Tier:                strPtr(cfg.Defaults.Tier),
			StyleFilters:        cfg.Defaults.StyleFilters,
			ComprehensiveTokens: intPtr(cfg.Defaults.ComprehensiveTokenOverride),
		},
		Fetch: &config.FileFetch{
			Timeout:     durPtr(cfg.Fetch.Timeout),
			MinInterval: durPtr(cfg.Fetch.MinInterval),
		},
		History: &config.FileHistory{
			Retention:      durPtr(cfg.History.Retention),
			CleanupCadence: durPtr(cfg.History.CleanupCadence),
		},
		Health: &config.FileHealth{
			CheckInterval: durPtr(cfg.Health.CheckInterval),
		},
		Rate: &config.FileRate{
			Capacity:     intPtr(cfg.Rate.Capacity),
			Period:       durPtr(cfg.Rate.Period),
			QueueSize:    intPtr(cfg.Rate.QueueSize),
			QueueTimeout: durPtr(cfg.Rate.QueueTimeout),
		},
		PlanCache: &config.FilePlanCache{
			Capacity:  intPtr(cfg.PlanCache.Capacity),
			TTL:       durPtr(cfg.PlanCache.TTL),
			RedisAddr: strPtr(cfg.PlanCache.RedisAddr),
		},
		Export: &config.FileExport{
			Path:     strPtr(cfg.Export.Path),
			Disabled: boolPtr(cfg.Export.Disabled),
		},
		Telemetry: &config.FileTelemetry{
			Mode:        strPtr(cfg.Telemetry.Mode),
			Endpoint:    strPtr(cfg.Telemetry.Endpoint),
			SampleRatio: floatPtr(cfg.Telemetry.SampleRatio),
		},
		Backends: backends,
	}
}

func redactFileSecrets(fc *config.FileConfig) {
	if fc.APIToken != nil && *fc.APIToken != "" {
		fc.APIToken = strPtr("***")
	}
	for i := range fc.Backends {
		if fc.Backends[i].Credential != nil {
			fc.Backends[i].Credential = strPtr("***")
		}
	}
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func boolPtr(b bool) *bool { return &b }

func floatPtr(f float64) *float64 { return &f }

func durPtr(d time.Duration) *string {
	s := d.String()
	return &s
}
