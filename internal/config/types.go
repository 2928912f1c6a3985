// SPDX-License-Identifier: MIT

package config

import (
	"time"
)

// Config is the resolved runtime configuration. Loader builds it from
// defaults, an optional YAML file, and environment overrides, in that
// precedence order (environment wins).
type Config struct {
	Version  string
	DataDir  string
	Listen   string
	APIToken string
	LogLevel string

	Defaults  RequestDefaults
	Fetch     FetchSettings
	History   HistorySettings
	Health    HealthSettings
	Rate      RateSettings
	PlanCache PlanCacheSettings
	Export    ExportSettings
	Telemetry TelemetrySettings
	Backends  []BackendSettings
}

// RequestDefaults fill recommendation requests that omit a field.
type RequestDefaults struct {
	Backend      string
	Model        string
	TargetCount  int
	Mode         string
	Discovery    string
	Tier         string
	StyleFilters []string

	// ComprehensiveTokenOverride caps the comprehensive sampling tier's
	// prompt budget when positive.
	ComprehensiveTokenOverride int
}

// FetchSettings bound one orchestrated fetch.
type FetchSettings struct {
	Timeout     time.Duration
	MinInterval time.Duration
}

// HistorySettings control the suggestion seen-window.
type HistorySettings struct {
	Retention      time.Duration
	CleanupCadence time.Duration
}

// HealthSettings control the background backend probe loop.
type HealthSettings struct {
	CheckInterval time.Duration
}

// RateSettings are the per-backend admission bucket.
type RateSettings struct {
	Capacity     int
	Period       time.Duration
	QueueSize    int
	QueueTimeout time.Duration
}

// PlanCacheSettings configure prompt plan caching. A non-empty RedisAddr
// switches from the in-process cache to Redis.
type PlanCacheSettings struct {
	Capacity  int
	TTL       time.Duration
	RedisAddr string
}

// ExportSettings control the atomic result export. An empty Path resolves
// to <dataDir>/recommendations.json; Disabled turns the export off.
type ExportSettings struct {
	Path     string
	Disabled bool
}

// TelemetrySettings configure trace export. Mode is disabled, grpc, or
// http.
type TelemetrySettings struct {
	Mode        string
	Endpoint    string
	SampleRatio float64
}

// BackendSettings describe one generation backend. Kind local speaks the
// single-endpoint generate/chat wire shape against a private-network URL;
// kind cloud speaks the vendor messages shape with an opaque credential.
type BackendSettings struct {
	Name             string
	Kind             string
	URL              string
	Model            string
	Credential       string
	CredentialHeader string
	Chat             bool
	Temperature      float64
	Timeout          time.Duration
	ContextTokens    int
	PromptCeiling    int
	SupportsThinking bool
}

// Backend kinds.
const (
	KindLocal = "local"
	KindCloud = "cloud"
)

// Default resolves to a full configuration before file and environment
// merging.
func Default() Config {
	return Config{
		DataDir:  "./data",
		Listen:   ":8080",
		LogLevel: "info",
		Defaults: RequestDefaults{
			Backend:     "ollama",
			Model:       "llama3.2",
			TargetCount: 10,
			Mode:        "album",
			Discovery:   "similar",
			Tier:        "balanced",
		},
		Fetch: FetchSettings{
			Timeout:     120 * time.Second,
			MinInterval: 5 * time.Second,
		},
		History: HistorySettings{
			Retention:      10 * time.Minute,
			CleanupCadence: time.Minute,
		},
		Health: HealthSettings{
			CheckInterval: 5 * time.Minute,
		},
		Rate: RateSettings{
			Capacity:     30,
			Period:       time.Minute,
			QueueSize:    10,
			QueueTimeout: 30 * time.Second,
		},
		PlanCache: PlanCacheSettings{
			Capacity: 128,
			TTL:      10 * time.Minute,
		},
		Telemetry: TelemetrySettings{
			Mode:        "disabled",
			SampleRatio: 1.0,
		},
		Backends: []BackendSettings{{
			Name:          "ollama",
			Kind:          KindLocal,
			URL:           "http://127.0.0.1:11434",
			Model:         "llama3.2",
			ContextTokens: 8192,
		}},
	}
}

// Backend returns the settings for a named backend.
func (c Config) Backend(name string) (BackendSettings, bool) {
	for _, b := range c.Backends {
		if b.Name == name {
			return b, true
		}
	}
	return BackendSettings{}, false
}

// FileConfig is the strict YAML file shape. Pointer fields distinguish
// "absent" from zero values during merging; durations are Go duration
// strings ("90s", "10m").
type FileConfig struct {
	DataDir  *string `yaml:"dataDir"`
	Listen   *string `yaml:"listen"`
	APIToken *string `yaml:"apiToken"`
	LogLevel *string `yaml:"logLevel"`

	Defaults  *FileDefaults  `yaml:"defaults"`
	Fetch     *FileFetch     `yaml:"fetch"`
	History   *FileHistory   `yaml:"history"`
	Health    *FileHealth    `yaml:"health"`
	Rate      *FileRate      `yaml:"rateLimit"`
	PlanCache *FilePlanCache `yaml:"planCache"`
	Export    *FileExport    `yaml:"export"`
	Telemetry *FileTelemetry `yaml:"telemetry"`
	Backends  []FileBackend  `yaml:"backends"`
}

type FileDefaults struct {
	Backend             *string  `yaml:"backend"`
	Model               *string  `yaml:"model"`
	TargetCount         *int     `yaml:"targetCount"`
	Mode                *string  `yaml:"mode"`
	Discovery           *string  `yaml:"discovery"`
	Tier                *string  `yaml:"tier"`
	StyleFilters        []string `yaml:"styleFilters"`
	ComprehensiveTokens *int     `yaml:"comprehensiveTokens"`
}

type FileFetch struct {
	Timeout     *string `yaml:"timeout"`
	MinInterval *string `yaml:"minInterval"`
}

type FileHistory struct {
	Retention      *string `yaml:"retention"`
	CleanupCadence *string `yaml:"cleanupCadence"`
}

type FileHealth struct {
	CheckInterval *string `yaml:"checkInterval"`
}

type FileRate struct {
	Capacity     *int    `yaml:"capacity"`
	Period       *string `yaml:"period"`
	QueueSize    *int    `yaml:"queueSize"`
	QueueTimeout *string `yaml:"queueTimeout"`
}

type FilePlanCache struct {
	Capacity  *int    `yaml:"capacity"`
	TTL       *string `yaml:"ttl"`
	RedisAddr *string `yaml:"redisAddr"`
}

type FileExport struct {
	Path     *string `yaml:"path"`
	Disabled *bool   `yaml:"disabled"`
}

type FileTelemetry struct {
	Mode        *string  `yaml:"mode"`
	Endpoint    *string  `yaml:"endpoint"`
	SampleRatio *float64 `yaml:"sampleRatio"`
}

type FileBackend struct {
	Name             string   `yaml:"name"`
	Kind             string   `yaml:"kind"`
	URL              string   `yaml:"url"`
	Model            *string  `yaml:"model"`
	Credential       *string  `yaml:"credential"`
	CredentialHeader *string  `yaml:"credentialHeader"`
	Chat             *bool    `yaml:"chat"`
	Temperature      *float64 `yaml:"temperature"`
	Timeout          *string  `yaml:"timeout"`
	ContextTokens    *int     `yaml:"contextTokens"`
	PromptCeiling    *int     `yaml:"promptCeiling"`
	SupportsThinking *bool    `yaml:"supportsThinking"`
}
