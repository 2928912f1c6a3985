// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cratedig/cratedig/internal/log"
)

func envLogger() zerolog.Logger {
	return log.WithComponent("config")
}

func logEnvUsed(logger zerolog.Logger, key, value string) {
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitiveKey(key) {
		ev.Bool("sensitive", true).Msg("using environment variable")
		return
	}
	ev.Str("value", value).Msg("using environment variable")
}

func logDefaultUsed(logger zerolog.Logger, key string) {
	logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
}

// ParseString reads key from the environment or returns the default. Empty
// values fall back to the default; sensitive values are never logged.
func ParseString(key, defaultValue string) string {
	logger := envLogger()
	if v, ok := os.LookupEnv(key); ok && v != "" {
		logEnvUsed(logger, key, v)
		return v
	}
	logDefaultUsed(logger, key)
	return defaultValue
}

// ParseInt reads an integer from the environment, warning and falling back
// to the default on parse failure.
func ParseInt(key string, defaultValue int) int {
	logger := envLogger()
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logDefaultUsed(logger, key)
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	logEnvUsed(logger, key, v)
	return i
}

// ParseFloat reads a float64 from the environment, warning and falling
// back to the default on parse failure.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := envLogger()
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logDefaultUsed(logger, key)
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Float64("default", defaultValue).
			Msg("invalid float in environment variable, using default")
		return defaultValue
	}
	logEnvUsed(logger, key, v)
	return f
}

// ParseDuration reads a Go duration string ("5s", "10m") from the
// environment, warning and falling back to the default on parse failure.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := envLogger()
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logDefaultUsed(logger, key)
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
		return defaultValue
	}
	logEnvUsed(logger, key, v)
	return d
}

// ParseBool reads a boolean from the environment. Accepts true/false, 1/0,
// yes/no, case-insensitive.
func ParseBool(key string, defaultValue bool) bool {
	logger := envLogger()
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logDefaultUsed(logger, key)
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		logEnvUsed(logger, key, v)
		return true
	case "false", "0", "no":
		logEnvUsed(logger, key, v)
		return false
	default:
		logger.Warn().Str("key", key).Str("value", v).Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
		return defaultValue
	}
}

// ParseList reads a comma-separated list from the environment. Entries are
// trimmed; empty entries are dropped.
func ParseList(key string, defaultValue []string) []string {
	logger := envLogger()
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logDefaultUsed(logger, key)
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	logEnvUsed(logger, key, v)
	return out
}
