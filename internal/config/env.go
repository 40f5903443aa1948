// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/michaeldallariva/NexusM-sub001/internal/log"
	"github.com/rs/zerolog"
)

// EnvPrefix is prepended to every environment key.
const EnvPrefix = "NEXUSM_"

func envLogger() zerolog.Logger {
	return log.WithComponent("config")
}

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	l := envLogger()
	l.Debug().Str("key", key).Str("source", "environment").Msg("using environment variable")
	return v
}

// ParseInt reads an integer from environment variable or returns default value.
// Invalid values are logged and ignored.
func ParseInt(key string, defaultValue int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		warnInvalid(key, v, err)
		return defaultValue
	}
	return i
}

// ParseBool reads a boolean from environment variable or returns default value.
func ParseBool(key string, defaultValue bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		warnInvalid(key, v, err)
		return defaultValue
	}
	return b
}

// ParseFloat reads a float from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		warnInvalid(key, v, err)
		return defaultValue
	}
	return f
}

// ParseDuration reads a Go duration string from environment variable or returns default value.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		warnInvalid(key, v, err)
		return defaultValue
	}
	return d
}

func warnInvalid(key, value string, err error) {
	l := envLogger()
	l.Warn().
		Err(err).
		Str("key", key).
		Str("value", value).
		Str("event", "config.env_invalid").
		Msg("invalid environment value, using default")
}
