// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level   string    // optional log level ("debug", "info", etc.)
	Output  io.Writer // optional writer (defaults to os.Stdout)
	Service string    // optional service name attached to every log entry
	Version string    // optional build version attached to every log entry
}

var (
	mu         sync.RWMutex
	configured bool
	base       zerolog.Logger
)

// Configure installs the process-wide base logger. The first call wins;
// later calls only adjust the level so config reloads can change verbosity.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	if configured {
		return
	}
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stdout
	}
	service := cfg.Service
	if service == "" {
		service = "nexusm"
	}
	version := cfg.Version
	if version == "" {
		version = os.Getenv("VERSION")
	}

	base = zerolog.New(writer).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
	configured = true
}

// SetLevel changes the global level without touching the base logger.
func SetLevel(level string) {
	zerolog.SetGlobalLevel(parseLevel(level))
}

func parseLevel(s string) zerolog.Level {
	if s == "" {
		s = os.Getenv("LOG_LEVEL")
	}
	if s == "" {
		return zerolog.InfoLevel
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zerolog.InfoLevel
	}
	return parsed
}

func logger() zerolog.Logger {
	mu.RLock()
	ok := configured
	l := base
	mu.RUnlock()
	if ok {
		return l
	}
	Configure(Config{})
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Base returns the configured base logger instance.
func Base() zerolog.Logger {
	return logger()
}

// L returns a pointer to a copy of the base logger for fluent call sites.
func L() *zerolog.Logger {
	l := logger()
	return &l
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str(FieldComponent, component).Logger()
}

// Derive attaches arbitrary fields to a child logger using the provided builder function.
func Derive(build func(*zerolog.Context)) zerolog.Logger {
	ctx := logger().With()
	if build != nil {
		build(&ctx)
	}
	return ctx.Logger()
}
