// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader. An empty path means ENV-only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Path returns the configured file path.
func (l *Loader) Path() string { return l.configPath }

// Load resolves the configuration: defaults, then file (strict), then env, then validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	cfg.Transcode.Encoder = strings.ToLower(strings.TrimSpace(cfg.Transcode.Encoder))
	cfg.Transcode.Priority = strings.ToLower(strings.TrimSpace(cfg.Transcode.Priority))
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over cfg. Unknown fields are rejected.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func mergeEnv(cfg *AppConfig) {
	p := EnvPrefix
	cfg.LogLevel = ParseString(p+"LOG_LEVEL", cfg.LogLevel)
	cfg.Listen = ParseString(p+"LISTEN", cfg.Listen)
	cfg.DataDir = ParseString(p+"DATA_DIR", cfg.DataDir)

	cfg.FFmpeg.Bin = ParseString(p+"FFMPEG_BIN", cfg.FFmpeg.Bin)
	cfg.FFmpeg.TestTimeout = ParseDuration(p+"FFMPEG_TEST_TIMEOUT", cfg.FFmpeg.TestTimeout)

	t := &cfg.Transcode
	t.Encoder = ParseString(p+"ENCODER", t.Encoder)
	t.VAAPIDevice = ParseString(p+"VAAPI_DEVICE", t.VAAPIDevice)
	t.HWDecode = ParseBool(p+"HW_DECODE", t.HWDecode)
	t.CRF = ParseInt(p+"CRF", t.CRF)
	t.Preset = ParseString(p+"PRESET", t.Preset)
	t.VideoBitrate = ParseString(p+"VIDEO_BITRATE", t.VideoBitrate)
	t.MaxBitrate = ParseString(p+"MAX_BITRATE", t.MaxBitrate)
	t.MaxHeight = ParseInt(p+"MAX_HEIGHT", t.MaxHeight)
	t.AudioCodec = ParseString(p+"AUDIO_CODEC", t.AudioCodec)
	t.AudioBitrate = ParseString(p+"AUDIO_BITRATE", t.AudioBitrate)
	t.AudioChannels = ParseInt(p+"AUDIO_CHANNELS", t.AudioChannels)
	t.MaxConcurrent = ParseInt(p+"MAX_CONCURRENT", t.MaxConcurrent)
	t.CPULimitPercent = ParseInt(p+"CPU_LIMIT", t.CPULimitPercent)
	t.Priority = ParseString(p+"PRIORITY", t.Priority)
	t.SegmentSeconds = ParseInt(p+"SEGMENT_SECONDS", t.SegmentSeconds)
	t.IdleTimeout = ParseDuration(p+"IDLE_TIMEOUT", t.IdleTimeout)
	t.StallTimeout = ParseDuration(p+"STALL_TIMEOUT", t.StallTimeout)

	c := &cfg.Cache
	c.Enabled = ParseBool(p+"CACHE_ENABLED", c.Enabled)
	c.MaxSizeGB = ParseFloat(p+"CACHE_MAX_GB", c.MaxSizeGB)
	c.RetentionDays = ParseInt(p+"CACHE_RETENTION_DAYS", c.RetentionDays)
	c.SweepInterval = ParseDuration(p+"CACHE_SWEEP_INTERVAL", c.SweepInterval)

	tel := &cfg.Telemetry
	tel.Enabled = ParseBool(p+"TELEMETRY_ENABLED", tel.Enabled)
	tel.Exporter = ParseString(p+"TELEMETRY_EXPORTER", tel.Exporter)
	tel.Endpoint = ParseString(p+"TELEMETRY_ENDPOINT", tel.Endpoint)
	tel.SamplingRate = ParseFloat(p+"TELEMETRY_SAMPLING_RATE", tel.SamplingRate)
}
