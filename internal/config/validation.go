// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// ValidationError names the offending key.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

var (
	validEncoders   = []string{EncoderAuto, EncoderSoftware, EncoderNVENC, EncoderQSV, EncoderAMF, EncoderVAAPI}
	validPriorities = []string{PriorityNormal, PriorityBelowNormal, PriorityIdle}
	validExporters  = []string{"grpc", "http"}
)

// Validate checks ranges and enums. All failures are joined.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(field, reason string) {
		errs = append(errs, &ValidationError{Field: field, Reason: reason})
	}

	if cfg.Listen == "" {
		add("listen", "must not be empty")
	}
	if cfg.DataDir == "" {
		add("dataDir", "must not be empty")
	}
	if cfg.FFmpeg.Bin == "" {
		add("ffmpeg.bin", "must not be empty")
	}
	if cfg.FFmpeg.TestTimeout <= 0 {
		add("ffmpeg.testTimeout", "must be positive")
	}

	t := cfg.Transcode
	if !slices.Contains(validEncoders, t.Encoder) {
		add("transcode.encoder", fmt.Sprintf("unknown encoder %q", t.Encoder))
	}
	if !slices.Contains(validPriorities, t.Priority) {
		add("transcode.priority", fmt.Sprintf("unknown priority %q", t.Priority))
	}
	if t.CRF < 0 || t.CRF > 51 {
		add("transcode.crf", "must be within 0..51")
	}
	if t.MaxHeight < 0 {
		add("transcode.maxHeight", "must not be negative")
	}
	if t.AudioChannels < 1 || t.AudioChannels > 8 {
		add("transcode.audioChannels", "must be within 1..8")
	}
	if t.MaxConcurrent < 1 {
		add("transcode.maxConcurrent", "must be at least 1")
	}
	if t.CPULimitPercent < 1 || t.CPULimitPercent > 100 {
		add("transcode.cpuLimitPercent", "must be within 1..100")
	}
	if t.SegmentSeconds < 1 {
		add("transcode.segmentSeconds", "must be at least 1")
	}
	for field, d := range map[string]int64{
		"transcode.admissionWait": int64(t.AdmissionWait),
		"transcode.idleTimeout":   int64(t.IdleTimeout),
		"transcode.idleSweep":     int64(t.IdleSweep),
		"transcode.startTimeout":  int64(t.StartTimeout),
		"transcode.stallTimeout":  int64(t.StallTimeout),
		"transcode.killGrace":     int64(t.KillGrace),
	} {
		if d <= 0 {
			add(field, "must be positive")
		}
	}

	if cfg.Cache.MaxSizeGB < 0 {
		add("cache.maxSizeGB", "must not be negative")
	}
	if cfg.Cache.RetentionDays < 0 {
		add("cache.retentionDays", "must not be negative")
	}
	if cfg.Cache.Enabled && cfg.Cache.SweepInterval <= 0 {
		add("cache.sweepInterval", "must be positive when cache is enabled")
	}

	if cfg.Telemetry.Enabled {
		if !slices.Contains(validExporters, cfg.Telemetry.Exporter) {
			add("telemetry.exporter", fmt.Sprintf("unknown exporter %q", cfg.Telemetry.Exporter))
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			add("telemetry.samplingRate", "must be within 0..1")
		}
	}

	return errors.Join(errs...)
}
