// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the streaming engine configuration from YAML and
// environment variables, validates it, and supports hot reloading.
package config

import "time"

// Encoder modes accepted by transcode.encoder.
const (
	EncoderAuto     = "auto"
	EncoderSoftware = "software"
	EncoderNVENC    = "nvenc"
	EncoderQSV      = "qsv"
	EncoderAMF      = "amf"
	EncoderVAAPI    = "vaapi"
)

// Process priorities accepted by transcode.priority.
const (
	PriorityNormal      = "normal"
	PriorityBelowNormal = "below_normal"
	PriorityIdle        = "idle"
)

// AppConfig is the fully resolved configuration.
type AppConfig struct {
	Version   string          `yaml:"-"`
	LogLevel  string          `yaml:"logLevel"`
	Listen    string          `yaml:"listen"`
	DataDir   string          `yaml:"dataDir"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	Transcode TranscodeConfig `yaml:"transcode"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// FFmpegConfig locates the external encoder binary.
type FFmpegConfig struct {
	Bin string `yaml:"bin"`
	// TestTimeout bounds each synthetic hardware encode.
	TestTimeout time.Duration `yaml:"testTimeout"`
}

// TranscodeConfig controls encoder selection and job supervision.
type TranscodeConfig struct {
	Encoder     string `yaml:"encoder"`
	VAAPIDevice string `yaml:"vaapiDevice"`
	HWDecode    bool   `yaml:"hwDecode"`

	CRF          int    `yaml:"crf"`
	Preset       string `yaml:"preset"`
	VideoBitrate string `yaml:"videoBitrate"`
	MaxBitrate   string `yaml:"maxBitrate"`
	MaxHeight    int    `yaml:"maxHeight"`

	AudioCodec    string `yaml:"audioCodec"`
	AudioBitrate  string `yaml:"audioBitrate"`
	AudioChannels int    `yaml:"audioChannels"`

	MaxConcurrent   int    `yaml:"maxConcurrent"`
	CPULimitPercent int    `yaml:"cpuLimitPercent"`
	Priority        string `yaml:"priority"`
	SegmentSeconds  int    `yaml:"segmentSeconds"`

	AdmissionWait time.Duration `yaml:"admissionWait"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	IdleSweep     time.Duration `yaml:"idleSweep"`
	StartTimeout  time.Duration `yaml:"startTimeout"`
	StallTimeout  time.Duration `yaml:"stallTimeout"`
	KillGrace     time.Duration `yaml:"killGrace"`
}

// CacheConfig controls the persistent segment cache.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	MaxSizeGB     float64       `yaml:"maxSizeGB"`
	RetentionDays int           `yaml:"retentionDays"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// TelemetryConfig mirrors telemetry.Config for file/env loading.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// MaxSizeBytes converts the configured cap to bytes. Zero disables the cap.
func (c CacheConfig) MaxSizeBytes() int64 {
	if c.MaxSizeGB <= 0 {
		return 0
	}
	return int64(c.MaxSizeGB * 1024 * 1024 * 1024)
}

// Retention converts RetentionDays into a duration. Zero disables age-based eviction.
func (c CacheConfig) Retention() time.Duration {
	if c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel: "info",
		Listen:   ":8182",
		DataDir:  "data",
		FFmpeg: FFmpegConfig{
			Bin:         "ffmpeg",
			TestTimeout: 10 * time.Second,
		},
		Transcode: TranscodeConfig{
			Encoder:         EncoderAuto,
			VAAPIDevice:     "/dev/dri/renderD128",
			CRF:             23,
			Preset:          "veryfast",
			VideoBitrate:    "6M",
			MaxBitrate:      "8M",
			AudioCodec:      "aac",
			AudioBitrate:    "192k",
			AudioChannels:   2,
			MaxConcurrent:   2,
			CPULimitPercent: 100,
			Priority:        PriorityBelowNormal,
			SegmentSeconds:  4,
			AdmissionWait:   30 * time.Second,
			IdleTimeout:     60 * time.Second,
			IdleSweep:       30 * time.Second,
			StartTimeout:    60 * time.Second,
			StallTimeout:    2 * time.Minute,
			KillGrace:       2 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:       true,
			MaxSizeGB:     20,
			RetentionDays: 30,
			SweepInterval: time.Hour,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}
