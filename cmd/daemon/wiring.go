// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/michaeldallariva/NexusM-sub001/internal/admission"
	"github.com/michaeldallariva/NexusM-sub001/internal/api"
	"github.com/michaeldallariva/NexusM-sub001/internal/cache"
	"github.com/michaeldallariva/NexusM-sub001/internal/config"
	"github.com/michaeldallariva/NexusM-sub001/internal/hardware"
	"github.com/michaeldallariva/NexusM-sub001/internal/health"
	xglog "github.com/michaeldallariva/NexusM-sub001/internal/log"
	"github.com/michaeldallariva/NexusM-sub001/internal/platform/host"
	"github.com/michaeldallariva/NexusM-sub001/internal/stream"
	"github.com/michaeldallariva/NexusM-sub001/internal/telemetry"
	"github.com/michaeldallariva/NexusM-sub001/internal/vod"
)

const (
	serviceName     = "nexusm-stream"
	shutdownTimeout = 15 * time.Second
)

func proberConfig(cfg config.AppConfig) hardware.Config {
	return hardware.Config{
		Mode:        cfg.Transcode.Encoder,
		FFmpegBin:   cfg.FFmpeg.Bin,
		VAAPIDevice: cfg.Transcode.VAAPIDevice,
		TestTimeout: cfg.FFmpeg.TestTimeout,
	}
}

func cacheOptions(cfg config.AppConfig) cache.Options {
	return cache.Options{
		Root:      filepath.Join(cfg.DataDir, "cache"),
		TempRoot:  filepath.Join(cfg.DataDir, "transcode-tmp"),
		Enabled:   cfg.Cache.Enabled,
		MaxBytes:  cfg.Cache.MaxSizeBytes(),
		Retention: cfg.Cache.Retention(),
	}
}

func vodConfig(cfg config.AppConfig) vod.Config {
	t := cfg.Transcode
	return vod.Config{
		FFmpegBin: cfg.FFmpeg.Bin,
		Settings: vod.EncodeSettings{
			CRF:            t.CRF,
			Preset:         t.Preset,
			VideoBitrate:   t.VideoBitrate,
			MaxBitrate:     t.MaxBitrate,
			MaxHeight:      t.MaxHeight,
			HWDecode:       t.HWDecode,
			VAAPIDevice:    t.VAAPIDevice,
			AudioCodec:     t.AudioCodec,
			AudioBitrate:   t.AudioBitrate,
			AudioChannels:  t.AudioChannels,
			SegmentSeconds: t.SegmentSeconds,
		},
		CPULimitPercent: t.CPULimitPercent,
		Priority:        host.ParsePriority(t.Priority),
		IdleTimeout:     t.IdleTimeout,
		IdleSweep:       t.IdleSweep,
		StartTimeout:    t.StartTimeout,
		StallTimeout:    t.StallTimeout,
		KillGrace:       t.KillGrace,
	}
}

// needsRedetect reports whether a reload changed anything the prober depends on.
func needsRedetect(old, updated config.AppConfig) bool {
	return proberConfig(old) != proberConfig(updated)
}

// run wires the engine and blocks until ctx is cancelled.
func run(ctx context.Context, holder *config.Holder) error {
	cfg := holder.Get()
	logger := xglog.WithComponent("daemon")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	platform := host.Detect()
	prober := hardware.NewProber(proberConfig(cfg), platform, nil)
	report := prober.Init(ctx)
	logger.Info().
		Str(xglog.FieldEvent, "hw.ready").
		Str("platform", platform.Name()).
		Str(xglog.FieldEncoder, string(report.Active.ID)).
		Msg("encoder selected")

	store := cache.New(cacheOptions(cfg))
	if err := store.PurgeTemp(); err != nil {
		logger.Warn().Err(err).Msg("failed to purge transcode temp dir")
	}
	gate := admission.NewGate(cfg.Transcode.MaxConcurrent, cfg.Transcode.AdmissionWait)
	manager := vod.NewManager(vodConfig(cfg), prober, store, gate, platform)
	// Nothing runs yet, so every entry without a fingerprint is debris.
	if n, err := store.PurgeOrphans(manager.Busy); err != nil {
		logger.Warn().Err(err).Msg("orphan purge failed")
	} else if n > 0 {
		logger.Info().Int("removed", n).Str(xglog.FieldEvent, "cache.orphans_purged").Msg("removed incomplete cache entries")
	}

	svc := stream.NewService(manager, store, prober, stream.Options{})
	server := api.New(svc, api.Config{
		Version:        cfg.Version,
		TracingService: tracingService(cfg),
		Health:         healthChecks(cfg, store, gate, prober),
	})

	holder.OnChange(func(old, updated config.AppConfig) {
		if old.LogLevel != updated.LogLevel {
			xglog.SetLevel(updated.LogLevel)
		}
		if needsRedetect(old, updated) {
			go prober.Reinit(ctx, proberConfig(updated))
		}
	})
	if err := holder.Watch(ctx); err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		manager.Run(gctx)
		return nil
	})
	if cfg.Cache.Enabled {
		g.Go(func() error {
			store.Run(gctx, cfg.Cache.SweepInterval, manager.Busy)
			return nil
		})
	}
	g.Go(func() error {
		return server.Run(gctx, cfg.Listen)
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("transcode shutdown incomplete")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("telemetry shutdown failed")
	}
	return runErr
}

func healthChecks(cfg config.AppConfig, store *cache.Store, gate *admission.Gate, prober *hardware.Prober) *health.Manager {
	hm := health.NewManager(cfg.Version)
	hm.RegisterChecker(health.NewBinaryChecker("ffmpeg", cfg.FFmpeg.Bin))
	hm.RegisterChecker(health.NewDirChecker("output_dir", store.Root()))
	hm.RegisterChecker(health.CapacityChecker(gate.InUse, gate.Capacity()))
	hm.RegisterChecker(health.CheckFunc{CheckName: "hardware", Fn: func(context.Context) health.CheckResult {
		rep, ok := prober.Report()
		if !ok {
			return health.CheckResult{Status: health.StatusUnhealthy, Message: "detection pending"}
		}
		if rep.Active.IsHardware() || rep.Mode == hardware.ModeSoftware || len(rep.Candidates) == 0 {
			return health.CheckResult{Status: health.StatusHealthy, Message: string(rep.Active.ID)}
		}
		// Candidates existed but none passed its test encode.
		return health.CheckResult{Status: health.StatusDegraded, Message: "software fallback"}
	}})
	return hm
}

func tracingService(cfg config.AppConfig) string {
	if !cfg.Telemetry.Enabled {
		return ""
	}
	return serviceName
}
