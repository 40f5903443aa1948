// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hardware detects which encoder actually works on this host. GPUs are
// enumerated where the OS allows it, and each candidate is proven with a short
// synthetic encode. The outcome is an immutable Report held by a Prober, which
// is injected wherever the active encoder is needed.
package hardware

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/michaeldallariva/NexusM-sub001/internal/encoder"
	xglog "github.com/michaeldallariva/NexusM-sub001/internal/log"
	"github.com/michaeldallariva/NexusM-sub001/internal/metrics"
	"github.com/michaeldallariva/NexusM-sub001/internal/platform/host"
	"github.com/michaeldallariva/NexusM-sub001/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

const (
	ModeAuto     = "auto"
	ModeSoftware = "software"

	defaultTestTimeout = 10 * time.Second
	listTimeout        = 5 * time.Second
	excerptLimit       = 512
)

// Config selects the detection mode.
type Config struct {
	// Mode is "auto", "software" or an encoder id such as "nvenc".
	Mode        string
	FFmpegBin   string
	VAAPIDevice string
	TestTimeout time.Duration
}

// TestResult is the outcome of testing one encoder.
type TestResult struct {
	Encoder  encoder.ID    `json:"encoder"`
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Variant  string        `json:"variant,omitempty"`
	Failure  FailureClass  `json:"failure,omitempty"`
	Excerpt  string        `json:"excerpt,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the immutable result of one detection pass.
type Report struct {
	Mode       string          `json:"mode"`
	Enumerated bool            `json:"enumerated"`
	GPUs       []host.GPU      `json:"gpus,omitempty"`
	Candidates []encoder.ID    `json:"candidates,omitempty"`
	Results    []TestResult    `json:"results,omitempty"`
	Active     encoder.Profile `json:"active"`
	DetectedAt time.Time       `json:"detectedAt"`
	Elapsed    time.Duration   `json:"elapsed"`
}

// Prober owns the process-wide active encoder.
type Prober struct {
	platform host.Platform
	runner   Runner
	logger   zerolog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	cfg    Config
	report *Report

	sf       singleflight.Group
	detectMu sync.Mutex
}

// NewProber creates a prober. Nothing runs until Init.
func NewProber(cfg Config, platform host.Platform, runner Runner) *Prober {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Prober{
		cfg:      normalizeConfig(cfg),
		platform: platform,
		runner:   runner,
		logger:   xglog.WithComponent("hardware"),
		now:      time.Now,
	}
}

func normalizeConfig(cfg Config) Config {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = defaultTestTimeout
	}
	return cfg
}

// Init runs detection once. Later calls return the cached report.
func (p *Prober) Init(ctx context.Context) Report {
	if r, ok := p.Report(); ok {
		return r
	}
	return p.detectShared(ctx, false)
}

// Reinit discards the cached result and detects again with cfg.
func (p *Prober) Reinit(ctx context.Context, cfg Config) Report {
	p.mu.Lock()
	p.cfg = normalizeConfig(cfg)
	p.mu.Unlock()
	p.logger.Info().Str("event", "hw.reinit").Str(xglog.FieldMode, cfg.Mode).Msg("re-running encoder detection")
	return p.detectShared(ctx, true)
}

// detectShared collapses concurrent callers and serializes detection passes.
// Without force, a pass that already finished is reused.
func (p *Prober) detectShared(ctx context.Context, force bool) Report {
	key := "init"
	if force {
		key = "reinit"
	}
	v, _, _ := p.sf.Do(key, func() (any, error) {
		p.detectMu.Lock()
		defer p.detectMu.Unlock()
		if !force {
			if r, ok := p.Report(); ok {
				return r, nil
			}
		}

		p.mu.RLock()
		cfg := p.cfg
		p.mu.RUnlock()

		r := p.detect(ctx, cfg)

		p.mu.Lock()
		p.report = &r
		p.mu.Unlock()
		return r, nil
	})
	return v.(Report)
}

// Report returns the latest detection result. ok is false before Init.
func (p *Prober) Report() (Report, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.report == nil {
		return Report{}, false
	}
	return *p.report, true
}

// Config returns the detection settings of the latest pass.
func (p *Prober) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Active returns the selected profile, software before Init.
func (p *Prober) Active() encoder.Profile {
	if r, ok := p.Report(); ok {
		return r.Active
	}
	return encoder.Resolve(encoder.Software)
}

func (p *Prober) detect(ctx context.Context, cfg Config) Report {
	ctx, span := telemetry.Tracer("nexusm.hardware").Start(ctx, "hardware.detect")
	defer span.End()

	start := p.now()
	r := Report{Mode: cfg.Mode, DetectedAt: start, Active: encoder.Resolve(encoder.Software)}

	switch cfg.Mode {
	case ModeSoftware:
		p.logger.Info().Str("event", "hw.skip").Msg("software encoding configured, skipping hardware detection")
	case ModeAuto:
		gpus, ok := p.platform.EnumerateGPUs(ctx)
		r.Enumerated, r.GPUs = ok, gpus
		if ok {
			vendors := make([]encoder.Vendor, 0, len(gpus))
			for _, g := range gpus {
				v := ClassifyVendor(g)
				p.logger.Info().
					Str("event", "hw.gpu").
					Str("name", g.Name).
					Str(xglog.FieldVendor, string(v)).
					Msg("detected display adapter")
				vendors = append(vendors, v)
			}
			r.Candidates = Candidates(vendors, p.platform.SupportsAMF())
		} else {
			r.Candidates = append([]encoder.ID(nil), encoder.HardwareIDs...)
		}
	default:
		id, ok := encoder.ParseID(cfg.Mode)
		if !ok || id == encoder.Software {
			p.logger.Warn().Str(xglog.FieldMode, cfg.Mode).Msg("unknown encoder mode, using software")
		} else {
			r.Candidates = []encoder.ID{id}
		}
	}

	if len(r.Candidates) > 0 {
		listed := p.listEncoders(ctx, cfg)
		for _, id := range r.Candidates {
			res := p.test(ctx, cfg, id, listed)
			r.Results = append(r.Results, res)
			if res.Passed {
				r.Active = encoder.Resolve(id)
				break
			}
		}
	}

	r.Elapsed = p.now().Sub(start)
	metrics.SetActiveEncoder(r.Active.Encoder, string(r.Active.Category))
	span.SetAttributes(attribute.String(telemetry.EncoderKey, string(r.Active.ID)))
	p.logger.Info().
		Str("event", "hw.selected").
		Str(xglog.FieldEncoder, r.Active.Encoder).
		Str(xglog.FieldMode, cfg.Mode).
		Int("tested", len(r.Results)).
		Dur("elapsed", r.Elapsed).
		Msg("active encoder selected")
	return r
}

func (p *Prober) listEncoders(ctx context.Context, cfg Config) map[string]bool {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()
	out, err := p.runner.Run(ctx, cfg.FFmpegBin, "-hide_banner", "-encoders")
	if err != nil {
		p.logger.Error().Err(err).Str("event", "hw.list_failed").Msg("ffmpeg -encoders failed")
		return map[string]bool{}
	}
	return ParseEncoderList(out)
}

func (p *Prober) test(ctx context.Context, cfg Config, id encoder.ID, listed map[string]bool) TestResult {
	prof := encoder.Resolve(id)
	res := TestResult{Encoder: id, Name: prof.Encoder}
	start := p.now()
	finish := func() TestResult {
		res.Duration = p.now().Sub(start)
		p.record(res)
		return res
	}

	if !listed[prof.Encoder] {
		res.Failure = FailureNotInBuild
		return finish()
	}

	var lastOut string
	for _, v := range Variants(id, cfg.VAAPIDevice) {
		tctx, cancel := context.WithTimeout(ctx, cfg.TestTimeout)
		out, err := p.runner.Run(tctx, cfg.FFmpegBin, v.Args...)
		timedOut := errors.Is(tctx.Err(), context.DeadlineExceeded)
		cancel()

		res.Variant = v.Name
		if err == nil && !timedOut {
			res.Passed = true
			res.Failure = FailureNone
			return finish()
		}
		lastOut = string(out)
		if timedOut {
			res.Failure = FailureTimeout
		} else {
			res.Failure = ClassifyFailure(lastOut)
		}
		p.logger.Debug().
			Str(xglog.FieldEncoder, prof.Encoder).
			Str("variant", v.Name).
			Str("failure", string(res.Failure)).
			Msg("encoder variant failed")
		if ctx.Err() != nil {
			break
		}
	}
	res.Excerpt = truncate(strings.TrimSpace(lastOut), excerptLimit)
	return finish()
}

func (p *Prober) record(res TestResult) {
	result := "pass"
	if !res.Passed {
		result = string(res.Failure)
	}
	metrics.RecordEncoderTest(string(res.Encoder), result)

	ev := p.logger.Info()
	if !res.Passed {
		ev = p.logger.Warn().Str("failure", string(res.Failure))
	}
	ev.Str("event", "hw.test").
		Str(xglog.FieldEncoder, res.Name).
		Bool("passed", res.Passed).
		Str("variant", res.Variant).
		Msg("encoder capability test")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
