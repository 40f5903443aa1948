// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package vod supervises the external encoder processes that turn a source
// file into segmented HLS output. It admits, launches, tracks, reaps and
// stops jobs keyed by transcode id.
package vod

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/michaeldallariva/NexusM-sub001/internal/media/ffmpeg/watchdog"
	xglog "github.com/michaeldallariva/NexusM-sub001/internal/log"
	"github.com/michaeldallariva/NexusM-sub001/internal/platform/host"
	"github.com/michaeldallariva/NexusM-sub001/internal/telemetry"
)

const maxHistory = 64

// Config holds the supervision settings of a Manager.
type Config struct {
	FFmpegBin       string
	Settings        EncodeSettings
	CPULimitPercent int
	Priority        host.Priority
	IdleTimeout     time.Duration
	IdleSweep       time.Duration
	StartTimeout    time.Duration
	StallTimeout    time.Duration
	KillGrace       time.Duration
}

func (c Config) withDefaults() Config {
	if c.FFmpegBin == "" {
		c.FFmpegBin = "ffmpeg"
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.IdleSweep <= 0 {
		c.IdleSweep = 30 * time.Second
	}
	if c.KillGrace <= 0 {
		c.KillGrace = 2 * time.Second
	}
	return c
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for activity tracking.
func WithClock(c Clock) Option { return func(m *Manager) { m.clock = c } }

// WithCommandFactory replaces exec.Command.
func WithCommandFactory(f CommandFactory) Option { return func(m *Manager) { m.newCmd = f } }

// WithCores fixes the logical core count used for CPU limits.
func WithCores(n int) Option { return func(m *Manager) { m.cores = n } }

// WithWatchdogOptions passes options to every job watchdog.
func WithWatchdogOptions(opts ...watchdog.Option) Option {
	return func(m *Manager) { m.wdOpts = append(m.wdOpts, opts...) }
}

// Manager owns every running transcode job. At most one job exists per transcode id.
type Manager struct {
	cfg      Config
	encoders EncoderSource
	out      Output
	gate     Admission
	platform host.Platform

	clock  Clock
	newCmd CommandFactory
	cores  int
	wdOpts []watchdog.Option
	logger zerolog.Logger
	tracer trace.Tracer

	locks keyedMutex

	mu      sync.Mutex
	jobs    map[string]*job
	history map[string]Status
	closed  bool
	wg      sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(cfg Config, encoders EncoderSource, out Output, gate Admission, platform host.Platform, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		encoders: encoders,
		out:      out,
		gate:     gate,
		platform: platform,
		clock:    realClock{},
		newCmd:   exec.Command,
		logger:   xglog.WithComponent("vod"),
		tracer:   telemetry.Tracer("nexusm.vod"),
		jobs:     make(map[string]*job),
		history:  make(map[string]Status),
	}
	for _, o := range opts {
		o(m)
	}
	if m.cores <= 0 {
		m.cores = LogicalCores()
	}
	return m
}

// Start launches a job for req, terminating any job that already owns the
// transcode id and clearing its output first. It returns admission.ErrBusy
// when no slot frees up in time and an ErrLaunch-wrapped error when the
// process could not be started; the latter is also visible via Status.
func (m *Manager) Start(ctx context.Context, req Request) (Status, error) {
	if req.TranscodeID == "" || req.SourcePath == "" {
		return Status{}, errors.New("transcode id and source path are required")
	}
	if !req.Mode.NeedsProcess() {
		return Status{}, ErrDirectMode
	}

	ctx, span := m.tracer.Start(ctx, "vod.start",
		trace.WithAttributes(telemetry.TranscodeAttributes(req.TranscodeID, string(req.Mode), "")...))
	defer span.End()

	unlock := m.locks.Lock(req.TranscodeID)
	defer unlock()

	if m.isClosed() {
		return Status{}, ErrClosed
	}

	if old := m.active(req.TranscodeID); old != nil {
		m.logger.Info().
			Str(xglog.FieldTranscodeID, req.TranscodeID).
			Str(xglog.FieldEvent, "job.replacing").
			Msg("terminating existing job before restart")
		if err := m.stopAndWait(ctx, old, reasonReplaced); err != nil {
			telemetry.RecordError(span, err)
			return Status{}, err
		}
	}

	if err := m.out.Remove(req.TranscodeID); err != nil {
		err = fmt.Errorf("%w: clear output: %v", ErrLaunch, err)
		telemetry.RecordError(span, err)
		return Status{}, err
	}

	src, err := os.Stat(req.SourcePath)
	if err != nil {
		// The fingerprint needs the source as it was at start; without it the
		// output is never persisted.
		m.logger.Warn().Err(err).Str(xglog.FieldTranscodeID, req.TranscodeID).
			Str(xglog.FieldSourcePath, req.SourcePath).Msg("source not readable at job start")
	}

	release, err := m.gate.Acquire(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return Status{}, err
	}
	// Shutdown may have begun while this caller waited for a slot.
	if m.isClosed() {
		release()
		return Status{}, ErrClosed
	}

	st, err := m.launch(req, src, release)
	telemetry.RecordError(span, err)
	return st, err
}

// Touch records client activity for id. It reports whether a job was running.
func (m *Manager) Touch(id string) bool {
	if j := m.active(id); j != nil {
		j.touch(m.clock.Now())
		return true
	}
	return false
}

// Busy reports whether a running job owns id's output directory.
func (m *Manager) Busy(id string) bool {
	return m.active(id) != nil
}

// Stop force-terminates the job for id and waits for it to exit.
func (m *Manager) Stop(ctx context.Context, id string) error {
	j := m.active(id)
	if j == nil {
		return ErrNotFound
	}
	return m.stopAndWait(ctx, j, reasonStopped)
}

// Status lists running jobs followed by recently finished ones, newest first.
func (m *Manager) Status() []Status {
	m.mu.Lock()
	out := make([]Status, 0, len(m.jobs)+len(m.history))
	for _, j := range m.jobs {
		out = append(out, j.snapshot(m.clock.Now()))
	}
	for id, st := range m.history {
		if _, running := m.jobs[id]; !running {
			out = append(out, st)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		if !out[i].StartedAt.Equal(out[k].StartedAt) {
			return out[i].StartedAt.After(out[k].StartedAt)
		}
		return out[i].TranscodeID < out[k].TranscodeID
	})
	return out
}

// Lookup returns the status of id, running or recently finished.
func (m *Manager) Lookup(id string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return j.snapshot(m.clock.Now()), true
	}
	st, ok := m.history[id]
	return st, ok
}

// Done returns a channel closed when the job currently running for id exits.
// ok is false when nothing is running.
func (m *Manager) Done(id string) (<-chan struct{}, bool) {
	if j := m.active(id); j != nil {
		return j.done, true
	}
	return nil, false
}

// ReapIdle stops every running job without activity for IdleTimeout. It does
// not wait for the processes to exit.
func (m *Manager) ReapIdle() int {
	now := m.clock.Now()
	m.mu.Lock()
	var idle []*job
	for _, j := range m.jobs {
		if now.Sub(j.lastSeen()) > m.cfg.IdleTimeout {
			idle = append(idle, j)
		}
	}
	m.mu.Unlock()

	for _, j := range idle {
		m.logger.Info().
			Str(xglog.FieldTranscodeID, j.id).
			Dur("idle", now.Sub(j.lastSeen())).
			Str(xglog.FieldEvent, "job.idle_reaped").
			Msg("stopping abandoned transcode")
		j.requestStop(reasonIdle)
	}
	return len(idle)
}

// Run sweeps for idle jobs every IdleSweep until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.IdleSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapIdle()
		}
	}
}

// Shutdown stops every job, waits for the supervisors, and purges temporary output.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	jobs := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.Unlock()

	m.logger.Info().Int("count", len(jobs)).Str(xglog.FieldEvent, "vod.shutdown").Msg("stopping all transcodes")
	for _, j := range jobs {
		j.requestStop(reasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.out.PurgeTemp()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) active(id string) *job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

func (m *Manager) stopAndWait(ctx context.Context, j *job, reason stopReason) error {
	j.requestStop(reason)
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish moves a job from the active set into history.
func (m *Manager) finish(j *job, st Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobs[j.id] == j {
		delete(m.jobs, j.id)
	}
	m.history[j.id] = st
	if len(m.history) <= maxHistory {
		return
	}
	oldestID := ""
	var oldest time.Time
	for id, h := range m.history {
		if oldestID == "" || h.EndedAt.Before(oldest) {
			oldestID, oldest = id, h.EndedAt
		}
	}
	delete(m.history, oldestID)
}

// keyedMutex serializes Start per transcode id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
