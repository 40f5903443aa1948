// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vod

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/michaeldallariva/NexusM-sub001/internal/admission"
	"github.com/michaeldallariva/NexusM-sub001/internal/decision"
	"github.com/michaeldallariva/NexusM-sub001/internal/encoder"
	xglog "github.com/michaeldallariva/NexusM-sub001/internal/log"
	"github.com/michaeldallariva/NexusM-sub001/internal/media/ffmpeg/watchdog"
	"github.com/michaeldallariva/NexusM-sub001/internal/metrics"
	"github.com/michaeldallariva/NexusM-sub001/internal/platform/host"
)

// job is one supervised encoder process.
type job struct {
	id        string
	req       Request
	encoder   string
	outputDir string
	cmd       *exec.Cmd
	startedAt time.Time
	lastSeenN atomic.Int64
	wd        *watchdog.Watchdog
	stderr    *ring
	release   admission.Release
	source    os.FileInfo

	stopOnce sync.Once
	stopCh   chan struct{}
	reason   stopReason

	done chan struct{}
}

func (j *job) touch(t time.Time) { j.lastSeenN.Store(t.UnixNano()) }

func (j *job) lastSeen() time.Time { return time.Unix(0, j.lastSeenN.Load()) }

// requestStop asks the supervisor to terminate the process. Only the first
// reason is kept.
func (j *job) requestStop(r stopReason) {
	j.stopOnce.Do(func() {
		j.reason = r
		close(j.stopCh)
	})
}

func (j *job) snapshot(now time.Time) Status {
	p := j.wd.Progress()
	return Status{
		TranscodeID:  j.id,
		SourcePath:   j.req.SourcePath,
		Encoder:      j.encoder,
		Mode:         j.req.Mode,
		State:        StateRunning,
		StartedAt:    j.startedAt,
		LastActivity: j.lastSeen(),
		Duration:     now.Sub(j.startedAt),
		OutTime:      p.OutTime,
		Speed:        p.Speed,
		Progress:     progressPercent(p.OutTime, j.req.Duration),
		OutputDir:    j.outputDir,
	}
}

// progressPercent is the share of total already encoded, capped at 100.
func progressPercent(done, total time.Duration) float64 {
	if total <= 0 || done <= 0 {
		return 0
	}
	pct := float64(done) / float64(total) * 100
	if pct > 100 {
		return 100
	}
	return math.Round(pct*10) / 10
}

// encoderLabel names what processes the video stream.
func encoderLabel(mode decision.Mode, p encoder.Profile) string {
	if mode == decision.ModeTranscode {
		return string(p.ID)
	}
	return "copy"
}

// launch builds the command and starts it. The admission slot is owned by
// the job from here on and released exactly once.
func (m *Manager) launch(req Request, src os.FileInfo, release admission.Release) (Status, error) {
	now := m.clock.Now()
	logger := m.logger.With().Str(xglog.FieldTranscodeID, req.TranscodeID).Logger()

	fail := func(label string, err error) (Status, error) {
		release()
		metrics.RecordLaunchFailure()
		err = fmt.Errorf("%w: %v", ErrLaunch, err)
		st := Status{
			TranscodeID:  req.TranscodeID,
			SourcePath:   req.SourcePath,
			Encoder:      label,
			Mode:         req.Mode,
			State:        StateFailed,
			StartedAt:    now,
			LastActivity: now,
			EndedAt:      now,
			Error:        err.Error(),
		}
		m.mu.Lock()
		m.history[req.TranscodeID] = st
		m.mu.Unlock()
		logger.Error().Err(err).Str(xglog.FieldEvent, "job.launch_failed").Msg("failed to launch transcode")
		return st, err
	}

	profile := encoder.Resolve(encoder.Software)
	if req.Mode == decision.ModeTranscode && m.encoders != nil {
		profile = m.encoders.Active()
	}
	label := encoderLabel(req.Mode, profile)

	dir, err := m.out.OutputDir(req.TranscodeID)
	if err != nil {
		return fail(label, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fail(label, err)
	}

	var (
		threads int
		limits  host.Limits
	)
	software := req.Mode == decision.ModeTranscode && !profile.IsHardware()
	if software {
		threads, limits = SoftwareLimits(m.cfg.CPULimitPercent, m.cores, m.cfg.Priority)
		if limits.CPUs > 0 && !m.platform.HasAffinity() {
			logger.Debug().Int("cpus", limits.CPUs).
				Msg("cpu affinity unsupported on this platform, applying priority-only limits")
			limits.CPUs = 0
		}
	}

	args, err := BuildArgs(BuildArgsInput{
		SourcePath: req.SourcePath,
		OutputDir:  dir,
		Mode:       req.Mode,
		AudioTrack: req.AudioTrack,
		Profile:    profile,
		Threads:    threads,
		Settings:   m.cfg.Settings,
	})
	if err != nil {
		return fail(label, err)
	}

	j := &job{
		id:        req.TranscodeID,
		req:       req,
		encoder:   label,
		outputDir: dir,
		startedAt: now,
		stderr:    newRing(),
		release:   release,
		source:    src,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	j.touch(now)
	j.wd = watchdog.New(m.cfg.StartTimeout, m.cfg.StallTimeout, m.wdOpts...)

	cmd := m.newCmd(m.cfg.FFmpegBin, args...)
	cmd.Stdout = newLineWriter(j.wd.ParseLine)
	cmd.Stderr = newLineWriter(j.stderr.Add)
	// Orphaned pipe holders must not wedge Wait after the tree is killed.
	cmd.WaitDelay = 5 * time.Second
	m.platform.Prepare(cmd)
	j.cmd = cmd

	// Registration and the closed check share m.mu so that Shutdown either
	// sees this job or this launch sees Shutdown.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		release()
		return Status{}, ErrClosed
	}
	m.jobs[j.id] = j
	delete(m.history, j.id)
	m.wg.Add(1)
	m.mu.Unlock()

	if err := cmd.Start(); err != nil {
		m.mu.Lock()
		if m.jobs[j.id] == j {
			delete(m.jobs, j.id)
		}
		m.mu.Unlock()
		close(j.done)
		m.wg.Done()
		return fail(label, err)
	}

	if software {
		if err := m.platform.ApplyLimits(cmd.Process.Pid, limits); err != nil {
			logger.Warn().Err(err).Int(xglog.FieldPID, cmd.Process.Pid).Msg("failed to apply process limits")
		}
	}

	metrics.RecordJobStart(string(req.Mode), label)
	logger.Info().
		Str(xglog.FieldEvent, "job.started").
		Str(xglog.FieldMode, string(req.Mode)).
		Str(xglog.FieldEncoder, label).
		Int(xglog.FieldPID, cmd.Process.Pid).
		Int("threads", threads).
		Str(xglog.FieldSourcePath, req.SourcePath).
		Msg("transcode started")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	go m.supervise(j, waitCh)

	return j.snapshot(now), nil
}

// supervise waits for the process, enforces the watchdog and stop requests,
// then records the outcome. It is the only place a job leaves the active set.
func (m *Manager) supervise(j *job, waitCh chan error) {
	defer m.wg.Done()
	logger := m.logger.With().Str(xglog.FieldTranscodeID, j.id).Logger()

	var (
		waitErr  error
		wdErr    error
		stopped  bool
		exited   bool
		panicked any
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = r
				logger.Error().Interface("panic", r).Msg("job supervisor panicked")
				if !exited {
					_ = m.platform.Terminate(j.cmd, waitCh, m.cfg.KillGrace)
				}
			}
		}()

		wdCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		wdCh := make(chan error, 1)
		go func(ch chan<- error) { ch <- j.wd.Run(wdCtx) }(wdCh)

		for {
			select {
			case waitErr = <-waitCh:
				exited = true
				return
			case err := <-wdCh:
				wdCh = nil
				if err == nil {
					// progress=end; the process exits on its own.
					continue
				}
				wdErr = err
				logger.Warn().Err(err).Str(xglog.FieldEvent, "job.stalled").Msg("encoder made no progress, killing")
				waitErr = m.platform.Terminate(j.cmd, waitCh, m.cfg.KillGrace)
				exited = true
				return
			case <-j.stopCh:
				stopped = true
				waitErr = m.platform.Terminate(j.cmd, waitCh, m.cfg.KillGrace)
				exited = true
				return
			}
		}
	}()

	j.release()

	end := m.clock.Now()
	st := j.snapshot(end)
	st.EndedAt = end
	st.Duration = end.Sub(j.startedAt)
	if ps := j.cmd.ProcessState; ps != nil {
		code := ps.ExitCode()
		st.ExitCode = &code
	}

	outcome := metrics.OutcomeCompleted
	switch {
	case panicked != nil:
		st.State = StateFailed
		st.Error = fmt.Sprintf("supervisor panic: %v", panicked)
		outcome = metrics.OutcomeFailed
	case stopped:
		st.State = StateKilled
		st.Error = string(j.reason)
		outcome = metrics.OutcomeStopped
		if j.reason == reasonIdle {
			outcome = metrics.OutcomeIdleReaped
		}
	case wdErr != nil:
		st.State = StateFailed
		st.Error = wdErr.Error()
		if excerpt := j.stderr.Excerpt(); excerpt != "" {
			st.Error += ": " + excerpt
		}
		outcome = metrics.OutcomeStalled
	case waitErr != nil:
		st.State = StateFailed
		st.Error = j.stderr.Excerpt()
		if st.Error == "" {
			st.Error = waitErr.Error()
		}
		outcome = metrics.OutcomeFailed
	default:
		st.State = StateCompleted
		if j.req.Duration > 0 {
			st.Progress = 100
		}
	}

	if st.State == StateCompleted {
		if err := m.out.Finalize(j.id); err != nil {
			logger.Warn().Err(err).Msg("failed to finalize playlist")
		} else if err := m.out.Persist(j.id, j.req.SourcePath, j.source); err != nil {
			logger.Warn().Err(err).Msg("failed to persist cache fingerprint")
		}
	} else if !m.out.Enabled() {
		if err := m.out.Remove(j.id); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Debug().Err(err).Msg("failed to remove temporary output")
		}
	}

	metrics.RecordJobExit(outcome, st.Duration.Seconds())
	ev := logger.Info()
	if st.State == StateFailed {
		ev = logger.Warn()
	}
	ev = ev.Str(xglog.FieldEvent, "job.exited").
		Str(xglog.FieldNewState, string(st.State)).
		Dur("duration", st.Duration)
	if st.ExitCode != nil {
		ev = ev.Int(xglog.FieldExitCode, *st.ExitCode)
	}
	if st.Error != "" {
		ev = ev.Str("error", st.Error)
	}
	ev.Msg("transcode finished")

	m.finish(j, st)
	close(j.done)
}
