// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package vod

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaeldallariva/NexusM-sub001/internal/admission"
	"github.com/michaeldallariva/NexusM-sub001/internal/decision"
	"github.com/michaeldallariva/NexusM-sub001/internal/encoder"
	"github.com/michaeldallariva/NexusM-sub001/internal/media/ffmpeg/watchdog"
	"github.com/michaeldallariva/NexusM-sub001/internal/platform/host"
)

type fakeOutput struct {
	root    string
	enabled bool

	mu        sync.Mutex
	removed   []string
	persisted []string
	sources   []os.FileInfo
	finalized []string
	purged    int
}

func (o *fakeOutput) Enabled() bool { return o.enabled }

func (o *fakeOutput) OutputDir(id string) (string, error) {
	return filepath.Join(o.root, id), nil
}

func (o *fakeOutput) Remove(id string) error {
	o.mu.Lock()
	o.removed = append(o.removed, id)
	o.mu.Unlock()
	return os.RemoveAll(filepath.Join(o.root, id))
}

func (o *fakeOutput) Persist(id, _ string, src os.FileInfo) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.persisted = append(o.persisted, id)
	o.sources = append(o.sources, src)
	return nil
}

func (o *fakeOutput) Finalize(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finalized = append(o.finalized, id)
	return nil
}

func (o *fakeOutput) PurgeTemp() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.purged++
	return nil
}

func (o *fakeOutput) calls() (removed, persisted, finalized []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.removed...), append([]string(nil), o.persisted...), append([]string(nil), o.finalized...)
}

type fixedEncoder encoder.ID

func (f fixedEncoder) Active() encoder.Profile { return encoder.Resolve(encoder.ID(f)) }

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scripted runs a shell script instead of ffmpeg and records the arguments.
type scripted struct {
	mu     sync.Mutex
	script string
	args   [][]string
}

func (s *scripted) set(script string) {
	s.mu.Lock()
	s.script = script
	s.mu.Unlock()
}

func (s *scripted) factory(_ string, args ...string) *exec.Cmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.args = append(s.args, args)
	return exec.Command("sh", "-c", s.script)
}

func (s *scripted) lastArgs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.args) == 0 {
		return nil
	}
	return s.args[len(s.args)-1]
}

type harness struct {
	m        *Manager
	out      *fakeOutput
	gate     *admission.Gate
	platform *host.Fake
	cmd      *scripted
	clock    *manualClock
}

func newHarness(t *testing.T, cfg Config, maxJobs int, opts ...Option) *harness {
	t.Helper()
	return newHarnessWithGate(t, cfg, admission.NewGate(maxJobs, 100*time.Millisecond), opts...)
}

func newHarnessWithGate(t *testing.T, cfg Config, gate *admission.Gate, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		out:      &fakeOutput{root: t.TempDir(), enabled: true},
		gate:     gate,
		platform: &host.Fake{Affinity: true},
		cmd:      &scripted{script: "exit 0"},
		clock:    &manualClock{now: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	if cfg.KillGrace == 0 {
		cfg.KillGrace = 200 * time.Millisecond
	}
	opts = append([]Option{WithCommandFactory(h.cmd.factory), WithClock(h.clock), WithCores(8)}, opts...)
	h.m = NewManager(cfg, fixedEncoder(encoder.Software), h.out, h.gate, h.platform, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.m.Shutdown(ctx)
	})
	return h
}

func req(id string, mode decision.Mode) Request {
	return Request{TranscodeID: id, SourcePath: "/media/" + id + ".mkv", Mode: mode}
}

func waitDone(t *testing.T, m *Manager, id string) Status {
	t.Helper()
	done, ok := m.Done(id)
	if ok {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("job %s did not finish", id)
		}
	}
	st, found := m.Lookup(id)
	require.True(t, found)
	return st
}

func TestJobCompletesAndPersists(t *testing.T) {
	h := newHarness(t, Config{}, 2)
	h.cmd.set(`echo out_time_us=1000000; echo progress=end; exit 0`)

	st, err := h.m.Start(context.Background(), req("m1_a0", decision.ModeRemux))
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, "copy", st.Encoder)

	st = waitDone(t, h.m, "m1_a0")
	assert.Equal(t, StateCompleted, st.State)
	require.NotNil(t, st.ExitCode)
	assert.Equal(t, 0, *st.ExitCode)
	assert.Equal(t, time.Second, st.OutTime)
	assert.False(t, h.m.Busy("m1_a0"))
	assert.Equal(t, 0, h.gate.InUse())

	_, persisted, finalized := h.out.calls()
	assert.Equal(t, []string{"m1_a0"}, persisted)
	assert.Equal(t, []string{"m1_a0"}, finalized)
}

func TestJobFailureKeepsDiagnostics(t *testing.T) {
	h := newHarness(t, Config{}, 1)
	h.cmd.set(`echo "Unknown encoder 'libx264'" >&2; exit 3`)

	_, err := h.m.Start(context.Background(), req("bad", decision.ModeTranscode))
	require.NoError(t, err)

	st := waitDone(t, h.m, "bad")
	assert.Equal(t, StateFailed, st.State)
	require.NotNil(t, st.ExitCode)
	assert.Equal(t, 3, *st.ExitCode)
	assert.Contains(t, st.Error, "Unknown encoder")
	assert.Equal(t, 0, h.gate.InUse())

	_, persisted, _ := h.out.calls()
	assert.Empty(t, persisted)
}

func TestStopKillsProcessTree(t *testing.T) {
	h := newHarness(t, Config{}, 1)
	h.cmd.set(`sleep 30 & wait`)

	_, err := h.m.Start(context.Background(), req("s", decision.ModeRemux))
	require.NoError(t, err)
	assert.True(t, h.m.Busy("s"))

	require.NoError(t, h.m.Stop(context.Background(), "s"))
	st, ok := h.m.Lookup("s")
	require.True(t, ok)
	assert.Equal(t, StateKilled, st.State)
	assert.Equal(t, "stopped", st.Error)
	assert.False(t, h.m.Busy("s"))
	assert.Equal(t, 0, h.gate.InUse())

	assert.ErrorIs(t, h.m.Stop(context.Background(), "s"), ErrNotFound)
}

func TestRestartTerminatesPreviousJob(t *testing.T) {
	h := newHarness(t, Config{}, 1)
	h.cmd.set(`sleep 30`)

	first, err := h.m.Start(context.Background(), req("same", decision.ModeRemux))
	require.NoError(t, err)
	oldDone, ok := h.m.Done("same")
	require.True(t, ok)
	h.m.mu.Lock()
	oldPid := h.m.jobs["same"].cmd.Process.Pid
	h.m.mu.Unlock()

	// A single slot: the restart must free it by killing the old job first.
	second, err := h.m.Start(context.Background(), req("same", decision.ModeRemux))
	require.NoError(t, err)

	select {
	case <-oldDone:
	default:
		t.Fatal("old job still running after restart")
	}
	assert.True(t, errors.Is(syscall.Kill(oldPid, 0), syscall.ESRCH), "old process must be gone")
	assert.False(t, second.StartedAt.Before(first.StartedAt))
	assert.True(t, h.m.Busy("same"))

	removed, _, _ := h.out.calls()
	assert.Equal(t, []string{"same", "same"}, removed)
}

func TestIdleReaper(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: time.Minute}, 2)
	h.cmd.set(`sleep 30`)

	_, err := h.m.Start(context.Background(), req("active", decision.ModeRemux))
	require.NoError(t, err)
	_, err = h.m.Start(context.Background(), req("abandoned", decision.ModeRemux))
	require.NoError(t, err)

	h.clock.Advance(40 * time.Second)
	assert.True(t, h.m.Touch("active"))
	h.clock.Advance(30 * time.Second)

	assert.Equal(t, 1, h.m.ReapIdle())
	st := waitDone(t, h.m, "abandoned")
	assert.Equal(t, StateKilled, st.State)
	assert.Equal(t, "idle", st.Error)
	assert.True(t, h.m.Busy("active"))
	assert.False(t, h.m.Touch("abandoned"))
}

func TestAdmissionRejectsWhenFull(t *testing.T) {
	h := newHarness(t, Config{}, 1)
	h.cmd.set(`sleep 30`)

	_, err := h.m.Start(context.Background(), req("a", decision.ModeRemux))
	require.NoError(t, err)

	_, err = h.m.Start(context.Background(), req("b", decision.ModeRemux))
	assert.ErrorIs(t, err, admission.ErrBusy)
	assert.False(t, h.m.Busy("b"))
}

func TestStalledJobIsKilled(t *testing.T) {
	h := newHarness(t, Config{StartTimeout: 100 * time.Millisecond}, 1,
		WithWatchdogOptions(watchdog.WithTick(10*time.Millisecond)))
	h.cmd.set(`sleep 30`)

	_, err := h.m.Start(context.Background(), req("hung", decision.ModeRemux))
	require.NoError(t, err)

	st := waitDone(t, h.m, "hung")
	assert.Equal(t, StateFailed, st.State)
	assert.Contains(t, st.Error, watchdog.ErrStartTimeout.Error())
	assert.Equal(t, 0, h.gate.InUse())
}

func TestLaunchFailureIsVisibleInStatus(t *testing.T) {
	h := newHarness(t, Config{}, 1,
		WithCommandFactory(func(string, ...string) *exec.Cmd {
			return exec.Command(filepath.Join(t.TempDir(), "no-such-ffmpeg"))
		}))

	st, err := h.m.Start(context.Background(), req("x", decision.ModeTranscode))
	assert.ErrorIs(t, err, ErrLaunch)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, 0, h.gate.InUse())

	rows := h.m.Status()
	require.Len(t, rows, 1)
	assert.Equal(t, StateFailed, rows[0].State)
	assert.NotEmpty(t, rows[0].Error)
}

func TestSoftwareTranscodeAppliesLimits(t *testing.T) {
	h := newHarness(t, Config{CPULimitPercent: 50, Priority: host.PriorityNormal}, 1)
	h.cmd.set(`exit 0`)

	_, err := h.m.Start(context.Background(), req("sw", decision.ModeTranscode))
	require.NoError(t, err)
	waitDone(t, h.m, "sw")

	args := h.cmd.lastArgs()
	assert.Contains(t, args, "libx264")
	assert.Contains(t, args, "-threads")
	applied := h.platform.Applied()
	require.Len(t, applied, 1)
	assert.Equal(t, host.Limits{Priority: host.PriorityBelowNormal, CPUs: 4}, applied[0].Limits)
}

func TestRemuxDoesNotApplyLimits(t *testing.T) {
	h := newHarness(t, Config{CPULimitPercent: 50}, 1)
	_, err := h.m.Start(context.Background(), req("r", decision.ModeRemuxAudio))
	require.NoError(t, err)
	waitDone(t, h.m, "r")
	assert.Empty(t, h.platform.Applied())
	assert.NotContains(t, h.cmd.lastArgs(), "-threads")
}

func TestShutdownStopsEverything(t *testing.T) {
	h := newHarness(t, Config{}, 3)
	h.cmd.set(`sleep 30`)
	for _, id := range []string{"a", "b", "c"} {
		_, err := h.m.Start(context.Background(), req(id, decision.ModeRemux))
		require.NoError(t, err)
	}
	assert.Len(t, h.m.Status(), 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.m.Shutdown(ctx))

	for _, st := range h.m.Status() {
		assert.Equal(t, StateKilled, st.State, st.TranscodeID)
	}
	assert.Equal(t, 0, h.gate.InUse())
	assert.Equal(t, 1, h.out.purged)

	_, err := h.m.Start(context.Background(), req("late", decision.ModeRemux))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStartBlockedOnAdmissionDuringShutdown(t *testing.T) {
	h := newHarnessWithGate(t, Config{}, admission.NewGate(1, 5*time.Second))
	h.cmd.set(`sleep 30`)

	_, err := h.m.Start(context.Background(), req("a", decision.ModeRemux))
	require.NoError(t, err)

	lateErr := make(chan error, 1)
	go func() {
		_, err := h.m.Start(context.Background(), req("b", decision.ModeRemux))
		lateErr <- err
	}()
	// Give the second Start time to queue on the full gate.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.m.Shutdown(ctx))

	select {
	case err := <-lateErr:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked Start did not return after Shutdown")
	}
	assert.False(t, h.m.Busy("b"))
	assert.Equal(t, 0, h.gate.InUse())
	_, ok := h.m.Lookup("b")
	assert.False(t, ok, "no job may be recorded for a start refused at shutdown")
}

func TestLaunchAfterCloseReleasesSlot(t *testing.T) {
	h := newHarness(t, Config{}, 1)
	h.m.mu.Lock()
	h.m.closed = true
	h.m.mu.Unlock()

	release, err := h.gate.Acquire(context.Background())
	require.NoError(t, err)
	_, err = h.m.launch(req("x", decision.ModeRemux), nil, release)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, h.gate.InUse())
	assert.False(t, h.m.Busy("x"))
	_, ok := h.m.Lookup("x")
	assert.False(t, ok)
}

func TestPersistUsesSourceStatFromStart(t *testing.T) {
	h := newHarness(t, Config{}, 1)
	src := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(src, []byte("original"), 0o644))
	h.cmd.set(`sleep 0.3; exit 0`)

	r := req("m1_a0", decision.ModeRemux)
	r.SourcePath = src
	_, err := h.m.Start(context.Background(), r)
	require.NoError(t, err)

	// The source is replaced while the job is still running.
	require.NoError(t, os.WriteFile(src, []byte("a much longer replacement"), 0o644))
	st := waitDone(t, h.m, "m1_a0")
	require.Equal(t, StateCompleted, st.State)

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	require.Len(t, h.out.sources, 1)
	require.NotNil(t, h.out.sources[0])
	assert.Equal(t, int64(len("original")), h.out.sources[0].Size())
}

func TestUnreadableSourcePersistsWithoutStat(t *testing.T) {
	h := newHarness(t, Config{}, 1)
	_, err := h.m.Start(context.Background(), req("gone", decision.ModeRemux))
	require.NoError(t, err)
	waitDone(t, h.m, "gone")

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	require.Len(t, h.out.sources, 1)
	assert.Nil(t, h.out.sources[0])
}

func TestPriorityOnlyLimitsWithoutAffinity(t *testing.T) {
	h := newHarness(t, Config{CPULimitPercent: 50, Priority: host.PriorityNormal}, 1)
	h.platform.Affinity = false

	_, err := h.m.Start(context.Background(), req("sw", decision.ModeTranscode))
	require.NoError(t, err)
	waitDone(t, h.m, "sw")

	applied := h.platform.Applied()
	require.Len(t, applied, 1)
	assert.Equal(t, host.Limits{Priority: host.PriorityBelowNormal}, applied[0].Limits)
	assert.Contains(t, h.cmd.lastArgs(), "-threads")
}

func TestStatusReportsProgress(t *testing.T) {
	h := newHarness(t, Config{}, 1)
	h.cmd.set(`echo out_time_us=30000000; sleep 30`)

	r := req("p", decision.ModeRemux)
	r.Duration = 2 * time.Minute
	_, err := h.m.Start(context.Background(), r)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, ok := h.m.Lookup("p")
		return ok && st.Progress == 25
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.m.Stop(context.Background(), "p"))
}

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 0.0, progressPercent(time.Minute, 0))
	assert.Equal(t, 0.0, progressPercent(0, time.Minute))
	assert.Equal(t, 33.3, progressPercent(20*time.Second, time.Minute))
	assert.Equal(t, 100.0, progressPercent(2*time.Minute, time.Minute))
}

func TestDisabledOutputRemovedAfterKill(t *testing.T) {
	h := newHarness(t, Config{}, 1)
	h.out.enabled = false
	h.cmd.set(`sleep 30`)

	_, err := h.m.Start(context.Background(), req("tmp", decision.ModeRemux))
	require.NoError(t, err)
	require.NoError(t, h.m.Stop(context.Background(), "tmp"))

	removed, _, _ := h.out.calls()
	assert.Equal(t, []string{"tmp", "tmp"}, removed)
	assert.NoDirExists(t, filepath.Join(h.out.root, "tmp"))
}

func TestStartValidation(t *testing.T) {
	h := newHarness(t, Config{}, 1)
	_, err := h.m.Start(context.Background(), req("d", decision.ModeDirect))
	assert.ErrorIs(t, err, ErrDirectMode)
	_, err = h.m.Start(context.Background(), Request{Mode: decision.ModeRemux})
	assert.Error(t, err)
}
