// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTicker struct{ ch chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	ticker *fakeTicker
	ready  chan struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ticker: &fakeTicker{ch: make(chan time.Time)},
		ready:  make(chan struct{}),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	close(c.ready)
	return c.ticker
}

// advance moves time forward and delivers one tick.
func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	c.ticker.ch <- now
}

func runAsync(w *Watchdog, ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	return errCh
}

func TestStartTimeout(t *testing.T) {
	clk := newFakeClock()
	w := New(10*time.Second, 30*time.Second, WithClock(clk))
	errCh := runAsync(w, context.Background())
	<-clk.ready

	clk.advance(5 * time.Second)
	clk.advance(6 * time.Second)

	require.ErrorIs(t, <-errCh, ErrStartTimeout)
	assert.Equal(t, StateTimedOut, w.Progress().State)
}

func TestStallAfterProgress(t *testing.T) {
	clk := newFakeClock()
	w := New(10*time.Second, 30*time.Second, WithClock(clk))
	errCh := runAsync(w, context.Background())
	<-clk.ready

	w.ParseLine("out_time_us=1000000")
	w.ParseLine("total_size=4096")
	w.ParseLine("speed=2.5x")
	assert.Equal(t, StateRunning, w.Progress().State)

	clk.advance(20 * time.Second) // past start timeout, but running
	w.ParseLine("out_time_us=2000000")
	clk.advance(20 * time.Second)
	w.ParseLine("out_time_us=2000000") // no advancement
	clk.advance(15 * time.Second)

	require.ErrorIs(t, <-errCh, ErrStalled)
	p := w.Progress()
	assert.Equal(t, StateStalled, p.State)
	assert.Equal(t, 2*time.Second, p.OutTime)
	assert.Equal(t, int64(4096), p.TotalSize)
	assert.Equal(t, "2.5x", p.Speed)
}

func TestProgressEndStopsRun(t *testing.T) {
	w := New(time.Minute, time.Minute, WithTick(10*time.Millisecond))
	errCh := runAsync(w, context.Background())

	w.ParseLine("progress=continue")
	w.ParseLine("progress=end")
	w.ParseLine("progress=end")

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not stop on progress=end")
	}
	assert.Equal(t, StateCompleted, w.Progress().State)
}

func TestContextCancelStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := New(time.Minute, time.Minute, WithTick(10*time.Millisecond))
	errCh := runAsync(w, ctx)
	cancel()
	assert.NoError(t, <-errCh)
}

func TestParseLineIgnoresGarbage(t *testing.T) {
	w := New(time.Minute, time.Minute)
	w.ParseLine("frame")
	w.ParseLine("out_time_us=N/A")
	w.ParseLine("")
	assert.Equal(t, StateStarting, w.Progress().State)
}
