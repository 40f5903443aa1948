// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package watchdog watches ffmpeg -progress output and reports jobs that never
// start producing output or stop advancing.
package watchdog

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrStartTimeout = errors.New("encoder made no progress before start timeout")
	ErrStalled      = errors.New("encoder progress stalled")
)

type State int

const (
	StateStarting State = iota
	StateRunning
	StateCompleted
	StateStalled
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateStalled:
		return "stalled"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time                   { return time.Now() }
func (realClock) NewTicker(d time.Duration) Ticker { return &realTicker{time.NewTicker(d)} }

type realTicker struct{ *time.Ticker }

func (rt *realTicker) C() <-chan time.Time { return rt.Ticker.C }

// Progress is the latest state reported by ffmpeg.
type Progress struct {
	OutTime   time.Duration
	TotalSize int64
	Speed     string
	State     State
}

// Watchdog enforces start and stall timeouts on one encoder process.
type Watchdog struct {
	mu sync.Mutex

	startTimeout time.Duration
	stallTimeout time.Duration
	tick         time.Duration
	clock        Clock

	outTimeUs     int64
	totalSize     int64
	speed         string
	lastHeartbeat time.Time
	state         State

	endOnce sync.Once
	end     chan struct{}
}

type Option func(*Watchdog)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(w *Watchdog) { w.clock = c } }

// WithTick changes how often timeouts are checked.
func WithTick(d time.Duration) Option { return func(w *Watchdog) { w.tick = d } }

// New creates a watchdog. The start timeout runs from construction.
func New(startTimeout, stallTimeout time.Duration, opts ...Option) *Watchdog {
	w := &Watchdog{
		startTimeout: startTimeout,
		stallTimeout: stallTimeout,
		tick:         time.Second,
		clock:        realClock{},
		end:          make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	w.lastHeartbeat = w.clock.Now()
	return w
}

// Run blocks until ctx is done, ffmpeg reports progress=end, or a timeout
// fires. Only timeouts return an error.
func (w *Watchdog) Run(ctx context.Context) error {
	t := w.clock.NewTicker(w.tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.end:
			return nil
		case <-t.C():
			if err := w.check(); err != nil {
				return err
			}
		}
	}
}

// ParseLine consumes one key=value line of ffmpeg -progress output.
func (w *Watchdog) ParseLine(line string) {
	key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}
	key, val = strings.TrimSpace(key), strings.TrimSpace(val)

	w.mu.Lock()
	defer w.mu.Unlock()

	switch key {
	// ffmpeg reports microseconds under both names.
	case "out_time_us", "out_time_ms":
		if us, err := strconv.ParseInt(val, 10, 64); err == nil && us > w.outTimeUs {
			w.outTimeUs = us
			w.heartbeat()
		}
	case "total_size":
		if size, err := strconv.ParseInt(val, 10, 64); err == nil && size > w.totalSize {
			w.totalSize = size
			w.heartbeat()
		}
	case "speed":
		w.speed = val
	case "progress":
		if val == "end" {
			w.state = StateCompleted
			w.endOnce.Do(func() { close(w.end) })
		}
	}
}

func (w *Watchdog) heartbeat() {
	w.lastHeartbeat = w.clock.Now()
	if w.state == StateStarting {
		w.state = StateRunning
	}
}

func (w *Watchdog) check() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	elapsed := w.clock.Now().Sub(w.lastHeartbeat)
	switch w.state {
	case StateStarting:
		if w.startTimeout > 0 && elapsed > w.startTimeout {
			w.state = StateTimedOut
			return ErrStartTimeout
		}
	case StateRunning:
		if w.stallTimeout > 0 && elapsed > w.stallTimeout {
			w.state = StateStalled
			return ErrStalled
		}
	}
	return nil
}

// Progress returns a snapshot of the latest progress values.
func (w *Watchdog) Progress() Progress {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Progress{
		OutTime:   time.Duration(w.outTimeUs) * time.Microsecond,
		TotalSize: w.totalSize,
		Speed:     w.speed,
		State:     w.state,
	}
}
