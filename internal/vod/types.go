// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vod

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/michaeldallariva/NexusM-sub001/internal/admission"
	"github.com/michaeldallariva/NexusM-sub001/internal/decision"
	"github.com/michaeldallariva/NexusM-sub001/internal/encoder"
)

var (
	// ErrLaunch wraps failures to start the encoder process.
	ErrLaunch = errors.New("transcode launch failed")
	// ErrNotFound is returned for transcode ids without a job.
	ErrNotFound = errors.New("transcode job not found")
	// ErrClosed is returned once Shutdown has begun.
	ErrClosed = errors.New("transcode manager is shut down")
	// ErrDirectMode rejects jobs for files that need no processing.
	ErrDirectMode = errors.New("direct mode needs no transcode job")
)

// State is the lifecycle position of a job.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateKilled    State = "killed"
)

// Request describes one job to start.
type Request struct {
	TranscodeID string
	SourcePath  string
	Mode        decision.Mode
	// AudioTrack is the zero-based audio stream index to keep.
	AudioTrack int
	// Duration is the source running time. Zero leaves Progress unset.
	Duration time.Duration
}

// Status is a point-in-time view of a job.
type Status struct {
	TranscodeID  string        `json:"transcodeId"`
	SourcePath   string        `json:"sourcePath"`
	Encoder      string        `json:"encoder"`
	Mode         decision.Mode `json:"mode"`
	State        State         `json:"state"`
	ExitCode     *int          `json:"exitCode,omitempty"`
	StartedAt    time.Time     `json:"startedAt"`
	LastActivity time.Time     `json:"lastActivity"`
	EndedAt      time.Time     `json:"endedAt,omitempty"`
	Duration     time.Duration `json:"duration"`
	OutTime      time.Duration `json:"outTime"`
	Speed        string        `json:"speed,omitempty"`
	Progress     float64       `json:"progress,omitempty"`
	Error        string        `json:"error,omitempty"`
	OutputDir    string        `json:"-"`
}

// EncoderSource yields the active encoder profile.
type EncoderSource interface {
	Active() encoder.Profile
}

// Output owns the on-disk location of job output.
type Output interface {
	Enabled() bool
	OutputDir(id string) (string, error)
	Remove(id string) error
	// Persist records that id was produced from src, the source as it was
	// when the job started.
	Persist(id, sourcePath string, src os.FileInfo) error
	Finalize(id string) error
	PurgeTemp() error
}

// CommandFactory builds the encoder command. Tests substitute scripts.
type CommandFactory func(name string, args ...string) *exec.Cmd

// Clock abstracts time for deterministic testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Admission bounds concurrent jobs.
type Admission interface {
	Acquire(ctx context.Context) (admission.Release, error)
}

// stopReason records why a running job was terminated.
type stopReason string

const (
	reasonStopped  stopReason = "stopped"
	reasonIdle     stopReason = "idle"
	reasonReplaced stopReason = "replaced"
	reasonShutdown stopReason = "shutdown"
)
