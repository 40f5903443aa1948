// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package host isolates OS-specific behavior of the streaming engine:
// GPU enumeration, process priority/affinity and process-tree teardown.
// The rest of the engine talks to the Platform interface only.
package host

import (
	"context"
	"os/exec"
	"time"

	"github.com/michaeldallariva/NexusM-sub001/internal/procgroup"
)

// GPU is a display adapter reported by the operating system.
type GPU struct {
	Name     string `json:"name"`
	VendorID string `json:"vendorId,omitempty"` // PCI vendor id like "0x10de"
}

// Priority is a coarse scheduling class for encoder processes.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityBelowNormal
	PriorityIdle
)

// ParsePriority maps configuration strings onto Priority. Unknown values are Normal.
func ParsePriority(s string) Priority {
	switch s {
	case "below_normal":
		return PriorityBelowNormal
	case "idle":
		return PriorityIdle
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityBelowNormal:
		return "below_normal"
	case PriorityIdle:
		return "idle"
	default:
		return "normal"
	}
}

// Limits constrain a running encoder process.
type Limits struct {
	Priority Priority
	// CPUs pins the process to the first N logical CPUs. Zero means no pinning.
	CPUs int
}

// Platform is the OS capability boundary.
type Platform interface {
	// Name is the GOOS this implementation serves.
	Name() string
	// EnumerateGPUs lists display adapters. ok is false when the platform
	// offers no enumeration at all, which is different from "no GPUs".
	EnumerateGPUs(ctx context.Context) (gpus []GPU, ok bool)
	// SupportsAMF reports whether AMD's AMF runtime exists on this OS.
	SupportsAMF() bool
	// HasAffinity reports whether ApplyLimits honours Limits.CPUs.
	HasAffinity() bool
	// Prepare configures cmd before Start so the whole tree can be stopped.
	Prepare(cmd *exec.Cmd)
	// ApplyLimits lowers priority and pins CPUs of a started process.
	ApplyLimits(pid int, l Limits) error
	// Terminate stops the process tree started from cmd, see procgroup.Terminate.
	Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error
}

// CommandOutput runs a command and returns its stdout. Tests replace it.
type CommandOutput func(ctx context.Context, name string, args ...string) ([]byte, error)

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- fixed tool names
	return exec.CommandContext(ctx, name, args...).Output()
}

// Detect returns the Platform for the running OS.
func Detect() Platform {
	return newPlatform()
}

type procTree struct{}

func (procTree) Prepare(cmd *exec.Cmd) { procgroup.Set(cmd) }

func (procTree) Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	return procgroup.Terminate(cmd, waitCh, grace)
}
