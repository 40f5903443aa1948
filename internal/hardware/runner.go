// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hardware

import (
	"context"
	"os/exec"
	"time"

	"github.com/michaeldallariva/NexusM-sub001/internal/procgroup"
)

// Runner executes a short-lived command and returns its combined output.
// Implementations must kill the process tree when ctx is done.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs real processes in their own process group.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- binary comes from config, arguments are built internally
	cmd := exec.CommandContext(ctx, name, args...)
	procgroup.Set(cmd)
	cmd.Cancel = func() error { return procgroup.KillTree(cmd) }
	cmd.WaitDelay = 2 * time.Second
	return cmd.CombinedOutput()
}
