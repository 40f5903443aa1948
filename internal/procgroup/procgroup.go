// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts encoder processes in their own process group and
// tears down the whole tree: graceful interrupt first, hard kill after a grace period.
package procgroup

import (
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/michaeldallariva/NexusM-sub001/internal/log"
	"github.com/michaeldallariva/NexusM-sub001/internal/metrics"
)

// ErrKillFailed is returned when the hard kill could not be delivered and the
// process was still not reaped a grace period later.
var ErrKillFailed = errors.New("kill operation failed")

// killTreeFunc is swapped in tests to simulate a refused signal.
var killTreeFunc = killTree

// Set configures the command to start in a new process group.
// Mandatory for Interrupt/KillTree to reach grandchildren.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Interrupt asks the process tree to stop. Already-exited processes are not an error.
func Interrupt(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return interrupt(cmd.Process.Pid)
}

// KillTree force-kills the process tree. Already-exited processes are not an error.
func KillTree(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return killTreeFunc(cmd.Process.Pid)
}

// Terminate stops a process tree: Interrupt, wait up to grace on waitCh, then
// KillTree and drain waitCh. It returns the wait error, or ErrKillFailed when
// the kill was refused and waitCh stayed silent for another grace period.
// waitCh must deliver exactly one value once the process has been reaped.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	metrics.IncProcTerminate("interrupt", outcome(Interrupt(cmd)))

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return err
	case <-timer.C:
	}

	killErr := KillTree(cmd)
	metrics.IncProcTerminate("kill", outcome(killErr))
	if killErr != nil {
		timer.Reset(grace)
		select {
		case err := <-waitCh:
			metrics.IncProcWait("forced_error")
			return err
		case <-timer.C:
			metrics.IncProcWait("kill_failed")
			log.L().Error().Err(killErr).Int(log.FieldPID, cmd.Process.Pid).
				Msg("process tree survived hard kill")
			return fmt.Errorf("%w: %w", ErrKillFailed, killErr)
		}
	}

	err := <-waitCh
	if err == nil {
		metrics.IncProcWait("forced_exit0")
	} else {
		metrics.IncProcWait("forced_error")
	}
	return err
}

func outcome(err error) string {
	if err == nil {
		return "sent"
	}
	return "error"
}
