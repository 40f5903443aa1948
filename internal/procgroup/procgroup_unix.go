// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"

	"github.com/michaeldallariva/NexusM-sub001/internal/log"
)

func set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func interrupt(pid int) error {
	log.L().Debug().Int(log.FieldPID, pid).Msg("sending SIGTERM to process group")
	return signalGroup(pid, syscall.SIGTERM)
}

func killTree(pid int) error {
	log.L().Warn().Int(log.FieldPID, pid).Msg("sending SIGKILL to process group")
	return signalGroup(pid, syscall.SIGKILL)
}

func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	// Setpgid makes the child a group leader, so PGID == PID. Looking it up
	// fails with ESRCH once the leader has been reaped.
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	if err := syscall.Kill(-pgid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		// Fall back to the leader alone when the group signal is refused.
		if err2 := syscall.Kill(pid, sig); err2 != nil && !errors.Is(err2, syscall.ESRCH) {
			return err
		}
	}
	return nil
}
