// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build windows

package procgroup

import (
	"os/exec"
	"strconv"
	"syscall"

	"github.com/michaeldallariva/NexusM-sub001/internal/log"
	"golang.org/x/sys/windows"
)

func set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_NEW_PROCESS_GROUP
}

// Console encoders ignore WM_CLOSE, so the graceful step is a no-op and the
// grace period simply gives the process a chance to finish on its own.
func interrupt(pid int) error {
	log.L().Debug().Int(log.FieldPID, pid).Msg("graceful stop not supported on windows, waiting for grace period")
	return nil
}

func killTree(pid int) error {
	if pid <= 0 {
		return nil
	}
	log.L().Warn().Int(log.FieldPID, pid).Msg("killing process tree")
	// #nosec G204 -- pid is an integer we spawned
	out, err := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).CombinedOutput()
	if err != nil {
		// Exit code 128 means the process is already gone.
		if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 128 {
			return nil
		}
		log.L().Debug().Err(err).Str("output", string(out)).Msg("taskkill failed")
		return err
	}
	return nil
}
