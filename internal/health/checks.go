// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// BinaryChecker verifies an executable is resolvable on PATH.
type BinaryChecker struct {
	name string
	bin  string
}

// NewBinaryChecker creates a checker for bin.
func NewBinaryChecker(name, bin string) *BinaryChecker {
	return &BinaryChecker{name: name, bin: bin}
}

func (c *BinaryChecker) Name() string { return c.name }

func (c *BinaryChecker) Check(context.Context) CheckResult {
	path, err := exec.LookPath(c.bin)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.bin}
	}
	return CheckResult{Status: StatusHealthy, Message: path}
}

// DirChecker verifies a directory exists (creating it if needed) and is writable.
type DirChecker struct {
	name string
	path string
}

// NewDirChecker creates a writable-directory checker.
func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(context.Context) CheckResult {
	if err := CheckWritableDir(c.path); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.path}
	}
	return CheckResult{Status: StatusHealthy, Message: c.path}
}

// CheckWritableDir creates path if missing and probes it with a temp file.
func CheckWritableDir(path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}
	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s: %w", path, err)
	}
	_ = os.Remove(probe)
	return nil
}

// CapacityChecker reports degraded while every transcode slot is taken.
func CapacityChecker(inUse func() int, capacity int) Checker {
	return CheckFunc{CheckName: "transcode_slots", Fn: func(context.Context) CheckResult {
		n := inUse()
		msg := fmt.Sprintf("%d/%d in use", n, capacity)
		if n >= capacity {
			return CheckResult{Status: StatusDegraded, Message: msg}
		}
		return CheckResult{Status: StatusHealthy, Message: msg}
	}}
}
