// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build windows

package host

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sys/windows"
)

type windowsPlatform struct {
	procTree
	run CommandOutput
}

func newPlatform() Platform { return &windowsPlatform{run: execOutput} }

func (p *windowsPlatform) Name() string      { return "windows" }
func (p *windowsPlatform) SupportsAMF() bool { return true }
func (p *windowsPlatform) HasAffinity() bool { return false }

func (p *windowsPlatform) EnumerateGPUs(ctx context.Context) ([]GPU, bool) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := p.run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command",
		"Get-CimInstance Win32_VideoController | Select-Object -ExpandProperty Name")
	if err != nil {
		out, err = p.run(ctx, "wmic", "path", "win32_VideoController", "get", "name")
		if err != nil {
			return nil, true
		}
	}
	var gpus []GPU
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" || strings.EqualFold(name, "name") {
			continue
		}
		gpus = append(gpus, GPU{Name: name})
	}
	return gpus, true
}

func (p *windowsPlatform) ApplyLimits(pid int, l Limits) error {
	var class uint32
	switch l.Priority {
	case PriorityBelowNormal:
		class = windows.BELOW_NORMAL_PRIORITY_CLASS
	case PriorityIdle:
		class = windows.IDLE_PRIORITY_CLASS
	default:
		return nil
	}
	h, err := windows.OpenProcess(windows.PROCESS_SET_INFORMATION, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("open process %d: %w", pid, err)
	}
	defer func() { _ = windows.CloseHandle(h) }()
	if err := windows.SetPriorityClass(h, class); err != nil {
		return fmt.Errorf("set priority class: %w", err)
	}
	return nil
}
