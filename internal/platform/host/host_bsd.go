// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix && !linux

package host

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// unixPlatform covers macOS and the BSDs: no GPU enumeration, priority only.
type unixPlatform struct {
	procTree
	name string
}

func newPlatform() Platform { return &unixPlatform{name: goos} }

func (p *unixPlatform) Name() string                                 { return p.name }
func (p *unixPlatform) SupportsAMF() bool                            { return false }
func (p *unixPlatform) HasAffinity() bool                            { return false }
func (p *unixPlatform) EnumerateGPUs(context.Context) ([]GPU, bool) { return nil, false }

func (p *unixPlatform) ApplyLimits(pid int, l Limits) error {
	nice := niceFor(l.Priority)
	if nice == 0 {
		return nil
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, nice); err != nil {
		return fmt.Errorf("setpriority pid %d: %w", pid, err)
	}
	return nil
}
