// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vod

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/michaeldallariva/NexusM-sub001/internal/platform/host"
)

// LogicalCores reports the logical CPU count, falling back to the Go runtime's view.
func LogicalCores() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Threads returns the software encoder thread count for a CPU percentage.
// Zero means no cap.
func Threads(percent, cores int) int {
	if percent <= 0 || percent >= 100 {
		return 0
	}
	if cores <= 0 {
		cores = 1
	}
	return max(cores*percent/100, 1)
}

// SoftwareLimits derives process limits for a software encode. A CPU cap
// always lowers priority at least one step below normal.
func SoftwareLimits(percent, cores int, configured host.Priority) (threads int, limits host.Limits) {
	threads = Threads(percent, cores)
	limits.Priority = configured
	if threads > 0 {
		limits.CPUs = threads
		if configured == host.PriorityNormal {
			limits.Priority = host.PriorityBelowNormal
		}
	}
	return threads, limits
}
