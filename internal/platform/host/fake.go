// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package host

import (
	"context"
	"sync"
)

// Fake is a scriptable Platform for tests in other packages. Process
// handling delegates to the real procgroup primitives.
type Fake struct {
	procTree

	OS        string
	GPUs      []GPU
	NoEnum    bool
	AMF       bool
	Affinity  bool
	LimitsErr error

	mu      sync.Mutex
	applied []AppliedLimits
}

// AppliedLimits records one ApplyLimits call.
type AppliedLimits struct {
	PID    int
	Limits Limits
}

func (f *Fake) Name() string {
	if f.OS == "" {
		return "fake"
	}
	return f.OS
}

func (f *Fake) SupportsAMF() bool { return f.AMF }
func (f *Fake) HasAffinity() bool { return f.Affinity }

func (f *Fake) EnumerateGPUs(context.Context) ([]GPU, bool) {
	if f.NoEnum {
		return nil, false
	}
	return f.GPUs, true
}

func (f *Fake) ApplyLimits(pid int, l Limits) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, AppliedLimits{PID: pid, Limits: l})
	return f.LimitsErr
}

// Applied returns a copy of every ApplyLimits call so far.
func (f *Fake) Applied() []AppliedLimits {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AppliedLimits(nil), f.applied...)
}
