// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !unix && !windows

package host

import "context"

type basicPlatform struct{ procTree }

func newPlatform() Platform { return basicPlatform{} }

func (basicPlatform) Name() string                                 { return goos }
func (basicPlatform) SupportsAMF() bool                            { return false }
func (basicPlatform) HasAffinity() bool                            { return false }
func (basicPlatform) EnumerateGPUs(context.Context) ([]GPU, bool) { return nil, false }
func (basicPlatform) ApplyLimits(int, Limits) error                { return nil }
