// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package host

// niceFor maps a Priority onto a nice value. Below-normal is one step down
// the scheduler ladder, matching BELOW_NORMAL on Windows.
func niceFor(p Priority) int {
	switch p {
	case PriorityBelowNormal:
		return 10
	case PriorityIdle:
		return 19
	default:
		return 0
	}
}
