// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package host

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/michaeldallariva/NexusM-sub001/internal/log"
	"golang.org/x/sys/unix"
)

type linuxPlatform struct {
	procTree
	sysRoot  string
	procRoot string
	run      CommandOutput
}

func newPlatform() Platform {
	return &linuxPlatform{sysRoot: "/sys", procRoot: "/proc", run: execOutput}
}

func (p *linuxPlatform) Name() string      { return "linux" }
func (p *linuxPlatform) SupportsAMF() bool { return false }
func (p *linuxPlatform) HasAffinity() bool { return true }

// EnumerateGPUs prefers lspci for human-readable names and falls back to
// the DRM vendor ids in sysfs when lspci is unavailable.
func (p *linuxPlatform) EnumerateGPUs(ctx context.Context) ([]GPU, bool) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if out, err := p.run(ctx, "lspci", "-mm"); err == nil {
		if gpus := parseLspci(out); len(gpus) > 0 {
			return gpus, true
		}
	} else {
		log.L().Debug().Err(err).Msg("lspci unavailable, falling back to sysfs")
	}
	return readDRMVendors(filepath.Join(p.sysRoot, "class", "drm")), true
}

// parseLspci extracts display controllers from `lspci -mm` output, e.g.
// 01:00.0 "VGA compatible controller" "NVIDIA Corporation" "GA104 [GeForce RTX 3070]" ...
func parseLspci(out []byte) []GPU {
	var gpus []GPU
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := quotedFields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		class := strings.ToLower(fields[0])
		if !strings.Contains(class, "vga") && !strings.Contains(class, "3d controller") && !strings.Contains(class, "display controller") {
			continue
		}
		gpus = append(gpus, GPU{Name: strings.TrimSpace(fields[1] + " " + fields[2])})
	}
	return gpus
}

func quotedFields(line string) []string {
	var fields []string
	for {
		start := strings.IndexByte(line, '"')
		if start < 0 {
			return fields
		}
		end := strings.IndexByte(line[start+1:], '"')
		if end < 0 {
			return fields
		}
		fields = append(fields, line[start+1:start+1+end])
		line = line[start+end+2:]
	}
}

func readDRMVendors(drmDir string) []GPU {
	cards, _ := filepath.Glob(filepath.Join(drmDir, "card[0-9]*"))
	sort.Strings(cards)
	seen := make(map[string]bool)
	var gpus []GPU
	for _, card := range cards {
		if strings.Contains(filepath.Base(card), "-") {
			continue // connectors like card0-HDMI-A-1
		}
		dev, err := filepath.EvalSymlinks(filepath.Join(card, "device"))
		if err != nil {
			dev = filepath.Join(card, "device")
		}
		if seen[dev] {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(card, "device", "vendor"))
		if err != nil {
			continue
		}
		seen[dev] = true
		id := strings.ToLower(strings.TrimSpace(string(raw)))
		gpus = append(gpus, GPU{Name: vendorName(id), VendorID: id})
	}
	return gpus
}

func vendorName(id string) string {
	switch id {
	case "0x10de":
		return "NVIDIA"
	case "0x8086":
		return "Intel"
	case "0x1002":
		return "AMD"
	default:
		return "unknown " + id
	}
}

// ApplyLimits applies nice and affinity to every thread of pid, since both
// are per-thread attributes on Linux.
func (p *linuxPlatform) ApplyLimits(pid int, l Limits) error {
	tids := p.threads(pid)
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	nice := niceFor(l.Priority)
	var set unix.CPUSet
	if l.CPUs > 0 {
		set.Zero()
		for i := 0; i < l.CPUs; i++ {
			set.Set(i)
		}
	}
	for _, tid := range tids {
		if nice != 0 {
			keep(unix.Setpriority(unix.PRIO_PROCESS, tid, nice))
		}
		if l.CPUs > 0 {
			keep(unix.SchedSetaffinity(tid, &set))
		}
	}
	if firstErr != nil {
		return fmt.Errorf("apply limits to pid %d: %w", pid, firstErr)
	}
	return nil
}

func (p *linuxPlatform) threads(pid int) []int {
	entries, err := os.ReadDir(filepath.Join(p.procRoot, strconv.Itoa(pid), "task"))
	if err != nil {
		return []int{pid}
	}
	tids := make([]int, 0, len(entries))
	for _, e := range entries {
		if tid, err := strconv.Atoi(e.Name()); err == nil {
			tids = append(tids, tid)
		}
	}
	if len(tids) == 0 {
		return []int{pid}
	}
	return tids
}
