// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vod

import (
	"bytes"
	"strings"
	"sync"
)

const (
	stderrLines     = 50
	maxExcerptBytes = 2048
)

// lineWriter splits a byte stream into lines for fn.
type lineWriter struct {
	mu  sync.Mutex
	buf []byte
	fn  func(line string)
}

func newLineWriter(fn func(string)) *lineWriter {
	return &lineWriter{fn: fn}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		if line := string(w.buf[:i]); line != "" {
			w.fn(line)
		}
		w.buf = w.buf[i+1:]
	}
	// ffmpeg never writes lines this long; drop runaway garbage.
	if len(w.buf) > 64*1024 {
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// ring keeps the last stderrLines lines of diagnostic output.
type ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newRing() *ring {
	return &ring{lines: make([]string, stderrLines)}
}

func (r *ring) Add(line string) {
	r.mu.Lock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Excerpt returns the newest lines joined, trimmed from the front to maxExcerptBytes.
func (r *ring) Excerpt() string {
	r.mu.Lock()
	var ordered []string
	if r.full {
		ordered = append(ordered, r.lines[r.next:]...)
	}
	ordered = append(ordered, r.lines[:r.next]...)
	r.mu.Unlock()

	out := strings.Join(ordered, "\n")
	if len(out) > maxExcerptBytes {
		out = out[len(out)-maxExcerptBytes:]
	}
	return out
}
