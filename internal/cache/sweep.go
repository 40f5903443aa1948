// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/michaeldallariva/NexusM-sub001/internal/fsutil"
	xglog "github.com/michaeldallariva/NexusM-sub001/internal/log"
)

// SweepResult captures a single eviction pass outcome.
type SweepResult struct {
	Entries      int
	EvictedTTL   int
	EvictedSize  int
	SkippedBusy  int
	Errors       int
	BytesRemoved int64
	BytesAfter   int64
}

type entry struct {
	id             string
	dir            string
	size           int64
	lastAccess     time.Time
	hasFingerprint bool
}

// scan lists cache entries. Entries without a readable fingerprint fall back
// to the directory modification time.
func (s *Store) scan() ([]entry, error) {
	dirents, err := os.ReadDir(s.opts.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]entry, 0, len(dirents))
	for _, d := range dirents {
		if !d.IsDir() || !ValidID(d.Name()) {
			continue
		}
		e := entry{id: d.Name(), dir: filepath.Join(s.opts.Root, d.Name())}
		if fp, err := readFingerprint(e.dir); err == nil {
			e.hasFingerprint = true
			e.lastAccess = fp.LastAccessed()
		} else if info, err := d.Info(); err == nil {
			e.lastAccess = info.ModTime()
		}
		size, err := fsutil.DirSize(e.dir)
		if err != nil {
			s.logger.Debug().Err(err).Str(xglog.FieldTranscodeID, e.id).Msg("size walk failed")
		}
		e.size = size
		out = append(out, e)
	}
	return out, nil
}

// Sweep applies the retention window, then the size cap oldest-access first.
// Entries reported busy are never removed.
func (s *Store) Sweep(busy func(id string) bool) (SweepResult, error) {
	var res SweepResult
	if !s.opts.Enabled {
		return res, nil
	}
	entries, err := s.scan()
	if err != nil {
		return res, err
	}
	isBusy := func(id string) bool { return busy != nil && busy(id) }

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].lastAccess.Equal(entries[j].lastAccess) {
			return entries[i].id < entries[j].id
		}
		return entries[i].lastAccess.Before(entries[j].lastAccess)
	})

	remaining := entries[:0:0]
	if s.opts.Retention > 0 {
		cutoff := s.clock.Now().Add(-s.opts.Retention)
		for _, e := range entries {
			if !e.lastAccess.Before(cutoff) {
				remaining = append(remaining, e)
				continue
			}
			if isBusy(e.id) {
				res.SkippedBusy++
				remaining = append(remaining, e)
				continue
			}
			if s.remove(e.id, e.dir, EvictTTL) {
				res.EvictedTTL++
				res.BytesRemoved += e.size
			} else {
				res.Errors++
				remaining = append(remaining, e)
			}
		}
	} else {
		remaining = append(remaining, entries...)
	}

	var total int64
	for _, e := range remaining {
		total += e.size
	}
	kept := len(remaining)
	if s.opts.MaxBytes > 0 {
		for _, e := range remaining {
			if total <= s.opts.MaxBytes {
				break
			}
			if isBusy(e.id) {
				res.SkippedBusy++
				continue
			}
			if s.remove(e.id, e.dir, EvictSize) {
				res.EvictedSize++
				res.BytesRemoved += e.size
				total -= e.size
				kept--
			} else {
				res.Errors++
			}
		}
	}

	res.Entries = kept
	res.BytesAfter = total

	s.logger.Info().
		Str(xglog.FieldEvent, "cache.sweep").
		Int("entries", res.Entries).
		Int("evicted_ttl", res.EvictedTTL).
		Int("evicted_size", res.EvictedSize).
		Int("skipped_busy", res.SkippedBusy).
		Int64("bytes", res.BytesAfter).
		Msg("cache sweep complete")
	return res, nil
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration, busy func(id string) bool) {
	if !s.opts.Enabled || interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(busy); err != nil {
				s.logger.Warn().Err(err).Str(xglog.FieldEvent, "cache.sweep_failed").Msg("cache sweep failed")
			}
			if _, err := s.Stats(); err != nil {
				s.logger.Debug().Err(err).Msg("cache stats refresh failed")
			}
		}
	}
}
