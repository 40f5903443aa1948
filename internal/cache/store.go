// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache stores finished segmented output per transcode id and keeps it
// consistent with the source files it was produced from.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/michaeldallariva/NexusM-sub001/internal/fsutil"
	"github.com/michaeldallariva/NexusM-sub001/internal/hls"
	xglog "github.com/michaeldallariva/NexusM-sub001/internal/log"
	"github.com/michaeldallariva/NexusM-sub001/internal/metrics"
)

// ErrInvalidID rejects transcode ids that cannot name a directory.
var ErrInvalidID = errors.New("cache: invalid transcode id")

// Lookup results.
const (
	ResultHit        = "hit"
	ResultMiss       = "miss"
	ResultStale      = "stale"
	ResultIncomplete = "incomplete"
	ResultCorrupt    = "corrupt"
	ResultDisabled   = "disabled"
)

// Eviction reasons.
const (
	EvictTTL    = "ttl"
	EvictSize   = "size"
	EvictStale  = "stale"
	EvictOrphan = "orphan"
	EvictClear  = "clear"
)

const defaultStatsTTL = 10 * time.Second

// Clock abstracts time for deterministic testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures a Store.
type Options struct {
	// Root holds one subdirectory per cached transcode id.
	Root string
	// TempRoot receives job output when the cache is disabled.
	TempRoot  string
	Enabled   bool
	MaxBytes  int64
	Retention time.Duration
	// StatsTTL memoizes Stats between directory walks.
	StatsTTL time.Duration
	Clock    Clock
}

// LookupResult describes a cache lookup.
type LookupResult struct {
	Hit          bool
	Result       string
	Dir          string
	PlaylistPath string
	Fingerprint  Fingerprint
}

// Stats aggregates the on-disk cache.
type Stats struct {
	Enabled    bool      `json:"enabled"`
	Entries    int       `json:"entries"`
	TotalBytes int64     `json:"totalBytes"`
	MaxBytes   int64     `json:"maxBytes"`
	ComputedAt time.Time `json:"computedAt"`
}

// Store is the on-disk segment cache.
type Store struct {
	opts   Options
	clock  Clock
	logger zerolog.Logger

	mu      sync.Mutex
	stats   Stats
	statsAt time.Time
	fresh   bool
}

// New creates a Store. Directories are created lazily.
func New(opts Options) *Store {
	if opts.StatsTTL <= 0 {
		opts.StatsTTL = defaultStatsTTL
	}
	if opts.TempRoot == "" {
		opts.TempRoot = opts.Root + "-tmp"
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Store{
		opts:   opts,
		clock:  clock,
		logger: xglog.WithComponent("cache"),
	}
}

// Enabled reports whether finished output is kept.
func (s *Store) Enabled() bool { return s.opts.Enabled }

// Root returns the directory that holds job output.
func (s *Store) Root() string {
	if s.opts.Enabled {
		return s.opts.Root
	}
	return s.opts.TempRoot
}

// ValidID reports whether id can name a cache entry.
func ValidID(id string) bool {
	if id == "" || len(id) > 200 || strings.HasPrefix(id, ".") {
		return false
	}
	return !strings.ContainsAny(id, `/\:`) && !strings.ContainsRune(id, 0)
}

// OutputDir returns the directory a job for id writes into.
func (s *Store) OutputDir(id string) (string, error) {
	if !ValidID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	root := s.Root()
	if err := os.MkdirAll(root, 0o750); err != nil {
		return "", err
	}
	return fsutil.ConfineRelPath(root, id)
}

// FilePath resolves name inside the output directory for id. It rejects any
// name that escapes the entry.
func (s *Store) FilePath(id, name string) (string, error) {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) || strings.Contains(name, `\`) {
		return "", fmt.Errorf("%w: %q", fsutil.ErrOutsideRoot, name)
	}
	if _, err := s.OutputDir(id); err != nil {
		return "", err
	}
	return fsutil.ConfineRelPath(s.Root(), filepath.Join(id, name))
}

// Lookup returns a servable entry for id, or the reason there is none.
// Stale entries are deleted. Serving a hit refreshes its last-access time.
func (s *Store) Lookup(id, sourcePath string) (LookupResult, error) {
	res := LookupResult{Result: ResultMiss}
	if !s.opts.Enabled {
		res.Result = ResultDisabled
		return res, nil
	}
	dir, err := s.OutputDir(id)
	if err != nil {
		return res, err
	}
	res.Dir = dir
	res.PlaylistPath = filepath.Join(dir, hls.PlaylistName)

	defer func() { metrics.RecordCacheLookup(res.Result) }()

	if _, err := os.Stat(dir); err != nil {
		return res, nil
	}

	fp, err := readFingerprint(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return res, nil
	case err != nil:
		res.Result = ResultCorrupt
		s.logger.Warn().Err(err).Str(xglog.FieldTranscodeID, id).
			Str(xglog.FieldEvent, "cache.corrupt_fingerprint").Msg("treating cache entry as miss")
		return res, nil
	}

	fi, statErr := os.Stat(sourcePath)
	if statErr != nil || !fp.Matches(fi) || filepath.Clean(fp.SourcePath) != filepath.Clean(sourcePath) {
		res.Result = ResultStale
		s.remove(id, dir, EvictStale)
		return res, nil
	}

	if ok, why := IsComplete(dir); !ok {
		res.Result = ResultIncomplete
		s.logger.Debug().Str(xglog.FieldTranscodeID, id).Str(xglog.FieldReason, why).
			Str(xglog.FieldEvent, "cache.incomplete").Msg("cache entry not complete")
		return res, nil
	}

	fp.LastAccessedTicks = s.clock.Now().UnixNano()
	if err := writeFingerprint(dir, fp); err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldTranscodeID, id).Msg("failed to refresh last access")
	}
	res.Hit = true
	res.Result = ResultHit
	res.Fingerprint = fp
	return res, nil
}

// IsComplete reports whether the entry in dir holds a closed playlist, its
// init segment, and every declared segment within a tolerance of one.
func IsComplete(dir string) (bool, string) {
	info, err := hls.ParseFile(filepath.Join(dir, hls.PlaylistName))
	if err != nil {
		return false, "playlist unreadable"
	}
	if !info.HasEndList {
		return false, "no end marker"
	}
	initName := info.InitURI
	if initName == "" {
		initName = hls.InitName
	}
	if _, err := os.Stat(filepath.Join(dir, filepath.Base(initName))); err != nil {
		return false, "init segment missing"
	}
	onDisk, err := filepath.Glob(filepath.Join(dir, hls.SegmentGlob))
	if err != nil {
		return false, "segment glob failed"
	}
	diff := len(info.Segments) - len(onDisk)
	if diff < -1 || diff > 1 {
		return false, fmt.Sprintf("declared %d segments, found %d", len(info.Segments), len(onDisk))
	}
	return true, ""
}

// Persist records the fingerprint of a finished entry. src must be the stat
// of sourcePath taken before encoding began, so that a source replaced
// mid-encode leaves the entry stale. It is a no-op when the cache is disabled.
func (s *Store) Persist(id, sourcePath string, src os.FileInfo) error {
	if !s.opts.Enabled {
		return nil
	}
	dir, err := s.OutputDir(id)
	if err != nil {
		return err
	}
	if src == nil || src.IsDir() {
		return ErrNoSourceStat
	}
	if err := writeFingerprint(dir, fingerprintFor(sourcePath, src, s.clock.Now())); err != nil {
		return fmt.Errorf("write fingerprint: %w", err)
	}
	s.invalidateStats()
	s.logger.Info().Str(xglog.FieldTranscodeID, id).Str(xglog.FieldSourcePath, sourcePath).
		Str(xglog.FieldEvent, "cache.persisted").Msg("cache entry persisted")
	return nil
}

// Finalize closes the playlist of id for static playback. Safe to repeat.
func (s *Store) Finalize(id string) error {
	path, err := s.FilePath(id, hls.PlaylistName)
	if err != nil {
		return err
	}
	_, err = hls.Finalize(path)
	return err
}

// Remove deletes the output directory of id.
func (s *Store) Remove(id string) error {
	dir, err := s.OutputDir(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	s.invalidateStats()
	return nil
}

func (s *Store) remove(id, dir, reason string) bool {
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldTranscodeID, id).Str(xglog.FieldReason, reason).
			Str(xglog.FieldEvent, "cache.evict_failed").Msg("failed to remove cache entry")
		return false
	}
	metrics.RecordCacheEviction(reason)
	s.invalidateStats()
	s.logger.Info().Str(xglog.FieldTranscodeID, id).Str(xglog.FieldReason, reason).
		Str(xglog.FieldEvent, "cache.evicted").Msg("cache entry removed")
	return true
}

// Stats returns the entry count and total size, memoized for StatsTTL.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	if s.fresh && s.clock.Now().Sub(s.statsAt) < s.opts.StatsTTL {
		st := s.stats
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	entries, err := s.scan()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Enabled: s.opts.Enabled, MaxBytes: s.opts.MaxBytes, ComputedAt: s.clock.Now()}
	for _, e := range entries {
		st.Entries++
		st.TotalBytes += e.size
	}
	metrics.SetCacheUsage(st.Entries, st.TotalBytes)

	s.mu.Lock()
	s.stats, s.statsAt, s.fresh = st, st.ComputedAt, true
	s.mu.Unlock()
	return st, nil
}

func (s *Store) invalidateStats() {
	s.mu.Lock()
	s.fresh = false
	s.mu.Unlock()
}

// ClearAll removes every entry not reported busy and returns how many were removed.
func (s *Store) ClearAll(busy func(id string) bool) (int, error) {
	entries, err := s.scan()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if busy != nil && busy(e.id) {
			continue
		}
		if s.remove(e.id, e.dir, EvictClear) {
			removed++
		}
	}
	return removed, nil
}

// PurgeOrphans removes entries without a fingerprint that no running job owns.
// They are left over from jobs that never completed.
func (s *Store) PurgeOrphans(busy func(id string) bool) (int, error) {
	entries, err := s.scan()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.hasFingerprint || (busy != nil && busy(e.id)) {
			continue
		}
		if s.remove(e.id, e.dir, EvictOrphan) {
			removed++
		}
	}
	return removed, nil
}

// PurgeTemp removes the temporary output root used while the cache is disabled.
func (s *Store) PurgeTemp() error {
	if s.opts.TempRoot == "" || s.opts.TempRoot == s.opts.Root {
		return nil
	}
	return os.RemoveAll(s.opts.TempRoot)
}
