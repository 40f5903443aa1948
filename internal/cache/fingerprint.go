// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/michaeldallariva/NexusM-sub001/internal/fsutil"
)

// FingerprintName is the hidden record stored next to the playlist.
const FingerprintName = ".fingerprint.json"

// ErrCorruptFingerprint marks an unreadable or partial fingerprint record.
var ErrCorruptFingerprint = errors.New("cache: corrupt fingerprint")

// ErrNoSourceStat rejects a Persist without the source stat from job start.
var ErrNoSourceStat = errors.New("cache: source was not readable when encoding began")

// Fingerprint ties a cache entry to the source file it was produced from.
// Tick fields are Unix nanoseconds.
type Fingerprint struct {
	SourcePath          string `json:"sourcePath"`
	SourceSize          int64  `json:"sourceSize"`
	SourceModifiedTicks int64  `json:"sourceModifiedTicks"`
	CreatedTicks        int64  `json:"createdTicks"`
	LastAccessedTicks   int64  `json:"lastAccessedTicks"`
}

// LastAccessed returns LastAccessedTicks as a time.
func (f Fingerprint) LastAccessed() time.Time {
	return time.Unix(0, f.LastAccessedTicks)
}

// Matches reports whether the record still describes the source file.
func (f Fingerprint) Matches(fi os.FileInfo) bool {
	return fi != nil &&
		!fi.IsDir() &&
		f.SourceSize == fi.Size() &&
		f.SourceModifiedTicks == fi.ModTime().UnixNano()
}

func fingerprintFor(sourcePath string, fi os.FileInfo, now time.Time) Fingerprint {
	return Fingerprint{
		SourcePath:          sourcePath,
		SourceSize:          fi.Size(),
		SourceModifiedTicks: fi.ModTime().UnixNano(),
		CreatedTicks:        now.UnixNano(),
		LastAccessedTicks:   now.UnixNano(),
	}
}

func readFingerprint(dir string) (Fingerprint, error) {
	var fp Fingerprint
	// #nosec G304 -- dir is confined to the cache root
	data, err := os.ReadFile(filepath.Join(dir, FingerprintName))
	if err != nil {
		return fp, err
	}
	if err := json.Unmarshal(data, &fp); err != nil {
		return fp, fmt.Errorf("%w: %v", ErrCorruptFingerprint, err)
	}
	if fp.SourcePath == "" || fp.SourceSize < 0 || fp.SourceModifiedTicks == 0 {
		return fp, ErrCorruptFingerprint
	}
	return fp, nil
}

func writeFingerprint(dir string, fp Fingerprint) error {
	data, err := json.Marshal(fp)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, FingerprintName), data, 0o644)
}
