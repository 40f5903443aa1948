// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mp4 inspects the top-level box layout of ISO-BMFF files.
package mp4

import (
	"encoding/binary"
	"io"
	"os"
)

const headerSize = 8

// IsFastStart reports whether the moov box precedes mdat in the file at path.
// Any open, read or layout problem yields false so callers fall back to a remux.
func IsFastStart(path string) bool {
	// #nosec G304 -- path comes from the media catalog
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return ScanFastStart(f, fi.Size())
}

// ScanFastStart walks top-level boxes of r, which is size bytes long.
// It returns true on moov and false on mdat, whichever comes first.
func ScanFastStart(r io.ReaderAt, size int64) bool {
	var hdr [headerSize]byte
	var ext [8]byte
	var off int64

	for off+headerSize <= size {
		if _, err := r.ReadAt(hdr[:], off); err != nil {
			return false
		}
		boxSize := int64(binary.BigEndian.Uint32(hdr[0:4]))
		switch string(hdr[4:8]) {
		case "moov":
			return true
		case "mdat":
			return false
		}

		switch boxSize {
		case 0:
			// Box runs to end of file, nothing follows it.
			return false
		case 1:
			if _, err := r.ReadAt(ext[:], off+headerSize); err != nil {
				return false
			}
			large := binary.BigEndian.Uint64(ext[:])
			if large < headerSize+8 || large > uint64(size-off) {
				return false
			}
			boxSize = int64(large)
		default:
			if boxSize < headerSize {
				return false
			}
		}
		off += boxSize
	}
	return false
}
