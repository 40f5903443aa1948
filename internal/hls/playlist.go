// Package hls reads and finalizes the fMP4 event playlists written by the encoder.
package hls

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"

	"github.com/michaeldallariva/NexusM-sub001/internal/fsutil"
)

// Output layout of one transcode directory.
const (
	PlaylistName   = "playlist.m3u8"
	InitName       = "init.mp4"
	SegmentPattern = "seg_%05d.m4s"
	SegmentGlob    = "seg_*.m4s"
	SegmentPrefix  = "seg_"
	SegmentExt     = ".m4s"
)

const header = "#EXTM3U"

// ErrNotMedia is returned for master playlists and unrecognized input.
var ErrNotMedia = errors.New("hls: not a media playlist")

// Info summarizes a media playlist.
type Info struct {
	PlaylistType string // EVENT, VOD or empty
	HasEndList   bool
	InitURI      string
	Segments     []string
}

// IsFinal reports whether the playlist is closed for appends.
func (i Info) IsFinal() bool {
	return i.HasEndList && i.PlaylistType == "VOD"
}

// Parse reads a media playlist.
func Parse(r io.Reader) (Info, error) {
	pl, err := decode(r)
	if err != nil {
		return Info{}, err
	}
	return infoOf(pl), nil
}

// ParseFile reads the playlist at path.
func ParseFile(path string) (Info, error) {
	// #nosec G304 -- path is inside the transcode root
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

func decode(r io.Reader) (*m3u8.MediaPlaylist, error) {
	br := bufio.NewReader(r)
	// The decoder tolerates a missing header; a half-written file must not.
	head, err := br.Peek(len(header))
	if err != nil || !bytes.Equal(head, []byte(header)) {
		return nil, fmt.Errorf("missing %s header", header)
	}
	p, kind, err := m3u8.DecodeFrom(br, true)
	if err != nil {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}
	pl, ok := p.(*m3u8.MediaPlaylist)
	if kind != m3u8.MEDIA || !ok {
		return nil, ErrNotMedia
	}
	return pl, nil
}

func infoOf(pl *m3u8.MediaPlaylist) Info {
	info := Info{HasEndList: pl.Closed}
	switch pl.MediaType {
	case m3u8.EVENT:
		info.PlaylistType = "EVENT"
	case m3u8.VOD:
		info.PlaylistType = "VOD"
	}
	if pl.Map != nil {
		info.InitURI = pl.Map.URI
	}
	for _, seg := range pl.Segments {
		// The segment slice is preallocated past the last entry.
		if seg == nil {
			continue
		}
		if info.InitURI == "" && seg.Map != nil {
			info.InitURI = seg.Map.URI
		}
		info.Segments = append(info.Segments, seg.URI)
	}
	return info
}

// Finalize rewrites the playlist type to VOD and appends the end marker when
// missing. Calling it again on a final playlist changes nothing.
func Finalize(path string) (changed bool, err error) {
	// #nosec G304 -- path is inside the transcode root
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	pl, err := decode(f)
	_ = f.Close()
	if err != nil {
		return false, err
	}
	if infoOf(pl).IsFinal() {
		return false, nil
	}
	if err := fsutil.WriteFileAtomic(path, finalize(pl), 0o644); err != nil {
		return false, fmt.Errorf("finalize playlist: %w", err)
	}
	return true, nil
}

func finalize(pl *m3u8.MediaPlaylist) []byte {
	pl.MediaType = m3u8.VOD
	// A per-segment map equal to the header map would be written twice.
	for _, seg := range pl.Segments {
		if seg != nil && seg.Map != nil && pl.Map != nil && *seg.Map == *pl.Map {
			seg.Map = nil
		}
	}
	pl.Close()
	return pl.Encode().Bytes()
}

// SegmentName returns the file name of segment n.
func SegmentName(n int) string {
	return fmt.Sprintf(SegmentPattern, n)
}

// IsSegmentName reports whether name looks like a media segment or the init segment.
func IsSegmentName(name string) bool {
	if name == InitName {
		return true
	}
	if !strings.HasPrefix(name, SegmentPrefix) || !strings.HasSuffix(name, SegmentExt) {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, SegmentPrefix), SegmentExt))
	return err == nil && n >= 0 && SegmentName(n) == name
}
