package hls

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventPlaylist = `#EXTM3U
#EXT-X-VERSION:7
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-PLAYLIST-TYPE:EVENT
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-MAP:URI="init.mp4"
#EXTINF:4.000000,
seg_00000.m4s
#EXTINF:4.000000,
seg_00001.m4s
#EXTINF:2.500000,
seg_00002.m4s
`

func TestParse(t *testing.T) {
	info, err := Parse(strings.NewReader(eventPlaylist))
	require.NoError(t, err)
	assert.Equal(t, "EVENT", info.PlaylistType)
	assert.Equal(t, "init.mp4", info.InitURI)
	assert.Equal(t, []string{"seg_00000.m4s", "seg_00001.m4s", "seg_00002.m4s"}, info.Segments)
	assert.False(t, info.HasEndList)
	assert.False(t, info.IsFinal())
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse(strings.NewReader("hello\n"))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader("#EXTM3U\n#EXTINF:abc,\nseg.m4s\n"))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000\nvideo.m3u8\n"))
	assert.ErrorIs(t, err, ErrNotMedia)

	_, err = Parse(strings.NewReader("#EXT"))
	assert.Error(t, err, "truncated header")
}

func TestFinalizeIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), PlaylistName)
	require.NoError(t, os.WriteFile(path, []byte(eventPlaylist), 0o644))

	changed, err := Finalize(path)
	require.NoError(t, err)
	assert.True(t, changed)

	info, err := ParseFile(path)
	require.NoError(t, err)
	assert.True(t, info.IsFinal())
	assert.Len(t, info.Segments, 3)

	first, err := os.ReadFile(path)
	require.NoError(t, err)

	changed, err = Finalize(path)
	require.NoError(t, err)
	assert.False(t, changed)

	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.Equal(t, 1, strings.Count(string(second), "#EXT-X-ENDLIST"))
}

func TestFinalizeInsertsMissingType(t *testing.T) {
	path := filepath.Join(t.TempDir(), PlaylistName)
	require.NoError(t, os.WriteFile(path,
		[]byte("#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXTINF:4,\nseg_00000.m4s\n#EXT-X-ENDLIST\n"), 0o644))

	changed, err := Finalize(path)
	require.NoError(t, err)
	assert.True(t, changed)

	info, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, Info{PlaylistType: "VOD", HasEndList: true, Segments: []string{"seg_00000.m4s"}}, info)
}

func TestFinalizeKeepsSingleInitMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), PlaylistName)
	require.NoError(t, os.WriteFile(path, []byte(eventPlaylist), 0o644))

	_, err := Finalize(path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "#EXT-X-MAP:"))
	assert.Contains(t, string(data), "#EXT-X-PLAYLIST-TYPE:VOD")

	info, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "init.mp4", info.InitURI)
}

func TestFinalizeMissingFile(t *testing.T) {
	_, err := Finalize(filepath.Join(t.TempDir(), "nope.m3u8"))
	assert.True(t, os.IsNotExist(err))
}

func TestSegmentNames(t *testing.T) {
	assert.Equal(t, "seg_00042.m4s", SegmentName(42))
	assert.True(t, IsSegmentName("seg_00042.m4s"))
	assert.True(t, IsSegmentName(InitName))
	assert.False(t, IsSegmentName("seg_.m4s"))
	assert.False(t, IsSegmentName("seg_1.ts"))
	assert.False(t, IsSegmentName("seg_1.m4s"), "not zero padded")
	assert.False(t, IsSegmentName("seg_+0001.m4s"))
	assert.False(t, IsSegmentName("seg_-0001.m4s"))
	assert.True(t, IsSegmentName("seg_123456.m4s"))
	assert.False(t, IsSegmentName(".fingerprint.json"))
}
