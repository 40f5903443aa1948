// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stream

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaeldallariva/NexusM-sub001/internal/admission"
	"github.com/michaeldallariva/NexusM-sub001/internal/cache"
	"github.com/michaeldallariva/NexusM-sub001/internal/decision"
	"github.com/michaeldallariva/NexusM-sub001/internal/encoder"
	"github.com/michaeldallariva/NexusM-sub001/internal/hardware"
	"github.com/michaeldallariva/NexusM-sub001/internal/hls"
	"github.com/michaeldallariva/NexusM-sub001/internal/vod"
)

type fakeJobs struct {
	mu       sync.Mutex
	startErr error
	delay    time.Duration
	starts   []vod.Request
	running  map[string]vod.Status
	touches  map[string]int
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{running: map[string]vod.Status{}, touches: map[string]int{}}
}

func (f *fakeJobs) Start(_ context.Context, req vod.Request) (vod.Status, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, req)
	if f.startErr != nil {
		return vod.Status{}, f.startErr
	}
	st := vod.Status{TranscodeID: req.TranscodeID, SourcePath: req.SourcePath, Mode: req.Mode, State: vod.StateRunning}
	f.running[req.TranscodeID] = st
	return st, nil
}

func (f *fakeJobs) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.running[id]; !ok {
		return vod.ErrNotFound
	}
	delete(f.running, id)
	return nil
}

func (f *fakeJobs) Touch(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches[id]++
	_, ok := f.running[id]
	return ok
}

func (f *fakeJobs) Busy(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.running[id]
	return ok
}

func (f *fakeJobs) Lookup(id string) (vod.Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.running[id]
	return st, ok
}

func (f *fakeJobs) Status() []vod.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]vod.Status, 0, len(f.running))
	for _, st := range f.running {
		out = append(out, st)
	}
	return out
}

func (f *fakeJobs) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

type fakeHW struct {
	mu      sync.Mutex
	reinits int
}

func (h *fakeHW) Report() (hardware.Report, bool) {
	return hardware.Report{Mode: "auto", Active: encoder.Resolve(encoder.Software)}, true
}

func (h *fakeHW) Config() hardware.Config { return hardware.Config{Mode: "auto"} }

func (h *fakeHW) Reinit(context.Context, hardware.Config) hardware.Report {
	h.mu.Lock()
	h.reinits++
	h.mu.Unlock()
	r, _ := h.Report()
	return r
}

func box(typ string, payload int) []byte {
	b := make([]byte, 8+payload)
	binary.BigEndian.PutUint32(b, uint32(8+payload))
	copy(b[4:], typ)
	return b
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newTestService(t *testing.T) (*Service, *fakeJobs, *cache.Store) {
	t.Helper()
	jobs := newFakeJobs()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	store := cache.New(cache.Options{Root: filepath.Join(root, "cache"), Enabled: true})
	return NewService(jobs, store, &fakeHW{}, Options{}), jobs, store
}

func mkvDescriptor(path string) MediaDescriptor {
	return MediaDescriptor{
		MediaID:         "42",
		FilePath:        path,
		Container:       "matroska,webm",
		VideoCodec:      "h264",
		AudioCodec:      "aac",
		AudioChannels:   2,
		AudioTrack:      1,
		DurationSeconds: 5400,
	}
}

func TestResolveMissingInput(t *testing.T) {
	svc, jobs, _ := newTestService(t)
	_, err := svc.Resolve(context.Background(), mkvDescriptor(filepath.Join(t.TempDir(), "gone.mkv")))
	assert.ErrorIs(t, err, ErrInputNotFound)
	assert.Zero(t, jobs.startCount())
}

func TestResolveDirect(t *testing.T) {
	svc, jobs, _ := newTestService(t)
	data := append(append(box("ftyp", 16), box("moov", 32)...), box("mdat", 64)...)
	md := MediaDescriptor{
		MediaID: "7", FilePath: writeFile(t, "a.mp4", data), Container: "mov,mp4,m4a,3gp,3g2,mj2",
		VideoCodec: "h264", AudioCodec: "aac", AudioChannels: 2,
	}

	res, err := svc.Resolve(context.Background(), md)
	require.NoError(t, err)
	assert.Equal(t, TypeDirect, res.Type)
	assert.Equal(t, decision.ModeDirect, res.Mode)
	assert.Equal(t, "/api/media/7/file", res.DirectURL)
	assert.Empty(t, res.TranscodeID)
	assert.Zero(t, jobs.startCount())

	// Same file without fast-start needs a remux.
	md.FilePath = writeFile(t, "b.mp4", append(append(box("ftyp", 16), box("mdat", 64)...), box("moov", 32)...))
	assert.Equal(t, decision.ModeRemux, svc.Classify(md).Mode)
}

func TestResolveStartsJob(t *testing.T) {
	svc, jobs, _ := newTestService(t)
	md := mkvDescriptor(writeFile(t, "movie.mkv", []byte("mkv")))

	res, err := svc.Resolve(context.Background(), md)
	require.NoError(t, err)
	assert.Equal(t, TypeSegmented, res.Type)
	assert.Equal(t, "42_a1", res.TranscodeID)
	assert.Equal(t, "/api/stream/42_a1/playlist.m3u8", res.PlaylistURL)
	assert.Equal(t, decision.ModeRemux, res.Mode)
	assert.Equal(t, float64(5400), res.Duration)
	assert.False(t, res.Cached)

	require.Equal(t, 1, jobs.startCount())
	assert.Equal(t, vod.Request{
		TranscodeID: "42_a1",
		SourcePath:  md.FilePath,
		Mode:        decision.ModeRemux,
		AudioTrack:  1,
		Duration:    90 * time.Minute,
	}, jobs.starts[0])

	// A second resolve joins the running job.
	_, err = svc.Resolve(context.Background(), md)
	require.NoError(t, err)
	assert.Equal(t, 1, jobs.startCount())
}

func TestResolveCollapsesConcurrentCallers(t *testing.T) {
	svc, jobs, _ := newTestService(t)
	jobs.delay = 50 * time.Millisecond
	md := mkvDescriptor(writeFile(t, "movie.mkv", []byte("mkv")))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Resolve(context.Background(), md)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, jobs.startCount())
}

func TestResolveRestartsForDifferentSource(t *testing.T) {
	svc, jobs, _ := newTestService(t)
	first := mkvDescriptor(writeFile(t, "one.mkv", []byte("1")))
	second := first
	second.FilePath = writeFile(t, "two.mkv", []byte("2"))

	_, err := svc.Resolve(context.Background(), first)
	require.NoError(t, err)
	_, err = svc.Resolve(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, 2, jobs.startCount())
	assert.Equal(t, second.FilePath, jobs.starts[1].SourcePath)
}

func TestResolveServesCacheHit(t *testing.T) {
	svc, jobs, store := newTestService(t)
	md := mkvDescriptor(writeFile(t, "movie.mkv", []byte("mkv")))
	id := TranscodeID(md)

	dir, err := store.OutputDir(id)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	playlist := "#EXTM3U\n#EXT-X-PLAYLIST-TYPE:VOD\n#EXT-X-MAP:URI=\"init.mp4\"\n#EXTINF:4,\nseg_00000.m4s\n#EXT-X-ENDLIST\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, hls.PlaylistName), []byte(playlist), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, hls.InitName), []byte("init"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, hls.SegmentName(0)), []byte("seg"), 0o644))
	fi, err := os.Stat(md.FilePath)
	require.NoError(t, err)
	require.NoError(t, store.Persist(id, md.FilePath, fi))

	res, err := svc.Resolve(context.Background(), md)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Zero(t, jobs.startCount())

	text, err := svc.Playlist(id)
	require.NoError(t, err)
	assert.Equal(t, playlist, string(text))

	seg, err := svc.Segment(id, hls.SegmentName(0))
	require.NoError(t, err)
	assert.Equal(t, "seg", string(seg))

	// Source changed on disk: the stale entry is dropped and a job starts.
	require.NoError(t, os.WriteFile(md.FilePath, []byte("re-encoded source"), 0o644))
	res, err = svc.Resolve(context.Background(), md)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 1, jobs.startCount())
}

func TestResolveBusy(t *testing.T) {
	svc, jobs, _ := newTestService(t)
	jobs.startErr = admission.ErrBusy
	_, err := svc.Resolve(context.Background(), mkvDescriptor(writeFile(t, "m.mkv", []byte("x"))))
	assert.ErrorIs(t, err, ErrBusy)
}

func TestSegmentAccess(t *testing.T) {
	svc, jobs, _ := newTestService(t)

	_, err := svc.Segment("42_a0", "../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Segment("../x", hls.SegmentName(1))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Segment("42_a0", hls.SegmentName(3))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, jobs.touches["42_a0"])

	_, err = svc.Playlist("42_a0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStopAndClear(t *testing.T) {
	svc, jobs, store := newTestService(t)
	md := mkvDescriptor(writeFile(t, "m.mkv", []byte("x")))
	res, err := svc.Resolve(context.Background(), md)
	require.NoError(t, err)

	dir, err := store.OutputDir(res.TranscodeID)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o750))

	n, err := svc.ClearCache()
	require.NoError(t, err)
	assert.Zero(t, n, "running job output is kept")

	require.NoError(t, svc.Stop(context.Background(), res.TranscodeID))
	assert.ErrorIs(t, svc.Stop(context.Background(), res.TranscodeID), ErrNotFound)
	assert.False(t, jobs.Busy(res.TranscodeID))

	n, err = svc.ClearCache()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTranscodeID(t *testing.T) {
	assert.Equal(t, "42_a0", TranscodeID(MediaDescriptor{MediaID: "42"}))
	assert.Equal(t, "42_a2", TranscodeID(MediaDescriptor{MediaID: "42", AudioTrack: 2}))

	a := TranscodeID(MediaDescriptor{FilePath: "/media/a.mkv"})
	b := TranscodeID(MediaDescriptor{FilePath: "/media/b.mkv"})
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, TranscodeID(MediaDescriptor{FilePath: "/media/a.mkv"}))
	assert.True(t, cache.ValidID(a))
	assert.True(t, cache.ValidID(TranscodeID(MediaDescriptor{MediaID: "../../x"})))
}

func TestRedetect(t *testing.T) {
	hw := &fakeHW{}
	svc := NewService(newFakeJobs(), cache.New(cache.Options{Root: t.TempDir()}), hw, Options{})
	r := svc.Redetect(context.Background())
	assert.Equal(t, encoder.Software, r.Active.ID)
	assert.Equal(t, 1, hw.reinits)
}
