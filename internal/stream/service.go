// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package stream is the entry point of the streaming engine. It classifies a
// probed file, serves it directly, from cache, or through a transcode job,
// and exposes the job and cache administration surface.
package stream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/michaeldallariva/NexusM-sub001/internal/admission"
	"github.com/michaeldallariva/NexusM-sub001/internal/cache"
	"github.com/michaeldallariva/NexusM-sub001/internal/decision"
	"github.com/michaeldallariva/NexusM-sub001/internal/hardware"
	"github.com/michaeldallariva/NexusM-sub001/internal/hls"
	xglog "github.com/michaeldallariva/NexusM-sub001/internal/log"
	"github.com/michaeldallariva/NexusM-sub001/internal/media/mp4"
	"github.com/michaeldallariva/NexusM-sub001/internal/telemetry"
	"github.com/michaeldallariva/NexusM-sub001/internal/vod"
)

var (
	// ErrInputNotFound means the source file does not exist. No job is started.
	ErrInputNotFound = errors.New("source file not found")
	// ErrBusy means no transcode slot freed up in time. Retryable.
	ErrBusy = admission.ErrBusy
	// ErrNotFound means the playlist or segment has not been produced (yet).
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest rejects malformed ids, names and descriptors.
	ErrInvalidRequest = errors.New("invalid request")
)

// Result types.
const (
	TypeDirect    = "direct"
	TypeSegmented = "segmented"
)

// MediaDescriptor is the probe output for one file, supplied per request.
type MediaDescriptor struct {
	MediaID         string  `json:"mediaId"`
	FilePath        string  `json:"filePath"`
	Container       string  `json:"containerFormat"`
	VideoCodec      string  `json:"videoCodec"`
	AudioCodec      string  `json:"audioCodec"`
	AudioChannels   int     `json:"audioChannelCount"`
	AudioTrack      int     `json:"audioTrack"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Classification is the public view of a decision.
type Classification struct {
	Mode   decision.Mode `json:"mode"`
	Reason string        `json:"reason"`
}

// Result tells the caller where to fetch the stream.
type Result struct {
	Type        string        `json:"type"`
	DirectURL   string        `json:"directUrl,omitempty"`
	PlaylistURL string        `json:"playlistUrl,omitempty"`
	TranscodeID string        `json:"transcodeId,omitempty"`
	Mode        decision.Mode `json:"mode"`
	Reason      string        `json:"reason"`
	Duration    float64       `json:"duration"`
	Cached      bool          `json:"cached"`
}

// Jobs is the orchestrator surface the service needs.
type Jobs interface {
	Start(ctx context.Context, req vod.Request) (vod.Status, error)
	Stop(ctx context.Context, id string) error
	Touch(id string) bool
	Busy(id string) bool
	Lookup(id string) (vod.Status, bool)
	Status() []vod.Status
}

// Cache is the segment cache surface the service needs.
type Cache interface {
	Lookup(id, sourcePath string) (cache.LookupResult, error)
	FilePath(id, name string) (string, error)
	Stats() (cache.Stats, error)
	ClearAll(busy func(id string) bool) (int, error)
}

// Hardware is the capability prober surface the service needs.
type Hardware interface {
	Report() (hardware.Report, bool)
	Config() hardware.Config
	Reinit(ctx context.Context, cfg hardware.Config) hardware.Report
}

// Options configures URL generation.
type Options struct {
	// StreamPrefix is the URL prefix under which playlists are served.
	StreamPrefix string
	// DirectURL builds the URL of an unmodified file.
	DirectURL func(mediaID string) string
}

// Service is the streaming engine facade.
type Service struct {
	jobs   Jobs
	cache  Cache
	hw     Hardware
	opts   Options
	logger zerolog.Logger
	tracer trace.Tracer
	sf     singleflight.Group
}

// NewService wires the engine components together.
func NewService(jobs Jobs, c Cache, hw Hardware, opts Options) *Service {
	if opts.StreamPrefix == "" {
		opts.StreamPrefix = "/api/stream"
	}
	if opts.DirectURL == nil {
		opts.DirectURL = func(id string) string {
			return "/api/media/" + url.PathEscape(id) + "/file"
		}
	}
	return &Service{
		jobs:   jobs,
		cache:  c,
		hw:     hw,
		opts:   opts,
		logger: xglog.WithComponent("stream"),
		tracer: telemetry.Tracer("nexusm.stream"),
	}
}

// TranscodeID derives the job identity from the media id and the audio track.
// Without a media id the source path is hashed.
func TranscodeID(md MediaDescriptor) string {
	base := md.MediaID
	if base == "" || !cache.ValidID(base) {
		sum := sha256.Sum256([]byte(md.MediaID + "\x00" + md.FilePath))
		base = hex.EncodeToString(sum[:8])
	}
	return fmt.Sprintf("%s_a%d", base, max(md.AudioTrack, 0))
}

// Classify decides the streaming mode. The box scanner runs only when the
// decision depends on it.
func (s *Service) Classify(md MediaDescriptor) Classification {
	d := s.classify(md)
	return Classification{Mode: d.Mode, Reason: reasonText(d)}
}

func (s *Service) classify(md MediaDescriptor) decision.Decision {
	return decision.Classify(decision.Input{
		Container:     md.Container,
		VideoCodec:    md.VideoCodec,
		AudioCodec:    md.AudioCodec,
		AudioChannels: md.AudioChannels,
		FastStart:     func() bool { return mp4.IsFastStart(md.FilePath) },
	})
}

func reasonText(d decision.Decision) string {
	if d.Detail == "" {
		return string(d.Reason)
	}
	return string(d.Reason) + ": " + d.Detail
}

// Resolve returns how to play md: directly, from a valid cache entry, or
// from a running transcode. Missing input and exhausted admission are errors.
func (s *Service) Resolve(ctx context.Context, md MediaDescriptor) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "stream.resolve",
		trace.WithAttributes(telemetry.MediaAttributes(md.Container, md.VideoCodec, md.AudioCodec)...))
	defer span.End()

	if md.FilePath == "" {
		return Result{}, fmt.Errorf("%w: filePath is required", ErrInvalidRequest)
	}
	fi, err := os.Stat(md.FilePath)
	if err != nil || fi.IsDir() {
		telemetry.RecordError(span, ErrInputNotFound)
		return Result{}, fmt.Errorf("%w: %s", ErrInputNotFound, md.FilePath)
	}

	d := s.classify(md)
	res := Result{
		Mode:     d.Mode,
		Reason:   reasonText(d),
		Duration: md.DurationSeconds,
	}
	span.SetAttributes(attribute.String(telemetry.TranscodeModeKey, string(d.Mode)))

	if !d.Mode.NeedsProcess() {
		res.Type = TypeDirect
		res.DirectURL = s.opts.DirectURL(md.MediaID)
		return res, nil
	}

	id := TranscodeID(md)
	res.Type = TypeSegmented
	res.TranscodeID = id
	res.PlaylistURL = s.playlistURL(id)
	span.SetAttributes(attribute.String(telemetry.TranscodeIDKey, id))

	v, err, _ := s.sf.Do(id, func() (any, error) {
		return s.ensure(xglog.ContextWithTranscodeID(ctx, id), id, md, d.Mode)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return Result{}, err
	}
	res.Cached = v.(bool)
	return res, nil
}

// ensure makes output for id available. It reports whether it came from cache.
func (s *Service) ensure(ctx context.Context, id string, md MediaDescriptor, mode decision.Mode) (bool, error) {
	logger := xglog.WithContext(ctx, s.logger)

	if st, ok := s.jobs.Lookup(id); ok && st.State == vod.StateRunning {
		if st.SourcePath == md.FilePath && st.Mode == mode {
			s.jobs.Touch(id)
			return false, nil
		}
		logger.Info().Str(xglog.FieldSourcePath, md.FilePath).
			Str(xglog.FieldEvent, "stream.source_changed").Msg("restarting job for a different source")
	} else {
		lr, err := s.cache.Lookup(id, md.FilePath)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if lr.Hit {
			logger.Debug().Str(xglog.FieldEvent, "stream.cache_hit").Msg("serving from cache")
			return true, nil
		}
	}

	_, err := s.jobs.Start(ctx, vod.Request{
		TranscodeID: id,
		SourcePath:  md.FilePath,
		Mode:        mode,
		AudioTrack:  md.AudioTrack,
		Duration:    time.Duration(md.DurationSeconds * float64(time.Second)),
	})
	if err != nil {
		return false, err
	}
	return false, nil
}

func (s *Service) playlistURL(id string) string {
	return s.opts.StreamPrefix + "/" + url.PathEscape(id) + "/" + hls.PlaylistName
}

// Playlist returns the current playlist text for id. It is append-only while
// the job runs and finalized once complete.
func (s *Service) Playlist(id string) ([]byte, error) {
	return s.readFile(id, hls.PlaylistName)
}

// Segment returns the init or media segment called name.
func (s *Service) Segment(id, name string) ([]byte, error) {
	if !hls.IsSegmentName(name) {
		return nil, fmt.Errorf("%w: segment name %q", ErrInvalidRequest, name)
	}
	return s.readFile(id, name)
}

// readFile serves one output file and counts as client activity for the job.
func (s *Service) readFile(id, name string) ([]byte, error) {
	if !cache.ValidID(id) {
		return nil, fmt.Errorf("%w: transcode id %q", ErrInvalidRequest, id)
	}
	s.jobs.Touch(id)
	path, err := s.cache.FilePath(id, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	// #nosec G304 -- confined to the output root
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Stop terminates the job for id.
func (s *Service) Stop(ctx context.Context, id string) error {
	if err := s.jobs.Stop(ctx, id); err != nil {
		if errors.Is(err, vod.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Status lists active and recently finished jobs.
func (s *Service) Status() []vod.Status {
	return s.jobs.Status()
}

// JobStatus returns one job.
func (s *Service) JobStatus(id string) (vod.Status, error) {
	st, ok := s.jobs.Lookup(id)
	if !ok {
		return vod.Status{}, ErrNotFound
	}
	return st, nil
}

// CacheStats returns the aggregate cache size.
func (s *Service) CacheStats() (cache.Stats, error) {
	return s.cache.Stats()
}

// ClearCache removes every cache entry not owned by a running job.
func (s *Service) ClearCache() (int, error) {
	n, err := s.cache.ClearAll(s.jobs.Busy)
	if err == nil {
		s.logger.Info().Int("removed", n).Str(xglog.FieldEvent, "cache.cleared").Msg("cache cleared")
	}
	return n, err
}

// HardwareReport returns the latest capability detection.
func (s *Service) HardwareReport() (hardware.Report, bool) {
	return s.hw.Report()
}

// Redetect re-runs hardware detection with the current settings.
func (s *Service) Redetect(ctx context.Context) hardware.Report {
	return s.hw.Reinit(ctx, s.hw.Config())
}
