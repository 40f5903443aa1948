// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vod

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/michaeldallariva/NexusM-sub001/internal/decision"
	"github.com/michaeldallariva/NexusM-sub001/internal/encoder"
	"github.com/michaeldallariva/NexusM-sub001/internal/hls"
)

// EncodeSettings carries the configured quality knobs.
type EncodeSettings struct {
	CRF           int
	Preset        string
	VideoBitrate  string
	MaxBitrate    string
	MaxHeight     int
	HWDecode      bool
	VAAPIDevice   string
	AudioCodec    string
	AudioBitrate  string
	AudioChannels int
	// SegmentSeconds is the target HLS segment length.
	SegmentSeconds int
}

// BuildArgsInput contains everything needed to build the ffmpeg arguments.
type BuildArgsInput struct {
	SourcePath string
	OutputDir  string
	Mode       decision.Mode
	AudioTrack int
	Profile    encoder.Profile
	// Threads caps software encoder threads. Zero lets ffmpeg decide.
	Threads  int
	Settings EncodeSettings
}

// BuildArgs constructs the ffmpeg argument vector for a job.
// The output is an event-style fMP4 HLS playlist appended while encoding.
func BuildArgs(in BuildArgsInput) ([]string, error) {
	if in.Mode == decision.ModeDirect || in.Mode == "" {
		return nil, ErrDirectMode
	}
	s := in.Settings

	args := []string{
		"-y",
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
	}

	transcode := in.Mode == decision.ModeTranscode
	if transcode {
		args = append(args, hwInputArgs(in.Profile, s)...)
	}

	args = append(args,
		"-i", in.SourcePath,
		// One video, one chosen audio, nothing else.
		"-map", "0:v:0",
		"-map", fmt.Sprintf("0:a:%d?", max(in.AudioTrack, 0)),
		"-sn",
		"-dn",
	)

	switch in.Mode {
	case decision.ModeRemux:
		args = append(args, "-c:v", "copy", "-c:a", "copy")
	case decision.ModeRemuxAudio:
		args = append(args, "-c:v", "copy")
		args = append(args, audioArgs(s)...)
	case decision.ModeTranscode:
		args = append(args, videoArgs(in.Profile, s, in.Threads)...)
		args = append(args, audioArgs(s)...)
	default:
		return nil, fmt.Errorf("unsupported mode %q", in.Mode)
	}

	args = append(args, hlsArgs(in.OutputDir, s.SegmentSeconds, transcode)...)
	return args, nil
}

// hwInputArgs sets up hardware decode and device initialisation ahead of -i.
func hwInputArgs(p encoder.Profile, s EncodeSettings) []string {
	var args []string
	if p.ID == encoder.VAAPI {
		args = append(args, "-vaapi_device", s.VAAPIDevice)
		if s.HWDecode {
			args = append(args, "-hwaccel", "vaapi", "-hwaccel_output_format", "vaapi")
		}
		return args
	}
	if s.HWDecode && p.HWAccel != "" {
		args = append(args, "-hwaccel", p.HWAccel)
	}
	return args
}

func videoArgs(p encoder.Profile, s EncodeSettings, threads int) []string {
	var args []string
	if vf := videoFilter(p, s); vf != "" {
		args = append(args, "-vf", vf)
	}
	args = append(args, "-c:v", p.Encoder)

	preset := p.Preset
	if !p.IsHardware() && s.Preset != "" {
		preset = s.Preset
	}

	switch p.ID {
	case encoder.NVENC:
		args = append(args, "-preset", preset, "-rc", "vbr")
		args = append(args, rateArgs(s)...)
		args = append(args, "-pix_fmt", "yuv420p")
	case encoder.QSV:
		args = append(args, "-preset", preset)
		args = append(args, rateArgs(s)...)
	case encoder.AMF:
		args = append(args, "-quality", preset, "-rc", "vbr_peak")
		args = append(args, rateArgs(s)...)
	case encoder.VAAPI:
		args = append(args, "-rc_mode", "VBR")
		args = append(args, rateArgs(s)...)
	default:
		args = append(args, "-preset", preset, "-crf", strconv.Itoa(s.CRF), "-pix_fmt", "yuv420p")
		if threads > 0 {
			args = append(args, "-threads", strconv.Itoa(threads))
		}
	}

	args = append(args, "-profile:v", "high")
	if s.SegmentSeconds > 0 {
		// Keyframes on segment boundaries keep every segment independently decodable.
		args = append(args, "-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", s.SegmentSeconds))
	}
	return args
}

func videoFilter(p encoder.Profile, s EncodeSettings) string {
	if p.ID == encoder.VAAPI {
		var chain []string
		if !s.HWDecode {
			chain = append(chain, "format=nv12", "hwupload")
		}
		if s.MaxHeight > 0 {
			chain = append(chain, fmt.Sprintf("scale_vaapi=w=-2:h='min(ih,%d)':format=nv12", s.MaxHeight))
		}
		return strings.Join(chain, ",")
	}
	if s.MaxHeight > 0 {
		return fmt.Sprintf("scale=-2:'min(ih,%d)'", s.MaxHeight)
	}
	return ""
}

func rateArgs(s EncodeSettings) []string {
	var args []string
	if s.VideoBitrate != "" {
		args = append(args, "-b:v", s.VideoBitrate)
	}
	if s.MaxBitrate != "" {
		args = append(args, "-maxrate", s.MaxBitrate, "-bufsize", doubleRate(s.MaxBitrate))
	}
	return args
}

func audioArgs(s EncodeSettings) []string {
	codec := s.AudioCodec
	if codec == "" {
		codec = "aac"
	}
	args := []string{"-c:a", codec}
	if s.AudioBitrate != "" {
		args = append(args, "-b:a", s.AudioBitrate)
	}
	if s.AudioChannels > 0 {
		args = append(args, "-ac", strconv.Itoa(s.AudioChannels))
	}
	return args
}

func hlsArgs(dir string, segmentSeconds int, transcode bool) []string {
	if segmentSeconds <= 0 {
		segmentSeconds = 4
	}
	flags := "independent_segments"
	if !transcode {
		// Copied video cuts only on existing keyframes.
		flags += "+split_by_time"
	}
	return []string{
		"-max_muxing_queue_size", "1024",
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_list_size", "0",
		"-hls_playlist_type", "event",
		"-hls_segment_type", "fmp4",
		"-hls_flags", flags,
		"-hls_fmp4_init_filename", hls.InitName,
		"-hls_segment_filename", filepath.Join(dir, hls.SegmentPattern),
		"-start_number", "0",
		"-progress", "pipe:1",
		filepath.Join(dir, hls.PlaylistName),
	}
}

// doubleRate turns "8M" into "16M" for the VBV buffer. Unparseable values pass through.
func doubleRate(rate string) string {
	rate = strings.TrimSpace(rate)
	if rate == "" {
		return rate
	}
	num, suffix := rate, ""
	if last := rate[len(rate)-1]; last < '0' || last > '9' {
		num, suffix = rate[:len(rate)-1], rate[len(rate)-1:]
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil || n <= 0 {
		return rate
	}
	return strconv.FormatFloat(n*2, 'f', -1, 64) + suffix
}
