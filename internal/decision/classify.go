// Package decision classifies a probed media file into the cheapest streaming
// mode a browser can play: as-is, remuxed, remuxed with new audio, or transcoded.
package decision

import (
	"fmt"
	"strings"

	"github.com/michaeldallariva/NexusM-sub001/internal/metrics"
)

type Mode string

const (
	ModeDirect     Mode = "direct"
	ModeRemux      Mode = "remux"
	ModeRemuxAudio Mode = "remux_audio"
	ModeTranscode  Mode = "transcode"
)

// NeedsProcess reports whether the mode requires an encoder job.
func (m Mode) NeedsProcess() bool { return m != ModeDirect }

type Reason string

const (
	ReasonVideoIncompatible Reason = "video_incompatible"
	ReasonVideoUnrecognized Reason = "video_unrecognized"
	ReasonSurroundDownmix   Reason = "surround_downmix"
	ReasonAudioIncompatible Reason = "audio_incompatible"
	ReasonFastStart         Reason = "fast_start"
	ReasonNoFastStart       Reason = "no_fast_start"
	ReasonContainerRewrap   Reason = "container_rewrap"
	ReasonFallback          Reason = "fallback"
)

// Input carries the probe facts of one file.
type Input struct {
	Container     string
	VideoCodec    string
	AudioCodec    string
	AudioChannels int
	// FastStart reports the moov-before-mdat layout. It is only called for
	// MP4 files that would otherwise play directly. Nil means "not fast-start".
	FastStart func() bool
}

// Decision is the classifier output.
type Decision struct {
	Mode   Mode
	Reason Reason
	Detail string
}

var (
	incompatibleVideo = map[string]bool{
		"hevc": true, "h265": true, "av1": true, "vp9": true, "vp8": true,
		"mpeg2video": true, "mpeg2": true, "mpeg1video": true, "mpeg1": true,
		"vc1": true, "divx": true, "xvid": true,
	}
	browserVideo = map[string]bool{"h264": true, "avc": true, "avc1": true}

	incompatibleAudio = map[string]bool{
		"ac3": true, "eac3": true, "dts": true, "truehd": true, "flac": true,
		"alac": true, "opus": true, "vorbis": true,
	}
	browserAudio = map[string]bool{"aac": true, "mp3": true, "mp4a": true}
)

// Classify picks the streaming mode. First matching rule wins. It has no side
// effects besides a metrics counter and is safe for concurrent use.
func Classify(in Input) Decision {
	d := classify(in)
	metrics.RecordDecision(string(d.Mode), string(d.Reason))
	return d
}

func classify(in Input) Decision {
	video := normalize(in.VideoCodec)
	audio := normalize(in.AudioCodec)

	if isIncompatibleVideo(video) {
		return Decision{ModeTranscode, ReasonVideoIncompatible, fmt.Sprintf("video codec %s is not browser playable", video)}
	}
	if !browserVideo[video] {
		return Decision{ModeTranscode, ReasonVideoUnrecognized, fmt.Sprintf("unrecognized video codec %q", video)}
	}

	// H.264 from here on.
	if in.AudioChannels > 2 {
		return Decision{ModeRemuxAudio, ReasonSurroundDownmix, fmt.Sprintf("%d audio channels need a stereo downmix", in.AudioChannels)}
	}
	if isIncompatibleAudio(audio) && !browserAudio[audio] {
		return Decision{ModeRemuxAudio, ReasonAudioIncompatible, fmt.Sprintf("audio codec %s is not browser playable", audio)}
	}
	if isMP4(in.Container) && audioOK(audio) {
		if in.FastStart != nil && in.FastStart() {
			return Decision{ModeDirect, ReasonFastStart, "h264 mp4 with fast-start layout"}
		}
		return Decision{ModeRemux, ReasonNoFastStart, "h264 mp4 without fast-start, moov must be moved"}
	}
	if browserVideo[video] {
		return Decision{ModeRemux, ReasonContainerRewrap, fmt.Sprintf("h264 in %s needs a container rewrap", containerLabel(in.Container))}
	}
	return Decision{ModeTranscode, ReasonFallback, "no cheaper mode applies"}
}

func normalize(codec string) string {
	return strings.ToLower(strings.TrimSpace(codec))
}

func isIncompatibleVideo(c string) bool {
	return incompatibleVideo[c] || strings.HasPrefix(c, "wmv")
}

func isIncompatibleAudio(c string) bool {
	return incompatibleAudio[c] || strings.HasPrefix(c, "pcm")
}

// A file without audio plays fine.
func audioOK(c string) bool {
	return c == "" || browserAudio[c]
}

// isMP4 accepts ffprobe format lists ("mov,mp4,m4a,3gp,3g2,mj2") and bare names.
func isMP4(container string) bool {
	for _, tok := range strings.Split(strings.ToLower(container), ",") {
		switch strings.TrimPrefix(strings.TrimSpace(tok), ".") {
		case "mp4", "m4v":
			return true
		}
	}
	return false
}

func containerLabel(c string) string {
	if c == "" {
		return "unknown container"
	}
	return strings.ToLower(c)
}
