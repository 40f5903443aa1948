package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nexusm_decision_total",
	Help: "Streaming mode decisions by mode and reason.",
}, []string{"mode", "reason"})

// RecordDecision records one classifier outcome.
func RecordDecision(mode, reason string) {
	decisionTotal.WithLabelValues(normalizeMode(mode), normalizeReason(reason)).Inc()
}

func normalizeMode(mode string) string {
	m := strings.ToLower(strings.TrimSpace(mode))
	switch m {
	case "direct", "remux", "remux_audio", "transcode":
		return m
	default:
		return "unknown"
	}
}

func normalizeReason(reason string) string {
	r := strings.ToLower(strings.TrimSpace(reason))
	switch r {
	case "video_incompatible", "video_unrecognized", "surround_downmix", "audio_incompatible",
		"fast_start", "no_fast_start", "container_rewrap", "fallback":
		return r
	default:
		return "unknown"
	}
}
