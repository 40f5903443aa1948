package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nexusm_transcode_active_jobs",
		Help: "Transcode jobs currently running.",
	})

	jobStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexusm_transcode_starts_total",
		Help: "Transcode job launches, by mode and encoder.",
	}, []string{"mode", "encoder"})

	jobExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexusm_transcode_exits_total",
		Help: "Transcode job terminations, by outcome.",
	}, []string{"outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nexusm_transcode_duration_seconds",
		Help:    "Wall time of finished transcode jobs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"outcome"})
)

// Job exit outcomes.
const (
	OutcomeCompleted   = "completed"
	OutcomeFailed      = "failed"
	OutcomeStopped     = "stopped"
	OutcomeIdleReaped  = "idle_reaped"
	OutcomeStalled     = "stalled"
	OutcomeLaunchError = "launch_error"
)

// RecordJobStart counts a launched job and bumps the active gauge.
func RecordJobStart(mode, encoder string) {
	jobStartsTotal.WithLabelValues(normalizeMode(mode), encoder).Inc()
	activeJobs.Inc()
}

// RecordJobExit counts a finished job and lowers the active gauge.
func RecordJobExit(outcome string, seconds float64) {
	jobExitsTotal.WithLabelValues(outcome).Inc()
	jobDuration.WithLabelValues(outcome).Observe(seconds)
	activeJobs.Dec()
}

// RecordLaunchFailure counts a job that never started.
func RecordLaunchFailure() {
	jobExitsTotal.WithLabelValues(OutcomeLaunchError).Inc()
}
