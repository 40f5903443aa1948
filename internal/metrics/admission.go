package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// No per-job labels here: transcode ids would explode cardinality.
var (
	admissionAdmitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexusm_admission_admit_total",
		Help: "Admitted transcode jobs, by path (immediate or waited).",
	}, []string{"path"})

	admissionRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexusm_admission_reject_total",
		Help: "Rejected transcode jobs, by reason.",
	}, []string{"reason"})

	admissionWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nexusm_admission_wait_seconds",
		Help:    "Time spent waiting for a transcode slot.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 20, 30},
	})

	slotsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nexusm_admission_slots_in_use",
		Help: "Transcode slots currently held.",
	})
)

// RecordAdmit counts an admission. path is "immediate" or "waited".
func RecordAdmit(path string, waitSeconds float64) {
	admissionAdmitTotal.WithLabelValues(path).Inc()
	admissionWaitSeconds.Observe(waitSeconds)
	slotsInUse.Inc()
}

// RecordReject counts a rejected admission.
func RecordReject(reason string) {
	admissionRejectTotal.WithLabelValues(reason).Inc()
}

// RecordRelease marks a slot as returned.
func RecordRelease() {
	slotsInUse.Dec()
}

// GetSlotsInUse returns the current value of the gauge (for testing).
func GetSlotsInUse() float64 {
	var m dto.Metric
	if err := slotsInUse.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
