package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	encoderTestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexusm_encoder_test_total",
		Help: "Hardware encoder capability tests, by encoder and result.",
	}, []string{"encoder", "result"})

	activeEncoder = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nexusm_active_encoder_info",
		Help: "Currently selected encoder (value is always 1).",
	}, []string{"encoder", "category"})
)

// RecordEncoderTest counts one capability test. result is "pass" or a failure class.
func RecordEncoderTest(encoder, result string) {
	encoderTestTotal.WithLabelValues(encoder, result).Inc()
}

// SetActiveEncoder replaces the info series with the given encoder.
func SetActiveEncoder(encoder, category string) {
	activeEncoder.Reset()
	activeEncoder.WithLabelValues(encoder, category).Set(1)
}
