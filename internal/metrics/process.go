// Package metrics provides Prometheus metrics for the streaming engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexusm_proc_terminate_total",
		Help: "Process tree termination signals, by step and outcome.",
	}, []string{"step", "outcome"})

	procWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexusm_proc_wait_total",
		Help: "Process reap outcomes after termination.",
	}, []string{"result"})
)

// IncProcTerminate records one termination step (interrupt or kill).
func IncProcTerminate(step, outcome string) {
	procTerminateTotal.WithLabelValues(step, outcome).Inc()
}

// IncProcWait records how a terminated process was reaped.
func IncProcWait(result string) {
	procWaitTotal.WithLabelValues(result).Inc()
}
