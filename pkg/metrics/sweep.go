package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SweepMetrics contains Prometheus metrics for the staleness sweep job.
type SweepMetrics struct {
	SensorsMarkedOffline prometheus.Counter
	SweepDuration        prometheus.Histogram
	SweepErrors          prometheus.Counter
}

// NewSweepMetrics creates and registers staleness sweep metrics.
func NewSweepMetrics(namespace string) *SweepMetrics {
	m := &SweepMetrics{
		SensorsMarkedOffline: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "sensors_marked_offline_total",
				Help:      "Total number of sensors marked offline by the sweep",
			},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "duration_seconds",
				Help:      "Duration of sweep passes",
				Buckets:   prometheus.DefBuckets,
			},
		),
		SweepErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweep",
				Name:      "errors_total",
				Help:      "Total number of failed sweep passes",
			},
		),
	}

	MustRegister(
		m.SensorsMarkedOffline,
		m.SweepDuration,
		m.SweepErrors,
	)

	return m
}
