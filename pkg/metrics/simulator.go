package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SimulatorMetrics contains Prometheus metrics for the device simulator.
type SimulatorMetrics struct {
	ReadingsPublished  *prometheus.CounterVec
	PublishErrors      *prometheus.CounterVec
	SimulatedDevices   prometheus.Gauge
	GenerationDuration prometheus.Histogram
}

// NewSimulatorMetrics creates and registers device simulator metrics.
func NewSimulatorMetrics(namespace string) *SimulatorMetrics {
	m := &SimulatorMetrics{
		ReadingsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "readings_published_total",
				Help:      "Total number of simulated readings published",
			},
			[]string{"sensor_type"},
		),
		PublishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "publish_errors_total",
				Help:      "Total number of failed reading publishes",
			},
			[]string{"sensor_type"},
		),
		SimulatedDevices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "devices",
				Help:      "Number of simulated devices",
			},
		),
		GenerationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "generation_duration_seconds",
				Help:      "Duration of reading generation",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	MustRegister(
		m.ReadingsPublished,
		m.PublishErrors,
		m.SimulatedDevices,
		m.GenerationDuration,
	)

	return m
}
