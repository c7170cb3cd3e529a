package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reason label values used by IngestMetrics.MessagesDropped.
const (
	DropReasonBadTopic      = "bad_topic"
	DropReasonBadPayload    = "bad_payload"
	DropReasonUnknownDevice = "unknown_device"
	DropReasonStoreFailure  = "store_failure"
)

// IngestMetrics contains Prometheus metrics for the telemetry ingest pipeline.
type IngestMetrics struct {
	MessagesTotal      *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	StoreRetries       prometheus.Counter
	StoreFailures      prometheus.Counter
	ProcessingDuration *prometheus.HistogramVec
	ResolverCacheHits  prometheus.Counter
	ResolverCacheMiss  prometheus.Counter
	StatusTransitions  *prometheus.CounterVec
	StaleSnapshots     prometheus.Counter
	ActiveWorkers      prometheus.Gauge
}

// NewIngestMetrics creates and registers ingest pipeline metrics.
func NewIngestMetrics(namespace string) *IngestMetrics {
	m := &IngestMetrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "messages_total",
				Help:      "Total number of messages handled by the pipeline",
			},
			[]string{"outcome"}, // outcome: accepted, dropped
		),
		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "messages_dropped_total",
				Help:      "Total number of messages dropped by the pipeline",
			},
			[]string{"reason"},
		),
		StoreRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "store_retries_total",
				Help:      "Total number of retried store writes",
			},
		),
		StoreFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "store_failures_total",
				Help:      "Total number of store writes dropped after exhausting retries",
			},
		),
		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "processing_duration_seconds",
				Help:      "Duration of end-to-end message processing",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		ResolverCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "resolver_cache_hits_total",
				Help:      "Total number of identity resolutions served from cache",
			},
		),
		ResolverCacheMiss: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "resolver_cache_misses_total",
				Help:      "Total number of identity resolutions that queried the store",
			},
		),
		StatusTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "status_transitions_total",
				Help:      "Total number of derived status values written",
			},
			[]string{"status"},
		),
		StaleSnapshots: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "stale_snapshots_total",
				Help:      "Total number of snapshot updates rejected by the monotonic guard",
			},
		),
		ActiveWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "active_workers",
				Help:      "Number of running pipeline workers",
			},
		),
	}

	MustRegister(
		m.MessagesTotal,
		m.MessagesDropped,
		m.StoreRetries,
		m.StoreFailures,
		m.ProcessingDuration,
		m.ResolverCacheHits,
		m.ResolverCacheMiss,
		m.StatusTransitions,
		m.StaleSnapshots,
		m.ActiveWorkers,
	)

	return m
}
