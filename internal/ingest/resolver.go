package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sentinelgrid.dev/telemetry/internal/store"
	"sentinelgrid.dev/telemetry/pkg/metrics"
)

// SensorFinder is the identity-lookup contract: find the sensor record, if
// any, whose physical identifier equals the device identifier and whose
// ownership is active. Backed by store.SensorStore in production.
type SensorFinder interface {
	FindActiveByDeviceID(ctx context.Context, deviceID string) (*store.Sensor, int64, error)
}

// Resolver maps device identifiers to owning sensor records, with a
// short-lived cache in front of the store query.
type Resolver struct {
	finder  SensorFinder
	cache   *Cache
	logger  *slog.Logger
	metrics *metrics.IngestMetrics // Optional metrics
}

// NewResolver creates a new Resolver. A zero cacheTTL disables caching.
func NewResolver(finder SensorFinder, cacheTTL time.Duration, logger *slog.Logger, m *metrics.IngestMetrics) (*Resolver, error) {
	if finder == nil {
		return nil, errors.New("sensor finder cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Resolver{
		finder:  finder,
		cache:   NewCache(cacheTTL),
		logger:  logger,
		metrics: m,
	}, nil
}

// Resolve returns the sensor record owning the device identifier, or nil if
// the identifier is not registered to any account. An unregistered device is
// an expected, recoverable condition, not an error; the caller drops the
// message.
//
// More than one match indicates a data-integrity violation upstream. The
// first match by record key is processed deterministically and the violation
// is logged for operator investigation.
func (r *Resolver) Resolve(ctx context.Context, deviceID string) (*store.Sensor, error) {
	if sensor, ok := r.cache.Get(deviceID); ok {
		if r.metrics != nil {
			r.metrics.ResolverCacheHits.Inc()
		}
		return sensor, nil
	}
	if r.metrics != nil {
		r.metrics.ResolverCacheMiss.Inc()
	}

	sensor, matches, err := r.finder.FindActiveByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("identity lookup failed: %w", err)
	}

	if sensor == nil {
		return nil, nil
	}

	if matches > 1 {
		r.logger.Error("multiple active sensors share one physical identifier",
			"device_id", deviceID,
			"matches", matches,
			"resolved_sensor_id", sensor.ID,
		)
	}

	r.cache.Put(*sensor)
	return sensor, nil
}

// Invalidate drops any cached resolution for the device identifier.
func (r *Resolver) Invalidate(deviceID string) {
	r.cache.Invalidate(deviceID)
}
