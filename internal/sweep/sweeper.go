// Package sweep implements the staleness sweep: a scheduled job that marks
// sensors offline after prolonged silence. It runs outside the
// message-driven pipeline and consumes only the sensors' last-communication
// timestamps.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sentinelgrid.dev/telemetry/pkg/metrics"
)

const (
	defaultWindow   = 10 * time.Minute
	defaultInterval = time.Minute
)

// StaleMarker is the store surface the sweep needs.
type StaleMarker interface {
	MarkStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically marks silent sensors offline.
type Sweeper struct {
	logger   *slog.Logger
	sensors  StaleMarker
	metrics  *metrics.SweepMetrics // Optional metrics
	window   time.Duration
	interval time.Duration
}

// SweeperConfig holds the configuration for the Sweeper.
type SweeperConfig struct {
	Logger  *slog.Logger
	Sensors StaleMarker
	Metrics *metrics.SweepMetrics
	// Window is how long a sensor may stay silent before it is marked
	// offline.
	Window time.Duration
	// Interval is the time between sweep passes.
	Interval time.Duration
}

// NewSweeper creates a new Sweeper instance.
func NewSweeper(cfg *SweeperConfig) (*Sweeper, error) {
	if cfg == nil {
		return nil, errors.New("sweeper config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Sensors == nil {
		return nil, errors.New("sensor store cannot be nil")
	}

	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Sweeper{
		logger:   cfg.Logger,
		sensors:  cfg.Sensors,
		metrics:  cfg.Metrics,
		window:   window,
		interval: interval,
	}, nil
}

// Run sweeps on a fixed interval until the context is canceled. The first
// pass happens immediately.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("starting staleness sweep",
		"window", s.window,
		"interval", s.interval,
	)

	if err := s.Sweep(ctx); err != nil {
		s.logger.Error("sweep pass failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("staleness sweep stopped")
			return nil
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep pass failed", "error", err)
			}
		}
	}
}

// Sweep performs one pass, marking every sensor silent for longer than the
// window offline.
func (s *Sweeper) Sweep(ctx context.Context) error {
	var timer *prometheus.Timer
	if s.metrics != nil {
		timer = prometheus.NewTimer(s.metrics.SweepDuration)
		defer timer.ObserveDuration()
	}

	cutoff := time.Now().UTC().Add(-s.window)
	marked, err := s.sensors.MarkStale(ctx, cutoff)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SweepErrors.Inc()
		}
		return err
	}

	if s.metrics != nil {
		s.metrics.SensorsMarkedOffline.Add(float64(marked))
	}

	if marked > 0 {
		s.logger.Info("marked silent sensors offline",
			"count", marked,
			"cutoff", cutoff,
		)
	} else {
		s.logger.Debug("no silent sensors found", "cutoff", cutoff)
	}

	return nil
}
