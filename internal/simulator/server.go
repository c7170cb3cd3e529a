package simulator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"sentinelgrid.dev/telemetry/pkg/metrics"
	"sentinelgrid.dev/telemetry/pkg/mq"
)

// ServerConfig holds the configuration for the simulator server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// BrokerURL is the AMQP connection string
	BrokerURL string
	// Exchange is the topic exchange telemetry is published to
	Exchange string
	// DeviceCount is the number of simulated devices
	DeviceCount int
	// Interval is the time between readings per device
	Interval time.Duration
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.SimulatorMetrics
	// MQMetrics is the optional Prometheus metrics collector for MQ operations
	MQMetrics *metrics.MQMetrics
}

var (
	errInvalidDeviceCount = errors.New("device count must be greater than 0")
	errInvalidInterval    = errors.New("interval must be greater than 0")
	errLoggerRequired     = errors.New("logger is required")
	errBrokerURLRequired  = errors.New("broker URL is required")
	errExchangeRequired   = errors.New("exchange is required")
)

// Server runs a fleet of simulated devices against one publish-only broker
// client.
type Server struct {
	logger  *slog.Logger
	config  *ServerConfig
	client  *mq.Client
	devices []*Device
	metrics *metrics.SimulatorMetrics
	wg      sync.WaitGroup
}

// NewServer creates a new simulator server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("simulator config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}
	if cfg.BrokerURL == "" {
		return nil, errBrokerURLRequired
	}
	if cfg.Exchange == "" {
		return nil, errExchangeRequired
	}
	if cfg.DeviceCount <= 0 {
		return nil, errInvalidDeviceCount
	}
	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	client, err := mq.New(mq.Config{
		URL:      cfg.BrokerURL,
		Exchange: cfg.Exchange,
	}, cfg.Logger.With(slog.String("component", "mq-client")))
	if err != nil {
		return nil, err
	}
	if cfg.MQMetrics != nil {
		client.SetMetrics(cfg.MQMetrics)
	}

	devices := NewFleet(cfg.DeviceCount)
	for _, d := range devices {
		cfg.Logger.Info("created simulated device",
			"device_id", d.DeviceID,
			"type", d.Type,
		)
	}

	s := &Server{
		logger:  cfg.Logger,
		config:  cfg,
		client:  client,
		devices: devices,
		metrics: cfg.Metrics,
	}

	if s.metrics != nil {
		s.metrics.SimulatedDevices.Set(float64(len(devices)))
	}

	return s, nil
}

// Run starts all simulated devices and blocks until a shutdown signal is
// received.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	for _, device := range s.devices {
		s.wg.Add(1)
		go s.runDevice(ctx, device)
	}

	s.logger.Info("simulator started",
		"device_count", len(s.devices),
		"interval", s.config.Interval,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	s.logger.Info("waiting for devices to shut down")
	s.wg.Wait()

	if err := s.client.Close(); err != nil {
		s.logger.Error("failed to close MQ client", "error", err)
	}

	s.logger.Info("simulator stopped")
	return nil
}

// runDevice publishes readings for one device at the configured interval.
func (s *Server) runDevice(ctx context.Context, device *Device) {
	defer s.wg.Done()

	deviceLogger := s.logger.With(slog.String("device_id", device.DeviceID))
	deviceLogger.Info("device started", "type", device.Type)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			deviceLogger.Info("device shutting down")
			return

		case <-ticker.C:
			if err := s.publishReading(ctx, device); err != nil {
				deviceLogger.Error("failed to publish reading", "error", err)
				// Continue on error - don't stop the device
				continue
			}

			deviceLogger.Debug("reading published")
		}
	}
}

func (s *Server) publishReading(ctx context.Context, device *Device) error {
	start := time.Now()
	body, err := device.Reading(start)
	if s.metrics != nil {
		s.metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.PublishErrors.WithLabelValues(string(device.Type)).Inc()
		}
		return err
	}

	if err := s.client.Publish(ctx, device.RoutingKey(), body); err != nil {
		if s.metrics != nil {
			s.metrics.PublishErrors.WithLabelValues(string(device.Type)).Inc()
		}
		return err
	}

	if s.metrics != nil {
		s.metrics.ReadingsPublished.WithLabelValues(string(device.Type)).Inc()
	}

	return nil
}
