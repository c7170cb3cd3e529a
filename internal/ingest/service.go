package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/gorm"

	"sentinelgrid.dev/telemetry/internal/store"
	"sentinelgrid.dev/telemetry/pkg/metrics"
	"sentinelgrid.dev/telemetry/pkg/mq"
)

// Service owns the ingest process: database, broker client, pipeline, and
// the metrics listener. It is constructed once at process start and runs
// until signaled.
type Service struct {
	logger    *slog.Logger
	config    *ServiceConfig
	db        *gorm.DB
	pipeline  *Pipeline
	metricsSv *http.Server
}

// ServiceConfig holds the configuration for the Service.
type ServiceConfig struct {
	Logger *slog.Logger

	// Database configuration
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPort     int

	// Broker configuration
	BrokerURL  string
	Exchange   string
	Queue      string
	BindingKey string
	Prefetch   int

	// Pipeline configuration
	Workers      int
	StoreTimeout time.Duration
	CacheTTL     time.Duration

	// MetricsPort serves the Prometheus endpoint; 0 disables it.
	MetricsPort int
}

// NewService creates a new Service instance.
func NewService(cfg *ServiceConfig) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("service config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.BrokerURL == "" {
		return nil, errors.New("broker URL cannot be empty")
	}
	if cfg.Exchange == "" {
		return nil, errors.New("exchange cannot be empty")
	}
	if cfg.Queue == "" {
		return nil, errors.New("queue cannot be empty")
	}
	if cfg.BindingKey == "" {
		return nil, errors.New("binding key cannot be empty")
	}
	if cfg.DBHost == "" {
		return nil, errors.New("database host cannot be empty")
	}
	if cfg.DBPort <= 0 {
		return nil, errors.New("database port must be positive")
	}
	if cfg.DBUser == "" {
		return nil, errors.New("database user cannot be empty")
	}
	if cfg.DBName == "" {
		return nil, errors.New("database name cannot be empty")
	}

	return &Service{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts the ingest service and blocks until shutdown.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting ingest service")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Initialize database
	db, err := store.NewDB(&store.DBConfig{
		Host:     s.config.DBHost,
		Port:     s.config.DBPort,
		User:     s.config.DBUser,
		Password: s.config.DBPassword,
		DBName:   s.config.DBName,
		SSLMode:  s.config.DBSSLMode,
		Logger:   s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	sensors, err := store.NewSensorStore(db, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize sensor store: %w", err)
	}

	// Initialize broker client. A malformed URL fails here, before the
	// process could silently run disconnected.
	mqMetrics := metrics.NewMQMetrics(metrics.DefaultNamespace)
	mqClient, err := mq.New(mq.Config{
		URL:        s.config.BrokerURL,
		Exchange:   s.config.Exchange,
		Queue:      s.config.Queue,
		BindingKey: s.config.BindingKey,
		Prefetch:   s.config.Prefetch,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize broker client: %w", err)
	}
	mqClient.SetMetrics(mqMetrics)

	// Initialize pipeline
	pipeline, err := NewPipeline(&PipelineConfig{
		Logger:       s.logger,
		MQClient:     mqClient,
		Sensors:      sensors,
		Metrics:      metrics.NewIngestMetrics(metrics.DefaultNamespace),
		QueueName:    s.config.Queue,
		Workers:      s.config.Workers,
		StoreTimeout: s.config.StoreTimeout,
		CacheTTL:     s.config.CacheTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	s.pipeline = pipeline

	// Give the broker client time to establish its first connection.
	time.Sleep(2 * time.Second)

	if err := s.pipeline.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	// Serve metrics
	metricsErr := make(chan error, 1)
	if s.config.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		s.metricsSv = &http.Server{
			Addr:              fmt.Sprintf(":%d", s.config.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		s.logger.Info("starting metrics server", "address", s.metricsSv.Addr)
		go func() {
			if err := s.metricsSv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				metricsErr <- fmt.Errorf("metrics server error: %w", err)
			}
			close(metricsErr)
		}()
	}

	s.logger.Info("ingest service started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-metricsErr:
		if err != nil {
			s.logger.Error("metrics server error", "error", err)
			cancel()
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the service.
func (s *Service) Shutdown() error {
	s.logger.Info("shutting down ingest service")

	var shutdownErr error

	if s.metricsSv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.metricsSv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to stop metrics server", "error", err)
			shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
		}
		cancel()
	}

	if s.pipeline != nil {
		s.logger.Info("stopping pipeline")
		if err := s.pipeline.Stop(); err != nil {
			s.logger.Error("failed to stop pipeline", "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; pipeline shutdown error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("pipeline shutdown error: %w", err)
			}
		}
	}

	if s.db != nil {
		if err := store.CloseDB(s.db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; database close error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("database close error: %w", err)
			}
		}
	}

	if shutdownErr != nil {
		s.logger.Error("ingest service shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("ingest service shutdown completed successfully")
	return nil
}
