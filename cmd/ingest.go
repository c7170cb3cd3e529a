package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sentinelgrid.dev/telemetry/internal/ingest"
	"sentinelgrid.dev/telemetry/pkg/mq"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the telemetry ingest service",
	Long: `Run the telemetry ingest service that:
- Consumes device measurements from the broker on sensors.*.data
- Resolves device identifiers to owned sensor records
- Appends time-series readings and refreshes sensor snapshots
- Derives sensor status from configured thresholds
- Serves Prometheus metrics`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	// Ingest-specific flags
	ingestCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	ingestCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	ingestCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	ingestCmd.Flags().String("db-password", "", "PostgreSQL password")
	ingestCmd.Flags().String("db-name", "sentinelgrid", "PostgreSQL database name")
	ingestCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	ingestCmd.Flags().String("broker-url", "amqp://localhost:5672", "AMQP broker URL")
	ingestCmd.Flags().String("exchange", "telemetry", "topic exchange name")
	ingestCmd.Flags().String("queue", "sensor-readings", "queue name")
	ingestCmd.Flags().String("binding-key", "sensors.*.data", "wildcard binding pattern")
	ingestCmd.Flags().Int("prefetch", 64, "consumer prefetch count")
	ingestCmd.Flags().Int("workers", 4, "number of pipeline workers")
	ingestCmd.Flags().Duration("store-timeout", 5*time.Second, "per-message store round-trip timeout")
	ingestCmd.Flags().Duration("cache-ttl", 30*time.Second, "identity resolver cache TTL")
	ingestCmd.Flags().Int("metrics-port", 9091, "Prometheus metrics port (0 disables)")

	// Bind flags to viper
	_ = viper.BindPFlag("ingest.db.host", ingestCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("ingest.db.port", ingestCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("ingest.db.user", ingestCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("ingest.db.password", ingestCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("ingest.db.name", ingestCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("ingest.db.sslmode", ingestCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("ingest.broker.url", ingestCmd.Flags().Lookup("broker-url"))
	_ = viper.BindPFlag("ingest.broker.exchange", ingestCmd.Flags().Lookup("exchange"))
	_ = viper.BindPFlag("ingest.broker.queue", ingestCmd.Flags().Lookup("queue"))
	_ = viper.BindPFlag("ingest.broker.binding_key", ingestCmd.Flags().Lookup("binding-key"))
	_ = viper.BindPFlag("ingest.broker.prefetch", ingestCmd.Flags().Lookup("prefetch"))
	_ = viper.BindPFlag("ingest.workers", ingestCmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("ingest.store_timeout", ingestCmd.Flags().Lookup("store-timeout"))
	_ = viper.BindPFlag("ingest.cache_ttl", ingestCmd.Flags().Lookup("cache-ttl"))
	_ = viper.BindPFlag("ingest.metrics_port", ingestCmd.Flags().Lookup("metrics-port"))
}

func runIngest(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting ingest service")

	// Create service configuration from viper
	config := &ingest.ServiceConfig{
		Logger:       logger,
		DBHost:       viper.GetString("ingest.db.host"),
		DBPort:       viper.GetInt("ingest.db.port"),
		DBUser:       viper.GetString("ingest.db.user"),
		DBPassword:   viper.GetString("ingest.db.password"),
		DBName:       viper.GetString("ingest.db.name"),
		DBSSLMode:    viper.GetString("ingest.db.sslmode"),
		BrokerURL:    viper.GetString("ingest.broker.url"),
		Exchange:     viper.GetString("ingest.broker.exchange"),
		Queue:        viper.GetString("ingest.broker.queue"),
		BindingKey:   viper.GetString("ingest.broker.binding_key"),
		Prefetch:     viper.GetInt("ingest.broker.prefetch"),
		Workers:      viper.GetInt("ingest.workers"),
		StoreTimeout: viper.GetDuration("ingest.store_timeout"),
		CacheTTL:     viper.GetDuration("ingest.cache_ttl"),
		MetricsPort:  viper.GetInt("ingest.metrics_port"),
	}

	service, err := ingest.NewService(config)
	if err != nil {
		logger.Error("failed to create ingest service", "error", err)
		return err
	}

	logger.Info("ingest service configuration",
		"db_host", config.DBHost,
		"db_port", config.DBPort,
		"db_name", config.DBName,
		"broker_url", mq.RedactURL(config.BrokerURL),
		"exchange", config.Exchange,
		"queue", config.Queue,
		"binding_key", config.BindingKey,
		"workers", config.Workers,
		"metrics_port", config.MetricsPort,
	)

	if err := service.Run(context.Background()); err != nil {
		logger.Error("ingest service error", "error", err)
		return err
	}

	logger.Info("ingest service stopped")
	return nil
}
