package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sentinelgrid.dev/telemetry/internal/store"
	"sentinelgrid.dev/telemetry/internal/sweep"
	"sentinelgrid.dev/telemetry/pkg/metrics"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the staleness sweep",
	Long: `Run the staleness sweep that marks sensors offline after prolonged
silence. Intended to run as a scheduled job alongside the ingest service.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	// Sweep-specific flags
	sweepCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	sweepCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	sweepCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	sweepCmd.Flags().String("db-password", "", "PostgreSQL password")
	sweepCmd.Flags().String("db-name", "sentinelgrid", "PostgreSQL database name")
	sweepCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	sweepCmd.Flags().Duration("window", 10*time.Minute, "silence window before a sensor is marked offline")
	sweepCmd.Flags().Duration("interval", time.Minute, "time between sweep passes")
	sweepCmd.Flags().Bool("once", false, "run a single sweep pass and exit")

	// Bind flags to viper
	_ = viper.BindPFlag("sweep.db.host", sweepCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("sweep.db.port", sweepCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("sweep.db.user", sweepCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("sweep.db.password", sweepCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("sweep.db.name", sweepCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("sweep.db.sslmode", sweepCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("sweep.window", sweepCmd.Flags().Lookup("window"))
	_ = viper.BindPFlag("sweep.interval", sweepCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("sweep.once", sweepCmd.Flags().Lookup("once"))
}

func runSweep(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting staleness sweep")

	db, err := store.NewDB(&store.DBConfig{
		Host:     viper.GetString("sweep.db.host"),
		Port:     viper.GetInt("sweep.db.port"),
		User:     viper.GetString("sweep.db.user"),
		Password: viper.GetString("sweep.db.password"),
		DBName:   viper.GetString("sweep.db.name"),
		SSLMode:  viper.GetString("sweep.db.sslmode"),
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		return err
	}
	defer func() {
		if err := store.CloseDB(db, logger); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	sensors, err := store.NewSensorStore(db, logger)
	if err != nil {
		logger.Error("failed to initialize sensor store", "error", err)
		return err
	}

	sweeper, err := sweep.NewSweeper(&sweep.SweeperConfig{
		Logger:   logger,
		Sensors:  sensors,
		Metrics:  metrics.NewSweepMetrics(metrics.DefaultNamespace),
		Window:   viper.GetDuration("sweep.window"),
		Interval: viper.GetDuration("sweep.interval"),
	})
	if err != nil {
		logger.Error("failed to create sweeper", "error", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if viper.GetBool("sweep.once") {
		if err := sweeper.Sweep(ctx); err != nil {
			logger.Error("sweep failed", "error", err)
			return err
		}
		logger.Info("sweep completed")
		return nil
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	if err := sweeper.Run(ctx); err != nil {
		logger.Error("sweep error", "error", err)
		return err
	}

	logger.Info("sweep stopped")
	return nil
}
