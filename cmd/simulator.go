package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sentinelgrid.dev/telemetry/internal/simulator"
	"sentinelgrid.dev/telemetry/pkg/metrics"
	"sentinelgrid.dev/telemetry/pkg/mq"
)

var simulatorCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Run the device simulator",
	Long: `Run the device simulator that:
- Creates a fleet of synthetic devices with manufacturer-style identifiers
- Publishes periodic JSON measurements on per-device topics`,
	RunE: runSimulator,
}

func init() {
	rootCmd.AddCommand(simulatorCmd)

	// Simulator-specific flags
	simulatorCmd.Flags().String("broker-url", "amqp://localhost:5672", "AMQP broker URL")
	simulatorCmd.Flags().String("exchange", "telemetry", "topic exchange name")
	simulatorCmd.Flags().Int("device-count", 5, "number of simulated devices")
	simulatorCmd.Flags().Duration("interval", 5*time.Second, "interval between readings per device")

	// Bind flags to viper
	_ = viper.BindPFlag("simulator.broker.url", simulatorCmd.Flags().Lookup("broker-url"))
	_ = viper.BindPFlag("simulator.broker.exchange", simulatorCmd.Flags().Lookup("exchange"))
	_ = viper.BindPFlag("simulator.device_count", simulatorCmd.Flags().Lookup("device-count"))
	_ = viper.BindPFlag("simulator.interval", simulatorCmd.Flags().Lookup("interval"))
}

func runSimulator(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting device simulator")

	config := &simulator.ServerConfig{
		Logger:      logger,
		BrokerURL:   viper.GetString("simulator.broker.url"),
		Exchange:    viper.GetString("simulator.broker.exchange"),
		DeviceCount: viper.GetInt("simulator.device_count"),
		Interval:    viper.GetDuration("simulator.interval"),
		Metrics:     metrics.NewSimulatorMetrics(metrics.DefaultNamespace),
		MQMetrics:   metrics.NewMQMetrics(metrics.DefaultNamespace),
	}

	server, err := simulator.NewServer(config)
	if err != nil {
		logger.Error("failed to create simulator", "error", err)
		return err
	}

	logger.Info("simulator configuration",
		"broker_url", mq.RedactURL(config.BrokerURL),
		"exchange", config.Exchange,
		"device_count", config.DeviceCount,
		"interval", config.Interval,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("simulator error", "error", err)
		return err
	}

	logger.Info("simulator stopped")
	return nil
}
