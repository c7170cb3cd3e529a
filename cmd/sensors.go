package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"sentinelgrid.dev/telemetry/internal/registry"
	"sentinelgrid.dev/telemetry/internal/store"
)

var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "Administer sensor registrations",
}

var sensorsRegisterCmd = &cobra.Command{
	Use:   "register <device-id>",
	Short: "Register a physical identifier to an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runSensorsRegister,
}

var sensorsReleaseCmd = &cobra.Command{
	Use:   "release <device-id>",
	Short: "Release a sensor, making its identifier available again",
	Args:  cobra.ExactArgs(1),
	RunE:  runSensorsRelease,
}

var sensorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an account's sensors",
	RunE:  runSensorsList,
}

func init() {
	rootCmd.AddCommand(sensorsCmd)
	sensorsCmd.AddCommand(sensorsRegisterCmd, sensorsReleaseCmd, sensorsListCmd)

	// Shared database flags
	sensorsCmd.PersistentFlags().String("db-host", "localhost", "PostgreSQL host")
	sensorsCmd.PersistentFlags().Int("db-port", 5432, "PostgreSQL port")
	sensorsCmd.PersistentFlags().String("db-user", "postgres", "PostgreSQL user")
	sensorsCmd.PersistentFlags().String("db-password", "", "PostgreSQL password")
	sensorsCmd.PersistentFlags().String("db-name", "sentinelgrid", "PostgreSQL database name")
	sensorsCmd.PersistentFlags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	sensorsCmd.PersistentFlags().String("owner", "", "owner account id (UUID)")

	_ = viper.BindPFlag("sensors.db.host", sensorsCmd.PersistentFlags().Lookup("db-host"))
	_ = viper.BindPFlag("sensors.db.port", sensorsCmd.PersistentFlags().Lookup("db-port"))
	_ = viper.BindPFlag("sensors.db.user", sensorsCmd.PersistentFlags().Lookup("db-user"))
	_ = viper.BindPFlag("sensors.db.password", sensorsCmd.PersistentFlags().Lookup("db-password"))
	_ = viper.BindPFlag("sensors.db.name", sensorsCmd.PersistentFlags().Lookup("db-name"))
	_ = viper.BindPFlag("sensors.db.sslmode", sensorsCmd.PersistentFlags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("sensors.owner", sensorsCmd.PersistentFlags().Lookup("owner"))

	// Registration flags
	sensorsRegisterCmd.Flags().String("name", "", "display name")
	sensorsRegisterCmd.Flags().String("type", "temperature", "sensor type")
	sensorsRegisterCmd.Flags().String("location", "", "free-text location")
	sensorsRegisterCmd.Flags().String("unit", "", "measurement unit")
	sensorsRegisterCmd.Flags().Float64("warn-low", 0, "primary warning lower bound")
	sensorsRegisterCmd.Flags().Float64("warn-high", 0, "primary warning upper bound")
	sensorsRegisterCmd.Flags().Float64("crit-low", 0, "primary critical lower bound")
	sensorsRegisterCmd.Flags().Float64("crit-high", 0, "primary critical upper bound")
	sensorsRegisterCmd.Flags().Float64("secondary-warn-low", 0, "secondary warning lower bound")
	sensorsRegisterCmd.Flags().Float64("secondary-warn-high", 0, "secondary warning upper bound")
	sensorsRegisterCmd.Flags().Float64("secondary-crit-low", 0, "secondary critical lower bound")
	sensorsRegisterCmd.Flags().Float64("secondary-crit-high", 0, "secondary critical upper bound")
}

func sensorsDB(logger *slog.Logger) (*gorm.DB, *registry.Service, error) {
	db, err := store.NewDB(&store.DBConfig{
		Host:     viper.GetString("sensors.db.host"),
		Port:     viper.GetInt("sensors.db.port"),
		User:     viper.GetString("sensors.db.user"),
		Password: viper.GetString("sensors.db.password"),
		DBName:   viper.GetString("sensors.db.name"),
		SSLMode:  viper.GetString("sensors.db.sslmode"),
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}

	service, err := registry.NewService(db, logger)
	if err != nil {
		return nil, nil, err
	}

	return db, service, nil
}

// boundFlag returns a pointer for the flag value only when the operator set
// it, so unset bounds stay unset.
func boundFlag(cmd *cobra.Command, name string) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetFloat64(name)
	return &v
}

func runSensorsRegister(cmd *cobra.Command, args []string) error {
	logger := GetLogger()

	db, service, err := sensorsDB(logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return err
	}
	defer func() { _ = store.CloseDB(db, logger) }()

	name, _ := cmd.Flags().GetString("name")
	sensorType, _ := cmd.Flags().GetString("type")
	location, _ := cmd.Flags().GetString("location")
	unit, _ := cmd.Flags().GetString("unit")

	req := registry.RegisterRequest{
		DeviceID: args[0],
		OwnerID:  viper.GetString("sensors.owner"),
		Name:     name,
		Type:     store.SensorType(sensorType),
		Location: location,
		Unit:     unit,
		Thresholds: store.Thresholds{
			PrimaryWarn:   store.Band{Low: boundFlag(cmd, "warn-low"), High: boundFlag(cmd, "warn-high")},
			PrimaryCrit:   store.Band{Low: boundFlag(cmd, "crit-low"), High: boundFlag(cmd, "crit-high")},
			SecondaryWarn: store.Band{Low: boundFlag(cmd, "secondary-warn-low"), High: boundFlag(cmd, "secondary-warn-high")},
			SecondaryCrit: store.Band{Low: boundFlag(cmd, "secondary-crit-low"), High: boundFlag(cmd, "secondary-crit-high")},
		},
	}

	sensor, err := service.Register(context.Background(), req)
	if err != nil {
		logger.Error("registration failed", "error", err)
		return err
	}

	fmt.Printf("registered %s as sensor %d (%s)\n", sensor.DeviceID, sensor.ID, sensor.Type)
	return nil
}

func runSensorsRelease(_ *cobra.Command, args []string) error {
	logger := GetLogger()

	db, service, err := sensorsDB(logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return err
	}
	defer func() { _ = store.CloseDB(db, logger) }()

	if err := service.Release(context.Background(), args[0], viper.GetString("sensors.owner")); err != nil {
		logger.Error("release failed", "error", err)
		return err
	}

	fmt.Printf("released %s\n", args[0])
	return nil
}

func runSensorsList(_ *cobra.Command, _ []string) error {
	logger := GetLogger()

	db, service, err := sensorsDB(logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return err
	}
	defer func() { _ = store.CloseDB(db, logger) }()

	sensors, err := service.List(context.Background(), viper.GetString("sensors.owner"))
	if err != nil {
		logger.Error("list failed", "error", err)
		return err
	}

	for _, s := range sensors {
		fmt.Printf("%-20s %-14s %-10s %s\n", s.DeviceID, s.Type, s.Status, s.Name)
	}
	fmt.Printf("%d sensor(s)\n", len(sensors))
	return nil
}
