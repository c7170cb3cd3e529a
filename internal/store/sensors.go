package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// SensorStore is the repository the ingestion pipeline and the staleness
// sweep use to read and mutate sensor state.
type SensorStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewSensorStore creates a new SensorStore instance.
func NewSensorStore(db *gorm.DB, logger *slog.Logger) (*SensorStore, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &SensorStore{db: db, logger: logger}, nil
}

// FindActiveByDeviceID returns the sensor record whose physical identifier
// equals deviceID, searching across all accounts. A record existing at all
// means the identifier is currently owned; released sensors are removed.
//
// The second return value is the number of matches found (capped at 2):
// ownership exclusivity guarantees at most one, so a count above one is a
// data-integrity violation the caller must log. Matches are ordered by
// primary key so the violation is processed deterministically across runs.
// Zero matches returns (nil, 0, nil), not an error.
func (s *SensorStore) FindActiveByDeviceID(ctx context.Context, deviceID string) (*Sensor, int64, error) {
	var sensors []Sensor
	err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("id ASC").
		Limit(2).
		Find(&sensors).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query sensor by device id: %w", err)
	}

	if len(sensors) == 0 {
		return nil, 0, nil
	}
	return &sensors[0], int64(len(sensors)), nil
}

// ReadingRecord is one accepted measurement together with the status derived
// from it, ready to be persisted.
type ReadingRecord struct {
	Timestamp      time.Time
	DeviceID       string
	Unit           string
	Status         Status
	Value          float64
	SecondaryValue *float64
	BatteryLevel   *float64
	SensorID       uint
}

// RecordReading persists one reading and refreshes the sensor snapshot in a
// single transaction, so a reading is never stored with a stale status.
//
// The reading row is always appended; the snapshot update carries a
// monotonic guard on last_communication and is skipped when a newer reading
// has already been applied (broker redelivery, cross-worker races). The
// returned bool reports whether the snapshot was applied.
func (s *SensorStore) RecordReading(ctx context.Context, rec ReadingRecord) (bool, error) {
	applied := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reading := &Reading{
			SensorID:       rec.SensorID,
			DeviceID:       rec.DeviceID,
			Value:          rec.Value,
			SecondaryValue: rec.SecondaryValue,
			Unit:           rec.Unit,
			BatteryLevel:   rec.BatteryLevel,
			Timestamp:      rec.Timestamp,
		}
		if err := tx.Create(reading).Error; err != nil {
			return fmt.Errorf("failed to append reading: %w", err)
		}

		updates := map[string]interface{}{
			"current_value":      rec.Value,
			"secondary_value":    rec.SecondaryValue,
			"last_communication": rec.Timestamp,
			"status":             string(rec.Status),
		}
		if rec.BatteryLevel != nil {
			updates["battery_level"] = *rec.BatteryLevel
		}

		result := tx.Model(&Sensor{}).
			Where("id = ? AND (last_communication IS NULL OR last_communication <= ?)",
				rec.SensorID, rec.Timestamp).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to update sensor snapshot: %w", result.Error)
		}

		applied = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}

	if !applied {
		s.logger.Debug("snapshot update skipped, newer reading already applied",
			"sensor_id", rec.SensorID,
			"device_id", rec.DeviceID,
		)
	}

	return applied, nil
}

// MarkStale transitions every sensor that has been silent since before
// cutoff to offline. Pending sensors have never communicated and are left
// alone; sensors already offline are not touched again. Returns the number
// of sensors transitioned.
func (s *SensorStore) MarkStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&Sensor{}).
		Where("last_communication IS NOT NULL AND last_communication < ? AND status IN ?",
			cutoff, []string{string(StatusOK), string(StatusWarning), string(StatusCritical)}).
		Update("status", string(StatusOffline))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark stale sensors offline: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// CountReadings returns the number of readings stored for a sensor.
func (s *SensorStore) CountReadings(ctx context.Context, sensorID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Reading{}).
		Where("sensor_id = ?", sensorID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return count, nil
}
