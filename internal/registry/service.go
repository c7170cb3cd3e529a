// Package registry manages the sensor ownership lifecycle: registering a
// physical identifier to an account, releasing it, and listing an account's
// sensors. Ownership is exclusive; a released identifier becomes available
// for re-registration and the completed period is appended to the transfer
// history.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sentinelgrid.dev/telemetry/internal/store"
)

var (
	// ErrDeviceAlreadyRegistered is returned when the physical identifier is
	// currently owned by some account.
	ErrDeviceAlreadyRegistered = errors.New("device is already registered to an account")
	// ErrSensorNotFound is returned when no sensor matches the identifier
	// for the given owner.
	ErrSensorNotFound = errors.New("sensor not found")
)

// Service implements sensor lifecycle operations.
type Service struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewService creates a new registry Service.
func NewService(db *gorm.DB, logger *slog.Logger) (*Service, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Service{db: db, logger: logger}, nil
}

// RegisterRequest describes a new sensor registration.
type RegisterRequest struct {
	DeviceID   string
	OwnerID    string
	Name       string
	Type       store.SensorType
	Location   string
	Unit       string
	BuildingID *uint
	Thresholds store.Thresholds
}

// Register claims a physical identifier for an account. The sensor starts in
// the pending state with no data. Returns ErrDeviceAlreadyRegistered when
// the identifier is currently owned.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*store.Sensor, error) {
	if req.DeviceID == "" {
		return nil, errors.New("device id cannot be empty")
	}
	if req.OwnerID == "" {
		return nil, errors.New("owner id cannot be empty")
	}
	if _, err := uuid.Parse(req.OwnerID); err != nil {
		return nil, fmt.Errorf("owner id must be a valid UUID: %w", err)
	}
	if req.Name == "" {
		return nil, errors.New("name cannot be empty")
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("unknown sensor type %q", req.Type)
	}

	warnBandInversions(s.logger, req.DeviceID, req.Thresholds)

	sensor := &store.Sensor{
		DeviceID:   req.DeviceID,
		OwnerID:    req.OwnerID,
		Name:       req.Name,
		Type:       req.Type,
		Location:   req.Location,
		Unit:       req.Unit,
		BuildingID: req.BuildingID,
		Status:     store.StatusPending,
		Thresholds: req.Thresholds,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&store.Sensor{}).
			Where("device_id = ?", req.DeviceID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check device availability: %w", err)
		}
		if count > 0 {
			return ErrDeviceAlreadyRegistered
		}

		if err := tx.Create(sensor).Error; err != nil {
			return fmt.Errorf("failed to create sensor: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("sensor registered",
		"device_id", sensor.DeviceID,
		"owner_id", sensor.OwnerID,
		"type", sensor.Type,
	)

	return sensor, nil
}

// Release removes a sensor record and appends the completed ownership period
// to the transfer history. After release the physical identifier resolves to
// no sensor until some account re-registers it.
func (s *Service) Release(ctx context.Context, deviceID, ownerID string) error {
	if deviceID == "" {
		return errors.New("device id cannot be empty")
	}
	if ownerID == "" {
		return errors.New("owner id cannot be empty")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sensor store.Sensor
		err := tx.Where("device_id = ? AND owner_id = ?", deviceID, ownerID).
			First(&sensor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSensorNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load sensor: %w", err)
		}

		transfer := &store.OwnershipTransfer{
			DeviceID:     sensor.DeviceID,
			OwnerID:      sensor.OwnerID,
			RegisteredAt: sensor.CreatedAt,
			ReleasedAt:   time.Now().UTC(),
		}
		if err := tx.Create(transfer).Error; err != nil {
			return fmt.Errorf("failed to append ownership history: %w", err)
		}

		if err := tx.Delete(&sensor).Error; err != nil {
			return fmt.Errorf("failed to delete sensor: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("sensor released",
		"device_id", deviceID,
		"owner_id", ownerID,
	)

	return nil
}

// List returns all sensors owned by an account, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]store.Sensor, error) {
	if ownerID == "" {
		return nil, errors.New("owner id cannot be empty")
	}

	var sensors []store.Sensor
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&sensors).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sensors: %w", err)
	}
	return sensors, nil
}

// History returns the ownership transfer history for a physical identifier,
// oldest first.
func (s *Service) History(ctx context.Context, deviceID string) ([]store.OwnershipTransfer, error) {
	if deviceID == "" {
		return nil, errors.New("device id cannot be empty")
	}

	var transfers []store.OwnershipTransfer
	err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("released_at ASC").
		Find(&transfers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load ownership history: %w", err)
	}
	return transfers, nil
}

// warnBandInversions logs when a critical bound is tighter than the matching
// warning bound. The configuration is accepted as-is; the evaluator applies
// the band rule regardless of ordering.
func warnBandInversions(logger *slog.Logger, deviceID string, t store.Thresholds) {
	check := func(channel string, warn, crit store.Band) {
		if warn.Low != nil && crit.Low != nil && *crit.Low > *warn.Low {
			logger.Warn("critical lower bound is tighter than warning lower bound",
				"device_id", deviceID,
				"channel", channel,
				"warn_low", *warn.Low,
				"crit_low", *crit.Low,
			)
		}
		if warn.High != nil && crit.High != nil && *crit.High < *warn.High {
			logger.Warn("critical upper bound is tighter than warning upper bound",
				"device_id", deviceID,
				"channel", channel,
				"warn_high", *warn.High,
				"crit_high", *crit.High,
			)
		}
	}
	check("primary", t.PrimaryWarn, t.PrimaryCrit)
	check("secondary", t.SecondaryWarn, t.SecondaryCrit)
}
