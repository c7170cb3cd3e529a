// Package store provides the persistence layer for sensors, readings, and
// ownership history backed by PostgreSQL.
package store

import (
	"time"
)

// SensorType identifies the measurement channels a device reports.
type SensorType string

const (
	// Single-channel types.
	SensorTypeTemperature SensorType = "temperature"
	SensorTypeWeight      SensorType = "weight"
	SensorTypeMoisture    SensorType = "moisture"
	SensorTypeWaterLevel  SensorType = "water_level"
	SensorTypeInfrared    SensorType = "infrared"

	// Composite types carry a secondary measurement channel.
	SensorTypeThermoHygro SensorType = "thermo_hygro" // temperature + humidity
	SensorTypeScaleThermo SensorType = "scale_thermo" // weight + temperature
	SensorTypeAirQuality  SensorType = "air_quality"  // temperature + co2
)

// SecondaryChannel returns the payload field name of the secondary
// measurement channel for composite types, or "" for single-channel types.
func (t SensorType) SecondaryChannel() string {
	switch t {
	case SensorTypeThermoHygro:
		return "humidity"
	case SensorTypeScaleThermo:
		return "temperature"
	case SensorTypeAirQuality:
		return "co2"
	default:
		return ""
	}
}

// IsComposite reports whether the type carries a secondary channel.
func (t SensorType) IsComposite() bool {
	return t.SecondaryChannel() != ""
}

// Valid reports whether t is a known sensor type.
func (t SensorType) Valid() bool {
	switch t {
	case SensorTypeTemperature, SensorTypeWeight, SensorTypeMoisture,
		SensorTypeWaterLevel, SensorTypeInfrared,
		SensorTypeThermoHygro, SensorTypeScaleThermo, SensorTypeAirQuality:
		return true
	}
	return false
}

// Status is the derived state of a sensor.
type Status string

const (
	StatusPending  Status = "pending"
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusOffline  Status = "offline"
)

// Severity ranks statuses for composite evaluation: critical > warning > ok.
// Pending and offline are lifecycle states, not evaluation results, and rank
// lowest.
func (s Status) Severity() int {
	switch s {
	case StatusCritical:
		return 3
	case StatusWarning:
		return 2
	case StatusOK:
		return 1
	default:
		return 0
	}
}

// Band is one severity band for a measurement channel. Either bound may be
// unset; a band with both bounds unset never triggers.
type Band struct {
	Low  *float64 `gorm:"column:low"`
	High *float64 `gorm:"column:high"`
}

// Empty reports whether neither bound is set.
func (b Band) Empty() bool {
	return b.Low == nil && b.High == nil
}

// Thresholds holds the warning and critical bands for the primary channel
// and, for composite types, the secondary channel. Bands are independently
// configurable; band ordering is not enforced at write time.
type Thresholds struct {
	PrimaryWarn   Band `gorm:"embedded;embeddedPrefix:primary_warn_"`
	PrimaryCrit   Band `gorm:"embedded;embeddedPrefix:primary_crit_"`
	SecondaryWarn Band `gorm:"embedded;embeddedPrefix:secondary_warn_"`
	SecondaryCrit Band `gorm:"embedded;embeddedPrefix:secondary_crit_"`
}

// Sensor is the owned, database-resident representation of a physical device
// registered to an account. DeviceID is the manufacturer-assigned physical
// identifier; the unique index on it enforces exclusive ownership.
type Sensor struct {
	LastCommunication *time.Time `gorm:"index:idx_sensors_last_communication"`
	CreatedAt         time.Time  `gorm:"autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime"`
	DeviceID          string     `gorm:"uniqueIndex;not null"`
	OwnerID           string     `gorm:"index;not null"`
	Name              string     `gorm:"not null"`
	Type              SensorType `gorm:"not null"`
	Location          string
	Unit              string
	SecondaryUnit     string
	Status            Status `gorm:"not null;default:pending"`
	Thresholds        Thresholds `gorm:"embedded"`
	BuildingID        *uint      `gorm:"index"`
	BatteryLevel      float64
	SignalStrength    *float64
	CurrentValue      *float64
	SecondaryValue    *float64
	ID                uint `gorm:"primaryKey"`
}

// TableName specifies the table name for the Sensor model.
func (Sensor) TableName() string {
	return "sensors"
}

// Reading is one immutable timestamped measurement event. Rows are append
// only and written exclusively by the ingestion pipeline.
type Reading struct {
	Timestamp      time.Time `gorm:"index:idx_readings_sensor_timestamp;not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	DeviceID       string    `gorm:"index;not null"`
	Unit           string
	Value          float64 `gorm:"not null"`
	SecondaryValue *float64
	BatteryLevel   *float64
	SensorID       uint `gorm:"index:idx_readings_sensor_timestamp;not null"`
	ID             uint `gorm:"primaryKey"`
}

// TableName specifies the table name for the Reading model.
func (Reading) TableName() string {
	return "readings"
}

// OwnershipTransfer records a completed ownership period for a physical
// identifier. A row is appended when an operator releases a sensor, after
// which the identifier is available for re-registration.
type OwnershipTransfer struct {
	RegisteredAt time.Time `gorm:"not null"`
	ReleasedAt   time.Time `gorm:"not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	DeviceID     string    `gorm:"index;not null"`
	OwnerID      string    `gorm:"not null"`
	ID           uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for the OwnershipTransfer model.
func (OwnershipTransfer) TableName() string {
	return "ownership_transfers"
}

// Building is a logical grouping of sensors under one account. It exists
// here only as a foreign-key target; building management is out of scope.
type Building struct {
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
	OwnerID   string    `gorm:"index;not null"`
	Name      string    `gorm:"not null"`
	Address   string
	ID        uint `gorm:"primaryKey"`
}

// TableName specifies the table name for the Building model.
func (Building) TableName() string {
	return "buildings"
}
