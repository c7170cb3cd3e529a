// Package simulator provides a fleet of simulated devices that publish
// telemetry the way real hardware does: periodic JSON measurements on
// per-device topics. Used for local development and load testing; real
// devices are external to this repository.
package simulator

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"sentinelgrid.dev/telemetry/internal/store"
)

// Device is one simulated physical sensor.
type Device struct {
	DeviceID string
	Type     store.SensorType
	Unit     string

	baseline          float64
	secondaryBaseline float64
	noise             float64
	battery           float64
}

var simTypes = []store.SensorType{
	store.SensorTypeTemperature,
	store.SensorTypeWeight,
	store.SensorTypeMoisture,
	store.SensorTypeWaterLevel,
	store.SensorTypeInfrared,
	store.SensorTypeThermoHygro,
	store.SensorTypeScaleThermo,
	store.SensorTypeAirQuality,
}

// NewDevice creates a simulated device of the given type with a
// manufacturer-style identifier (e.g. SG-2024-000123).
// Note: uses math/rand throughout, which is acceptable for simulation data.
func NewDevice(sensorType store.SensorType) *Device {
	// #nosec G404 - weak random is acceptable for simulated devices
	id := fmt.Sprintf("SG-%d-%06d", time.Now().Year(), gofakeit.Number(0, 999999))

	d := &Device{
		DeviceID: id,
		Type:     sensorType,
		noise:    rand.Float64() * 2,
		battery:  70 + rand.Float64()*30,
	}

	switch sensorType {
	case store.SensorTypeTemperature, store.SensorTypeThermoHygro, store.SensorTypeAirQuality:
		d.Unit = "°C"
		d.baseline = 18 + rand.Float64()*8
	case store.SensorTypeWeight, store.SensorTypeScaleThermo:
		d.Unit = "kg"
		d.baseline = 20 + rand.Float64()*40
	case store.SensorTypeMoisture:
		d.Unit = "%"
		d.baseline = 40 + rand.Float64()*30
	case store.SensorTypeWaterLevel:
		d.Unit = "cm"
		d.baseline = 50 + rand.Float64()*100
	case store.SensorTypeInfrared:
		d.Unit = "cm"
		d.baseline = 30 + rand.Float64()*200
	default:
		d.Unit = ""
		d.baseline = rand.Float64() * 100
	}

	switch sensorType {
	case store.SensorTypeThermoHygro:
		d.secondaryBaseline = 50 + rand.Float64()*20 // humidity %
	case store.SensorTypeScaleThermo:
		d.secondaryBaseline = 15 + rand.Float64()*10 // temperature °C
	case store.SensorTypeAirQuality:
		d.secondaryBaseline = 400 + rand.Float64()*400 // co2 ppm
	}

	return d
}

// NewFleet creates n devices with random sensor types.
func NewFleet(n int) []*Device {
	devices := make([]*Device, 0, n)
	for range n {
		devices = append(devices, NewDevice(simTypes[rand.Intn(len(simTypes))]))
	}
	return devices
}

// RoutingKey returns the telemetry topic for this device.
func (d *Device) RoutingKey() string {
	return fmt.Sprintf("sensors.%s.data", d.DeviceID)
}

// Reading generates one JSON payload for the given time. Values follow a
// daily cycle around the device baseline with noise and occasional spikes;
// the battery slowly drains.
func (d *Device) Reading(t time.Time) ([]byte, error) {
	payload := map[string]interface{}{
		"value":   round2(d.value(t)),
		"battery": round1(d.drainBattery()),
	}
	if d.Unit != "" {
		payload["unit"] = d.Unit
	}
	if key := d.Type.SecondaryChannel(); key != "" {
		payload[key] = round2(d.secondaryValue(t))
	}

	return json.Marshal(payload)
}

func (d *Device) value(t time.Time) float64 {
	hour := float64(t.Hour())

	// Daily cycle (peak mid-afternoon)
	dailyCycle := 0.1 * d.baseline * math.Sin((hour-6)*math.Pi/12)

	noise := (rand.Float64() - 0.5) * d.noise

	// Occasional anomalies (5% chance) push values toward thresholds
	anomaly := 0.0
	if rand.Float64() < 0.05 {
		anomaly = (rand.Float64() - 0.5) * d.baseline * 0.5
	}

	return d.baseline + dailyCycle + noise + anomaly
}

func (d *Device) secondaryValue(t time.Time) float64 {
	hour := float64(t.Hour())
	dailyCycle := 0.05 * d.secondaryBaseline * math.Sin((hour-18)*math.Pi/12)
	noise := (rand.Float64() - 0.5) * d.noise
	return d.secondaryBaseline + dailyCycle + noise
}

func (d *Device) drainBattery() float64 {
	d.battery -= rand.Float64() * 0.05
	if d.battery < 1 {
		d.battery = 1
	}
	return d.battery
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
