package store_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"sentinelgrid.dev/telemetry/internal/store"
)

func f(v float64) *float64 { return &v }

var _ = Describe("Models", func() {
	Describe("SensorType", func() {
		DescribeTable("SecondaryChannel",
			func(t store.SensorType, expected string) {
				Expect(t.SecondaryChannel()).To(Equal(expected))
			},
			Entry("temperature has none", store.SensorTypeTemperature, ""),
			Entry("weight has none", store.SensorTypeWeight, ""),
			Entry("moisture has none", store.SensorTypeMoisture, ""),
			Entry("water level has none", store.SensorTypeWaterLevel, ""),
			Entry("infrared has none", store.SensorTypeInfrared, ""),
			Entry("thermo-hygro reports humidity", store.SensorTypeThermoHygro, "humidity"),
			Entry("scale-thermo reports temperature", store.SensorTypeScaleThermo, "temperature"),
			Entry("air quality reports co2", store.SensorTypeAirQuality, "co2"),
		)

		It("should classify composite types", func() {
			Expect(store.SensorTypeThermoHygro.IsComposite()).To(BeTrue())
			Expect(store.SensorTypeScaleThermo.IsComposite()).To(BeTrue())
			Expect(store.SensorTypeAirQuality.IsComposite()).To(BeTrue())
			Expect(store.SensorTypeTemperature.IsComposite()).To(BeFalse())
			Expect(store.SensorTypeInfrared.IsComposite()).To(BeFalse())
		})

		It("should validate known types", func() {
			Expect(store.SensorTypeTemperature.Valid()).To(BeTrue())
			Expect(store.SensorTypeAirQuality.Valid()).To(BeTrue())
			Expect(store.SensorType("barometer").Valid()).To(BeFalse())
			Expect(store.SensorType("").Valid()).To(BeFalse())
		})
	})

	Describe("Status", func() {
		It("should rank severities", func() {
			Expect(store.StatusCritical.Severity()).To(BeNumerically(">", store.StatusWarning.Severity()))
			Expect(store.StatusWarning.Severity()).To(BeNumerically(">", store.StatusOK.Severity()))
			Expect(store.StatusOK.Severity()).To(BeNumerically(">", store.StatusPending.Severity()))
			Expect(store.StatusPending.Severity()).To(Equal(store.StatusOffline.Severity()))
		})
	})

	Describe("Band", func() {
		It("should report empty when neither bound is set", func() {
			Expect(store.Band{}.Empty()).To(BeTrue())
			Expect(store.Band{Low: f(1)}.Empty()).To(BeFalse())
			Expect(store.Band{High: f(1)}.Empty()).To(BeFalse())
			Expect(store.Band{Low: f(1), High: f(2)}.Empty()).To(BeFalse())
		})
	})

	Describe("table names", func() {
		It("should map models to their tables", func() {
			Expect(store.Sensor{}.TableName()).To(Equal("sensors"))
			Expect(store.Reading{}.TableName()).To(Equal("readings"))
			Expect(store.OwnershipTransfer{}.TableName()).To(Equal("ownership_transfers"))
			Expect(store.Building{}.TableName()).To(Equal("buildings"))
		})
	})

	Describe("Sensor", func() {
		It("should initialize with zero values", func() {
			sensor := store.Sensor{}
			Expect(sensor.DeviceID).To(BeEmpty())
			Expect(sensor.OwnerID).To(BeEmpty())
			Expect(sensor.CurrentValue).To(BeNil())
			Expect(sensor.SecondaryValue).To(BeNil())
			Expect(sensor.LastCommunication).To(BeNil())
			Expect(sensor.ID).To(BeZero())
		})

		It("should allow setting values", func() {
			sensor := store.Sensor{
				DeviceID:     "SG-2024-000123",
				OwnerID:      "550e8400-e29b-41d4-a716-446655440000",
				Type:         store.SensorTypeTemperature,
				Status:       store.StatusOK,
				CurrentValue: f(23.5),
			}

			Expect(sensor.DeviceID).To(Equal("SG-2024-000123"))
			Expect(sensor.Type).To(Equal(store.SensorTypeTemperature))
			Expect(sensor.Status).To(Equal(store.StatusOK))
			Expect(*sensor.CurrentValue).To(Equal(23.5))
		})
	})
})
