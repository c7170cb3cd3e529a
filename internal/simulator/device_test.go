package simulator_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"sentinelgrid.dev/telemetry/internal/ingest"
	"sentinelgrid.dev/telemetry/internal/simulator"
	"sentinelgrid.dev/telemetry/internal/store"
)

var _ = Describe("Device", func() {
	Describe("NewDevice", func() {
		It("should assign a manufacturer-style identifier", func() {
			device := simulator.NewDevice(store.SensorTypeTemperature)
			Expect(device.DeviceID).To(MatchRegexp(`^SG-\d{4}-\d{6}$`))
		})

		It("should assign a unit per sensor type", func() {
			Expect(simulator.NewDevice(store.SensorTypeTemperature).Unit).To(Equal("°C"))
			Expect(simulator.NewDevice(store.SensorTypeWeight).Unit).To(Equal("kg"))
			Expect(simulator.NewDevice(store.SensorTypeMoisture).Unit).To(Equal("%"))
			Expect(simulator.NewDevice(store.SensorTypeWaterLevel).Unit).To(Equal("cm"))
		})
	})

	Describe("NewFleet", func() {
		It("should create the requested number of devices", func() {
			fleet := simulator.NewFleet(16)
			Expect(fleet).To(HaveLen(16))
			for _, device := range fleet {
				Expect(device.Type.Valid()).To(BeTrue())
			}
		})

		It("should create an empty fleet for zero devices", func() {
			Expect(simulator.NewFleet(0)).To(BeEmpty())
		})
	})

	Describe("RoutingKey", func() {
		It("should produce a topic the ingest pipeline accepts", func() {
			device := simulator.NewDevice(store.SensorTypeTemperature)

			deviceID, err := ingest.ParseTopic(device.RoutingKey())
			Expect(err).NotTo(HaveOccurred())
			Expect(deviceID).To(Equal(device.DeviceID))
		})
	})

	Describe("Reading", func() {
		It("should produce a payload the ingest pipeline accepts", func() {
			device := simulator.NewDevice(store.SensorTypeTemperature)

			data, err := device.Reading(time.Now())
			Expect(err).NotTo(HaveOccurred())

			payload, err := ingest.ParsePayload(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(payload.Unit).To(Equal("°C"))
			Expect(payload.Battery).NotTo(BeNil())
		})

		It("should include the secondary channel for composite types", func() {
			device := simulator.NewDevice(store.SensorTypeThermoHygro)

			data, err := device.Reading(time.Now())
			Expect(err).NotTo(HaveOccurred())

			var raw map[string]interface{}
			Expect(json.Unmarshal(data, &raw)).To(Succeed())
			Expect(raw).To(HaveKey("value"))
			Expect(raw).To(HaveKey("humidity"))
		})

		It("should not include a secondary channel for single-channel types", func() {
			device := simulator.NewDevice(store.SensorTypeWeight)

			data, err := device.Reading(time.Now())
			Expect(err).NotTo(HaveOccurred())

			var raw map[string]interface{}
			Expect(json.Unmarshal(data, &raw)).To(Succeed())
			Expect(raw).NotTo(HaveKey("humidity"))
			Expect(raw).NotTo(HaveKey("co2"))
		})

		It("should drain the battery over successive readings", func() {
			device := simulator.NewDevice(store.SensorTypeTemperature)

			first := batteryOf(device)
			for i := 0; i < 50; i++ {
				_, err := device.Reading(time.Now())
				Expect(err).NotTo(HaveOccurred())
			}
			last := batteryOf(device)

			Expect(last).To(BeNumerically("<=", first))
			Expect(last).To(BeNumerically(">=", 1))
		})
	})
})

func batteryOf(device *simulator.Device) float64 {
	data, err := device.Reading(time.Now())
	Expect(err).NotTo(HaveOccurred())

	var raw map[string]interface{}
	Expect(json.Unmarshal(data, &raw)).To(Succeed())

	battery, ok := raw["battery"].(float64)
	Expect(ok).To(BeTrue())
	return battery
}
