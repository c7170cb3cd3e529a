package registry_test

import (
	"context"
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"sentinelgrid.dev/telemetry/internal/registry"
	"sentinelgrid.dev/telemetry/internal/store"
)

var _ = Describe("Service", func() {
	var (
		logger  *slog.Logger
		service *registry.Service
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))

		// Validation rejects bad requests before any query runs, so a
		// zero-value DB handle is sufficient here. Database behavior is
		// covered by the e2e suite.
		var err error
		service, err = registry.NewService(&gorm.DB{}, logger)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewService", func() {
		It("should return error when db is nil", func() {
			svc, err := registry.NewService(nil, logger)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("database cannot be nil"))
			Expect(svc).To(BeNil())
		})

		It("should return error when logger is nil", func() {
			svc, err := registry.NewService(&gorm.DB{}, nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("logger cannot be nil"))
			Expect(svc).To(BeNil())
		})
	})

	Describe("Register validation", func() {
		var req registry.RegisterRequest

		BeforeEach(func() {
			req = registry.RegisterRequest{
				DeviceID: "SG-2024-000123",
				OwnerID:  "550e8400-e29b-41d4-a716-446655440000",
				Name:     "Cold room north",
				Type:     store.SensorTypeTemperature,
			}
		})

		It("should reject an empty device id", func() {
			req.DeviceID = ""
			_, err := service.Register(context.Background(), req)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("device id"))
		})

		It("should reject an empty owner id", func() {
			req.OwnerID = ""
			_, err := service.Register(context.Background(), req)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("owner id"))
		})

		It("should reject a non-UUID owner id", func() {
			req.OwnerID = "not-a-uuid"
			_, err := service.Register(context.Background(), req)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("valid UUID"))
		})

		It("should reject an empty name", func() {
			req.Name = ""
			_, err := service.Register(context.Background(), req)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("name"))
		})

		It("should reject an unknown sensor type", func() {
			req.Type = "barometer"
			_, err := service.Register(context.Background(), req)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unknown sensor type"))
		})
	})

	Describe("Release validation", func() {
		It("should reject an empty device id", func() {
			err := service.Release(context.Background(), "", "550e8400-e29b-41d4-a716-446655440000")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("device id"))
		})

		It("should reject an empty owner id", func() {
			err := service.Release(context.Background(), "SG-2024-000123", "")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("owner id"))
		})
	})

	Describe("List validation", func() {
		It("should reject an empty owner id", func() {
			_, err := service.List(context.Background(), "")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("owner id"))
		})
	})

	Describe("History validation", func() {
		It("should reject an empty device id", func() {
			_, err := service.History(context.Background(), "")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("device id"))
		})
	})
})
