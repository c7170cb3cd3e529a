package ingest_test

import (
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"sentinelgrid.dev/telemetry/internal/ingest"
)

var _ = Describe("Service", func() {
	var cfg *ingest.ServiceConfig

	BeforeEach(func() {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		cfg = &ingest.ServiceConfig{
			Logger:     logger,
			DBHost:     "localhost",
			DBPort:     5432,
			DBUser:     "postgres",
			DBName:     "sentinelgrid",
			BrokerURL:  "amqp://localhost:5672",
			Exchange:   "telemetry",
			Queue:      "telemetry.readings",
			BindingKey: "sensors.*.data",
		}
	})

	Describe("NewService", func() {
		Context("with valid configuration", func() {
			It("should create a service", func() {
				service, err := ingest.NewService(cfg)
				Expect(err).NotTo(HaveOccurred())
				Expect(service).NotTo(BeNil())
			})
		})

		Context("with invalid configuration", func() {
			It("should return error when config is nil", func() {
				service, err := ingest.NewService(nil)
				Expect(err).To(HaveOccurred())
				Expect(service).To(BeNil())
			})

			It("should return error when logger is nil", func() {
				cfg.Logger = nil
				_, err := ingest.NewService(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("logger"))
			})

			It("should return error when broker URL is empty", func() {
				cfg.BrokerURL = ""
				_, err := ingest.NewService(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("broker URL"))
			})

			It("should return error when exchange is empty", func() {
				cfg.Exchange = ""
				_, err := ingest.NewService(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("exchange"))
			})

			It("should return error when queue is empty", func() {
				cfg.Queue = ""
				_, err := ingest.NewService(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("queue"))
			})

			It("should return error when binding key is empty", func() {
				cfg.BindingKey = ""
				_, err := ingest.NewService(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("binding key"))
			})

			It("should return error when database host is empty", func() {
				cfg.DBHost = ""
				_, err := ingest.NewService(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("database host"))
			})

			It("should return error when database port is zero", func() {
				cfg.DBPort = 0
				_, err := ingest.NewService(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("database port"))
			})

			It("should return error when database user is empty", func() {
				cfg.DBUser = ""
				_, err := ingest.NewService(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("database user"))
			})

			It("should return error when database name is empty", func() {
				cfg.DBName = ""
				_, err := ingest.NewService(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("database name"))
			})
		})
	})
})
