package simulator_test

import (
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"sentinelgrid.dev/telemetry/internal/simulator"
)

var _ = Describe("Server", func() {
	var (
		logger *slog.Logger
		cfg    *simulator.ServerConfig
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		cfg = &simulator.ServerConfig{
			Logger:      logger,
			BrokerURL:   "amqp://localhost:5672",
			Exchange:    "telemetry",
			DeviceCount: 3,
			Interval:    time.Second,
		}
	})

	Describe("NewServer", func() {
		Context("with valid configuration", func() {
			It("should create a server", func() {
				server, err := simulator.NewServer(cfg)
				Expect(err).NotTo(HaveOccurred())
				Expect(server).NotTo(BeNil())
			})
		})

		Context("with invalid configuration", func() {
			It("should return error when config is nil", func() {
				server, err := simulator.NewServer(nil)
				Expect(err).To(HaveOccurred())
				Expect(server).To(BeNil())
			})

			It("should return error when logger is nil", func() {
				cfg.Logger = nil
				_, err := simulator.NewServer(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("logger"))
			})

			It("should return error when broker URL is empty", func() {
				cfg.BrokerURL = ""
				_, err := simulator.NewServer(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("broker URL"))
			})

			It("should return error when broker URL is malformed", func() {
				cfg.BrokerURL = "not a url"
				_, err := simulator.NewServer(cfg)
				Expect(err).To(HaveOccurred())
			})

			It("should return error when exchange is empty", func() {
				cfg.Exchange = ""
				_, err := simulator.NewServer(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("exchange"))
			})

			It("should return error when device count is zero", func() {
				cfg.DeviceCount = 0
				_, err := simulator.NewServer(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("device count"))
			})

			It("should return error when interval is zero", func() {
				cfg.Interval = 0
				_, err := simulator.NewServer(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("interval"))
			})
		})
	})
})
