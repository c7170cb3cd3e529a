package ingest_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"

	"sentinelgrid.dev/telemetry/internal/ingest"
	"sentinelgrid.dev/telemetry/internal/store"
	"sentinelgrid.dev/telemetry/pkg/mq/mock"
)

// fakeRepo is an in-memory SensorRepository.
type fakeRepo struct {
	*fakeFinder

	mu          sync.Mutex
	records     []store.ReadingRecord
	recordErrs  int
	applyWrites bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		fakeFinder:  newFakeFinder(),
		applyWrites: true,
	}
}

func (fr *fakeRepo) RecordReading(_ context.Context, rec store.ReadingRecord) (bool, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if fr.recordErrs > 0 {
		fr.recordErrs--
		return false, errors.New("write failed")
	}
	fr.records = append(fr.records, rec)
	return fr.applyWrites, nil
}

func (fr *fakeRepo) recorded() []store.ReadingRecord {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	out := make([]store.ReadingRecord, len(fr.records))
	copy(out, fr.records)
	return out
}

// fakeAcker counts message settlements.
type fakeAcker struct {
	mu    sync.Mutex
	acks  int
	nacks int
}

func (fa *fakeAcker) Ack(_ uint64, _ bool) error { fa.mu.Lock(); defer fa.mu.Unlock(); fa.acks++; return nil }
func (fa *fakeAcker) Nack(_ uint64, _ bool, _ bool) error {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.nacks++
	return nil
}
func (fa *fakeAcker) Reject(_ uint64, _ bool) error { return nil }

func (fa *fakeAcker) ackCount() int  { fa.mu.Lock(); defer fa.mu.Unlock(); return fa.acks }
func (fa *fakeAcker) nackCount() int { fa.mu.Lock(); defer fa.mu.Unlock(); return fa.nacks }

func delivery(acker *fakeAcker, routingKey, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: acker,
		RoutingKey:   routingKey,
		Body:         []byte(body),
	}
}

var _ = Describe("Pipeline", func() {
	var (
		logger     *slog.Logger
		repo       *fakeRepo
		mqClient   *mock.Client
		deliveries chan amqp.Delivery
		acker      *fakeAcker
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(GinkgoWriter, nil))
		repo = newFakeRepo()
		deliveries = make(chan amqp.Delivery, 16)
		mqClient = &mock.Client{ConsumeChannel: deliveries}
		acker = &fakeAcker{}
	})

	newPipeline := func(storeTimeout time.Duration) *ingest.Pipeline {
		p, err := ingest.NewPipeline(&ingest.PipelineConfig{
			Logger:       logger,
			MQClient:     mqClient,
			Sensors:      repo,
			QueueName:    "telemetry.readings",
			Workers:      2,
			StoreTimeout: storeTimeout,
		})
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	startPipeline := func(p *ingest.Pipeline) context.CancelFunc {
		ctx, cancel := context.WithCancel(context.Background())
		Expect(p.Start(ctx)).To(Succeed())
		return cancel
	}

	stopPipeline := func(p *ingest.Pipeline, cancel context.CancelFunc) {
		close(deliveries)
		Expect(p.Stop()).To(Succeed())
		cancel()
	}

	Describe("NewPipeline", func() {
		It("should reject a nil config", func() {
			_, err := ingest.NewPipeline(nil)
			Expect(err).To(HaveOccurred())
		})

		It("should reject a missing mq client", func() {
			_, err := ingest.NewPipeline(&ingest.PipelineConfig{Logger: logger, Sensors: repo})
			Expect(err).To(HaveOccurred())
		})

		It("should reject a missing sensor repository", func() {
			_, err := ingest.NewPipeline(&ingest.PipelineConfig{Logger: logger, MQClient: mqClient})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("message processing", func() {
		It("should record a reading with the derived status", func() {
			repo.add(store.Sensor{
				ID:       1,
				DeviceID: "SG-2024-000123",
				Type:     store.SensorTypeTemperature,
				Unit:     "°C",
				Thresholds: store.Thresholds{
					PrimaryWarn: store.Band{High: f(30)},
					PrimaryCrit: store.Band{High: f(40)},
				},
			})

			p := newPipeline(0)
			cancel := startPipeline(p)
			defer cancel()

			deliveries <- delivery(acker, "sensors.SG-2024-000123.data", `{"value": 35, "battery": 88}`)

			Eventually(repo.recorded, "2s", "10ms").Should(HaveLen(1))
			rec := repo.recorded()[0]
			Expect(rec.SensorID).To(Equal(uint(1)))
			Expect(rec.DeviceID).To(Equal("SG-2024-000123"))
			Expect(rec.Value).To(Equal(35.0))
			Expect(rec.Status).To(Equal(store.StatusWarning))
			Expect(rec.Unit).To(Equal("°C"))
			Expect(rec.BatteryLevel).NotTo(BeNil())
			Expect(*rec.BatteryLevel).To(Equal(88.0))

			Eventually(acker.ackCount, "1s", "10ms").Should(Equal(1))
			stopPipeline(p, cancel)
		})

		It("should append a second row when the same message is delivered twice", func() {
			repo.add(store.Sensor{
				ID:       1,
				DeviceID: "dev-1",
				Type:     store.SensorTypeTemperature,
				Thresholds: store.Thresholds{
					PrimaryWarn: store.Band{High: f(30)},
				},
			})

			p := newPipeline(0)
			cancel := startPipeline(p)
			defer cancel()

			// At-least-once delivery carries no dedup key, so a broker
			// redelivery is indistinguishable from a fresh reading. Both
			// copies are stored and acked; the snapshot write is idempotent
			// because both carry the same values. A future dedup key makes
			// this test fail deliberately.
			deliveries <- delivery(acker, "sensors.dev-1.data", `{"value": 35, "battery": 88}`)
			deliveries <- delivery(acker, "sensors.dev-1.data", `{"value": 35, "battery": 88}`)

			Eventually(repo.recorded, "2s", "10ms").Should(HaveLen(2))
			recs := repo.recorded()
			Expect(recs[1].SensorID).To(Equal(recs[0].SensorID))
			Expect(recs[1].Value).To(Equal(recs[0].Value))
			Expect(recs[1].BatteryLevel).To(Equal(recs[0].BatteryLevel))
			Expect(recs[1].Status).To(Equal(recs[0].Status))

			Eventually(acker.ackCount, "1s", "10ms").Should(Equal(2))
			Expect(acker.nackCount()).To(BeZero())
			stopPipeline(p, cancel)
		})

		It("should select the secondary channel by sensor type", func() {
			repo.add(store.Sensor{
				ID:       2,
				DeviceID: "SG-2024-000200",
				Type:     store.SensorTypeThermoHygro,
				Thresholds: store.Thresholds{
					SecondaryWarn: store.Band{High: f(60)},
				},
			})

			p := newPipeline(0)
			cancel := startPipeline(p)
			defer cancel()

			deliveries <- delivery(acker, "sensors.SG-2024-000200.data",
				`{"value": 21.5, "humidity": 65.0, "co2": 999}`)

			Eventually(repo.recorded, "2s", "10ms").Should(HaveLen(1))
			rec := repo.recorded()[0]
			Expect(rec.SecondaryValue).NotTo(BeNil())
			Expect(*rec.SecondaryValue).To(Equal(65.0))
			Expect(rec.Status).To(Equal(store.StatusWarning))
			stopPipeline(p, cancel)
		})

		It("should ack and skip messages with foreign topics", func() {
			p := newPipeline(0)
			cancel := startPipeline(p)
			defer cancel()

			deliveries <- delivery(acker, "actuators.dev-1.commands", `{"value": 1}`)

			Eventually(acker.ackCount, "1s", "10ms").Should(Equal(1))
			Consistently(repo.recorded, "100ms").Should(BeEmpty())
			Expect(repo.callCount()).To(BeZero())
			stopPipeline(p, cancel)
		})

		It("should ack and drop malformed payloads without retrying", func() {
			p := newPipeline(0)
			cancel := startPipeline(p)
			defer cancel()

			deliveries <- delivery(acker, "sensors.dev-1.data", `not json`)
			deliveries <- delivery(acker, "sensors.dev-1.data", `{"battery": 90}`)

			Eventually(acker.ackCount, "1s", "10ms").Should(Equal(2))
			Consistently(repo.recorded, "100ms").Should(BeEmpty())
			stopPipeline(p, cancel)
		})

		It("should ack and drop readings from unregistered devices", func() {
			p := newPipeline(0)
			cancel := startPipeline(p)
			defer cancel()

			deliveries <- delivery(acker, "sensors.never-registered.data", `{"value": 10}`)

			Eventually(acker.ackCount, "1s", "10ms").Should(Equal(1))
			Consistently(repo.recorded, "100ms").Should(BeEmpty())
			stopPipeline(p, cancel)
		})

		It("should ack a reading whose snapshot update was superseded", func() {
			repo.add(store.Sensor{ID: 1, DeviceID: "dev-1", Type: store.SensorTypeTemperature})
			repo.applyWrites = false

			p := newPipeline(0)
			cancel := startPipeline(p)
			defer cancel()

			deliveries <- delivery(acker, "sensors.dev-1.data", `{"value": 10}`)

			Eventually(repo.recorded, "2s", "10ms").Should(HaveLen(1))
			Eventually(acker.ackCount, "1s", "10ms").Should(Equal(1))
			Expect(acker.nackCount()).To(BeZero())
			stopPipeline(p, cancel)
		})
	})

	Describe("store retry policy", func() {
		It("should retry transient store failures and then succeed", func() {
			repo.add(store.Sensor{ID: 1, DeviceID: "dev-1", Type: store.SensorTypeTemperature})
			repo.recordErrs = 2

			p := newPipeline(0)
			cancel := startPipeline(p)
			defer cancel()

			deliveries <- delivery(acker, "sensors.dev-1.data", `{"value": 10}`)

			Eventually(repo.recorded, "3s", "10ms").Should(HaveLen(1))
			Eventually(acker.ackCount, "1s", "10ms").Should(Equal(1))
			stopPipeline(p, cancel)
		})

		It("should drop the message after exhausting retries", func() {
			repo.add(store.Sensor{ID: 1, DeviceID: "dev-1", Type: store.SensorTypeTemperature})
			repo.recordErrs = 100

			p := newPipeline(0)
			cancel := startPipeline(p)
			defer cancel()

			deliveries <- delivery(acker, "sensors.dev-1.data", `{"value": 10}`)

			// Acked, not requeued: a persistently failing write must not
			// block the device's shard.
			Eventually(acker.ackCount, "3s", "10ms").Should(Equal(1))
			Expect(acker.nackCount()).To(BeZero())
			Expect(repo.recorded()).To(BeEmpty())
			stopPipeline(p, cancel)
		})
	})

	Describe("per-device ordering", func() {
		It("should record one device's readings in delivery order", func() {
			repo.add(store.Sensor{ID: 1, DeviceID: "dev-1", Type: store.SensorTypeTemperature})

			p := newPipeline(0)
			cancel := startPipeline(p)
			defer cancel()

			for i := 1; i <= 5; i++ {
				deliveries <- delivery(acker, "sensors.dev-1.data",
					`{"value": `+string(rune('0'+i))+`}`)
			}

			Eventually(repo.recorded, "3s", "10ms").Should(HaveLen(5))
			recs := repo.recorded()
			for i, rec := range recs {
				Expect(rec.Value).To(Equal(float64(i + 1)))
			}
			stopPipeline(p, cancel)
		})
	})

	Describe("Stop", func() {
		It("should close the mq client and drain workers", func() {
			p := newPipeline(0)
			cancel := startPipeline(p)
			defer cancel()

			close(deliveries)
			Expect(p.Stop()).To(Succeed())
			Expect(mqClient.CloseCalls).To(Equal(1))
		})
	})
})
