package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"sentinelgrid.dev/telemetry/internal/store"
	"sentinelgrid.dev/telemetry/pkg/metrics"
	"sentinelgrid.dev/telemetry/pkg/mq"
)

const (
	// Bounded retry policy for store writes. A failed write is retried with
	// exponential backoff; exhausting the attempts drops the message.
	storeMaxAttempts    = 3
	storeInitialBackoff = 100 * time.Millisecond
	storeBackoffFactor  = 2

	// Per-worker queue depth. Messages for one device always land on the
	// same worker, preserving delivery order per device.
	shardBuffer = 64

	defaultWorkers      = 4
	defaultStoreTimeout = 5 * time.Second
	defaultCacheTTL     = 30 * time.Second
)

// ReadingWriter persists one accepted reading plus the derived snapshot and
// status. Backed by store.SensorStore in production.
type ReadingWriter interface {
	RecordReading(ctx context.Context, rec store.ReadingRecord) (bool, error)
}

// SensorRepository is the full store surface the pipeline needs.
type SensorRepository interface {
	SensorFinder
	ReadingWriter
}

// Pipeline consumes telemetry deliveries from the broker and processes each
// to completion: topic parse, payload parse, identity resolution, reading
// append, status derivation. Messages for the same device are processed in
// delivery order by a single worker; different devices process concurrently.
type Pipeline struct {
	logger       *slog.Logger
	mqClient     mq.ClientInterface
	sensors      SensorRepository
	resolver     *Resolver
	metrics      *metrics.IngestMetrics // Optional metrics
	queueName    string
	storeTimeout time.Duration
	workers      int
	shards       []chan message
	wg           sync.WaitGroup
	done         chan struct{}
}

type message struct {
	deviceID string
	delivery amqp.Delivery
}

// PipelineConfig holds the configuration for the Pipeline.
type PipelineConfig struct {
	Logger       *slog.Logger
	MQClient     mq.ClientInterface
	Sensors      SensorRepository
	Metrics      *metrics.IngestMetrics
	QueueName    string
	Workers      int
	StoreTimeout time.Duration
	CacheTTL     time.Duration
}

// NewPipeline creates a new Pipeline instance.
func NewPipeline(cfg *PipelineConfig) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.MQClient == nil {
		return nil, errors.New("mq client cannot be nil")
	}
	if cfg.Sensors == nil {
		return nil, errors.New("sensor repository cannot be nil")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	storeTimeout := cfg.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = defaultCacheTTL
	}

	resolver, err := NewResolver(cfg.Sensors, cacheTTL, cfg.Logger, cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	return &Pipeline{
		logger:       cfg.Logger,
		mqClient:     cfg.MQClient,
		sensors:      cfg.Sensors,
		resolver:     resolver,
		metrics:      cfg.Metrics,
		queueName:    cfg.QueueName,
		storeTimeout: storeTimeout,
		workers:      workers,
		shards:       make([]chan message, workers),
		done:         make(chan struct{}),
	}, nil
}

// Start begins consuming telemetry from the broker.
func (p *Pipeline) Start(ctx context.Context) error {
	p.logger.Info("starting ingest pipeline", "workers", p.workers)

	deliveries, err := p.mqClient.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for i := range p.shards {
		p.shards[i] = make(chan message, shardBuffer)
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, p.shards[i])
	}

	go p.pump(ctx, deliveries)
	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	p.logger.Info("ingest pipeline started, waiting for messages")
	return nil
}

// pump routes incoming deliveries to workers by device identifier, so each
// device's messages stay ordered on one worker.
func (p *Pipeline) pump(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer func() {
		for _, shard := range p.shards {
			close(shard)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("context canceled, stopping message routing")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				p.logger.Warn("deliveries channel closed")
				return
			}

			deviceID, err := ParseTopic(delivery.RoutingKey)
			if err != nil {
				// Foreign topics on a shared exchange are expected.
				p.logger.Debug("discarding message with foreign topic",
					"routing_key", delivery.RoutingKey,
				)
				p.drop(delivery, metrics.DropReasonBadTopic)
				continue
			}

			p.shards[shardFor(deviceID, p.workers)] <- message{
				deviceID: deviceID,
				delivery: delivery,
			}
		}
	}
}

func shardFor(deviceID string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(workers))
}

func (p *Pipeline) worker(ctx context.Context, shard <-chan message) {
	defer p.wg.Done()

	if p.metrics != nil {
		p.metrics.ActiveWorkers.Inc()
		defer p.metrics.ActiveWorkers.Dec()
	}

	for msg := range shard {
		p.handleMessage(ctx, msg)
	}
}

// handleMessage processes a single telemetry message to completion.
// Every per-message failure is isolated to that message; nothing here may
// take down the pipeline.
func (p *Pipeline) handleMessage(ctx context.Context, msg message) {
	var timer *prometheus.Timer
	if p.metrics != nil {
		timer = prometheus.NewTimer(p.metrics.ProcessingDuration.WithLabelValues(p.queueName))
		defer timer.ObserveDuration()
	}

	payload, err := ParsePayload(msg.delivery.Body)
	if err != nil {
		// Retrying a malformed message cannot succeed.
		p.logger.Warn("discarding malformed payload",
			"device_id", msg.deviceID,
			"error", err,
		)
		p.drop(msg.delivery, metrics.DropReasonBadPayload)
		return
	}

	p.processWithRetry(ctx, msg, payload)
}

// processWithRetry runs the resolve-evaluate-write sequence, retrying store
// faults with bounded exponential backoff. Exhausted retries drop the
// message with an error log; requeueing a write that keeps failing would
// only block the device's shard.
func (p *Pipeline) processWithRetry(ctx context.Context, msg message, payload *Payload) {
	backoff := storeInitialBackoff

	for attempt := 1; ; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, p.storeTimeout)
		dropReason, err := p.process(opCtx, msg.deviceID, payload)
		cancel()

		if err == nil {
			if dropReason != "" {
				p.drop(msg.delivery, dropReason)
				return
			}
			p.ack(msg.delivery)
			if p.metrics != nil {
				p.metrics.MessagesTotal.WithLabelValues("accepted").Inc()
			}
			return
		}

		if ctx.Err() != nil {
			// Shutting down mid-message: requeue so the reading is not lost.
			p.logger.Info("requeueing message on shutdown",
				"device_id", msg.deviceID,
			)
			if nackErr := msg.delivery.Nack(false, true); nackErr != nil {
				p.logger.Error("failed to nack message", "error", nackErr)
			}
			return
		}

		if attempt >= storeMaxAttempts {
			p.logger.Error("dropping reading after exhausting store retries",
				"device_id", msg.deviceID,
				"attempts", attempt,
				"error", err,
			)
			if p.metrics != nil {
				p.metrics.StoreFailures.Inc()
			}
			p.drop(msg.delivery, metrics.DropReasonStoreFailure)
			return
		}

		p.logger.Warn("store write failed, retrying",
			"device_id", msg.deviceID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if p.metrics != nil {
			p.metrics.StoreRetries.Inc()
		}

		select {
		case <-ctx.Done():
			if nackErr := msg.delivery.Nack(false, true); nackErr != nil {
				p.logger.Error("failed to nack message", "error", nackErr)
			}
			return
		case <-time.After(backoff):
			backoff *= storeBackoffFactor
		}
	}
}

// process performs one resolve-evaluate-write attempt. It returns a non-empty
// drop reason for messages that can never succeed (unregistered device), and
// an error for store faults the caller may retry.
func (p *Pipeline) process(ctx context.Context, deviceID string, payload *Payload) (string, error) {
	sensor, err := p.resolver.Resolve(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if sensor == nil {
		// Expected and frequent: devices transmit before activation and
		// after release. Not a system fault.
		p.logger.Warn("device not registered to any account",
			"device_id", deviceID,
		)
		return metrics.DropReasonUnknownDevice, nil
	}

	secondary := payload.Channel(sensor.Type.SecondaryChannel())
	status := Evaluate(sensor.Thresholds, payload.Value, secondary)

	unit := payload.Unit
	if unit == "" {
		unit = sensor.Unit
	}

	rec := store.ReadingRecord{
		SensorID:       sensor.ID,
		DeviceID:       deviceID,
		Value:          payload.Value,
		SecondaryValue: secondary,
		Unit:           unit,
		BatteryLevel:   payload.Battery,
		Status:         status,
		Timestamp:      time.Now().UTC(),
	}

	applied, err := p.sensors.RecordReading(ctx, rec)
	if err != nil {
		return "", err
	}

	if p.metrics != nil {
		p.metrics.StatusTransitions.WithLabelValues(string(status)).Inc()
		if !applied {
			p.metrics.StaleSnapshots.Inc()
		}
	}

	p.logger.Debug("reading accepted",
		"device_id", deviceID,
		"sensor_id", sensor.ID,
		"value", payload.Value,
		"status", status,
		"snapshot_applied", applied,
	)

	return "", nil
}

// drop acknowledges a message that will not be processed and records why.
func (p *Pipeline) drop(delivery amqp.Delivery, reason string) {
	p.ack(delivery)
	if p.metrics != nil {
		p.metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		p.metrics.MessagesDropped.WithLabelValues(reason).Inc()
	}
}

func (p *Pipeline) ack(delivery amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		p.logger.Error("failed to ack message", "error", err)
	}
}

// Invalidate drops any cached identity resolution for a device identifier.
// Callers performing in-process ownership changes use this to make the
// change visible immediately instead of waiting out the cache TTL.
func (p *Pipeline) Invalidate(deviceID string) {
	p.resolver.Invalidate(deviceID)
}

// Stop stops the pipeline and closes the MQ client.
func (p *Pipeline) Stop() error {
	p.logger.Info("stopping ingest pipeline")

	if err := p.mqClient.Close(); err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	// Wait for in-flight message processing to complete
	<-p.done

	p.logger.Info("ingest pipeline stopped")
	return nil
}
