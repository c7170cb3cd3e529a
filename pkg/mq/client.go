// Package mq provides a RabbitMQ topic-exchange client with automatic
// reconnection. The ingest service uses it to hold one logical subscriber
// connection for the lifetime of the process; the simulator uses it to
// publish per-device telemetry.
package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"sentinelgrid.dev/telemetry/pkg/metrics"
)

// Config holds the broker topology for a Client. The exchange is a topic
// exchange; the queue is bound to it with BindingKey (a wildcard pattern,
// e.g. "sensors.*.data"). Queue and BindingKey may be empty for a
// publish-only client.
type Config struct {
	// URL is the AMQP broker URL including credentials.
	URL string
	// Exchange is the topic exchange name.
	Exchange string
	// Queue is the queue to declare and bind for consuming.
	Queue string
	// BindingKey is the wildcard routing-key pattern binding Queue to Exchange.
	BindingKey string
	// Prefetch is the consumer prefetch count. Values above 1 allow the
	// pipeline to process independent devices concurrently.
	Prefetch int
}

// Client is a RabbitMQ client that handles connection management,
// automatic reconnection, and topic-based publish/consume.
type Client struct {
	m               *sync.Mutex
	logger          *slog.Logger
	cfg             Config
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan bool
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	isReady         bool
	shutdown        bool
	metrics         *metrics.MQMetrics // Optional metrics
}

const (
	// When reconnecting to the server after connection failure.
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception.
	reInitDelay = 2 * time.Second

	// Initial backoff delay for Publish retries.
	initialBackoff = 100 * time.Millisecond

	// Maximum backoff delay for Publish retries.
	maxBackoff = 10 * time.Second

	// Backoff multiplier for exponential backoff.
	backoffMultiplier = 2

	// Maximum number of retry attempts before giving up.
	maxRetryAttempts = 5
)

var (
	errNotConnected       = errors.New("not connected to a server")
	errAlreadyClosed      = errors.New("already closed: not connected to the server")
	errShutdown           = errors.New("client is shutting down")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
)

// New validates the broker URL and creates a new client which automatically
// attempts to connect to the server in the background. A malformed URL is a
// hard error: the process must not silently run disconnected.
func New(cfg Config, l *slog.Logger) (*Client, error) {
	if _, err := amqp.ParseURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}
	if cfg.Exchange == "" {
		return nil, errors.New("exchange cannot be empty")
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}

	client := Client{
		m:      &sync.Mutex{},
		logger: l,
		cfg:    cfg,
		done:   make(chan bool),
	}
	go client.handleReconnect(cfg.URL)
	return &client, nil
}

// SetMetrics sets the metrics collector for this client.
// This should be called before the client starts processing messages.
func (client *Client) SetMetrics(m *metrics.MQMetrics) {
	client.metrics = m
}

// handleReconnect will wait for a connection error on
// notifyConnClose, and then continuously attempt to reconnect.
// Reconnection is unconditional and infinite; a lost connection is never
// fatal to the process.
func (client *Client) handleReconnect(addr string) {
	for {
		client.m.Lock()
		client.isReady = false
		client.m.Unlock()

		client.logger.Info("attempting to connect")

		if client.metrics != nil {
			client.metrics.ReconnectAttempts.Inc()
		}

		conn, err := client.connect(addr)
		if err != nil {
			client.logger.Error("failed to connect, retrying", "error", err)

			select {
			case <-client.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		if done := client.handleReInit(conn); done {
			break
		}
	}
}

// connect will create a new AMQP connection.
func (client *Client) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		if client.metrics != nil {
			client.metrics.ConnectionStatus.Set(0)
		}
		return nil, err
	}

	client.changeConnection(conn)
	client.logger.Info("connected")

	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(1)
	}

	return conn, nil
}

// handleReInit will wait for a channel error
// and then continuously attempt to re-initialize both channels.
func (client *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		client.m.Lock()
		client.isReady = false
		client.m.Unlock()

		err := client.init(conn)
		if err != nil {
			client.logger.Error("failed to initialize channel, retrying", "error", err)

			select {
			case <-client.done:
				return true
			case <-client.notifyConnClose:
				client.logger.Info("connection closed, reconnecting")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-client.done:
			return true
		case <-client.notifyConnClose:
			client.logger.Info("connection closed, reconnecting")
			return false
		case <-client.notifyChanClose:
			client.logger.Info("channel closed, re-running init")
		}
	}
}

// init will initialize the channel and declare the topology: the topic
// exchange, and, for consumers, the queue with its wildcard binding. Topology
// is re-declared on every reconnect so the subscription is always restored.
func (client *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	err = ch.Confirm(false)
	if err != nil {
		return err
	}

	err = ch.ExchangeDeclare(
		client.cfg.Exchange,
		"topic",
		true,  // Durable
		false, // Auto-delete
		false, // Internal
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		return err
	}

	if client.cfg.Queue != "" {
		_, err = ch.QueueDeclare(
			client.cfg.Queue,
			true,  // Durable
			false, // Delete when unused
			false, // Exclusive
			false, // No-wait
			nil,   // Arguments
		)
		if err != nil {
			return err
		}

		err = ch.QueueBind(
			client.cfg.Queue,
			client.cfg.BindingKey,
			client.cfg.Exchange,
			false, // No-wait
			nil,   // Arguments
		)
		if err != nil {
			return err
		}
	}

	client.changeChannel(ch)
	client.m.Lock()
	client.isReady = true
	client.m.Unlock()
	client.logger.Info("client init done",
		"exchange", client.cfg.Exchange,
		"queue", client.cfg.Queue,
		"binding_key", client.cfg.BindingKey,
	)

	return nil
}

// changeConnection takes a new connection to the queue,
// and updates the close listener to reflect this.
func (client *Client) changeConnection(connection *amqp.Connection) {
	client.connection = connection
	client.notifyConnClose = make(chan *amqp.Error, 1)
	client.connection.NotifyClose(client.notifyConnClose)
}

// changeChannel takes a new channel to the queue,
// and updates the channel listeners to reflect this.
func (client *Client) changeChannel(channel *amqp.Channel) {
	client.channel = channel
	client.notifyChanClose = make(chan *amqp.Error, 1)
	client.notifyConfirm = make(chan amqp.Confirmation, 1)
	client.channel.NotifyClose(client.notifyChanClose)
	client.channel.NotifyPublish(client.notifyConfirm)
}

// Publish pushes data onto the exchange under the given routing key and waits
// for a broker confirmation. Uses exponential backoff retry when the client
// is not connected, allowing time for automatic reconnection to succeed.
// After maxRetryAttempts failed attempts, returns a fatal error.
func (client *Client) Publish(ctx context.Context, routingKey string, data []byte) error {
	var timer *prometheus.Timer
	if client.metrics != nil {
		timer = prometheus.NewTimer(client.metrics.PublishDuration.WithLabelValues(client.cfg.Exchange))
		defer timer.ObserveDuration()
	}

	backoff := initialBackoff
	retryCount := 0

	for {
		if retryCount >= maxRetryAttempts {
			client.logger.Error("maximum retry attempts exceeded",
				"retry_count", retryCount,
				"max_attempts", maxRetryAttempts)

			if client.metrics != nil {
				client.metrics.PublishFailures.WithLabelValues(client.cfg.Exchange, "max_retries_exceeded").Inc()
			}

			return errMaxRetriesExceeded
		}

		client.m.Lock()
		isReady := client.isReady
		client.m.Unlock()

		if !isReady {
			client.logger.Info("not connected, waiting for reconnection",
				"backoff", backoff,
				"retry_count", retryCount)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-client.done:
				return errShutdown
			case <-time.After(backoff):
				backoff = nextBackoff(backoff)
				retryCount++
				continue
			}
		}

		err := client.UnsafePublish(ctx, routingKey, data)
		if err != nil {
			client.logger.Error("publish failed, retrying with backoff",
				"error", err,
				"backoff", backoff,
				"retry_count", retryCount)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-client.done:
				return errShutdown
			case <-time.After(backoff):
				backoff = nextBackoff(backoff)
				retryCount++
				continue
			}
		}

		select {
		case <-ctx.Done():
			if client.metrics != nil {
				client.metrics.PublishFailures.WithLabelValues(client.cfg.Exchange, "context_canceled").Inc()
			}
			return ctx.Err()
		case confirm := <-client.notifyConfirm:
			if confirm.Ack {
				if client.metrics != nil {
					client.metrics.MessagesPublished.WithLabelValues(client.cfg.Exchange).Inc()
				}

				client.logger.Debug("publish confirmed",
					"delivery_tag", confirm.DeliveryTag,
					"routing_key", routingKey,
					"retry_count", retryCount)
				return nil
			}
			client.logger.Warn("publish not acknowledged, retrying",
				"delivery_tag", confirm.DeliveryTag,
				"backoff", backoff)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-client.done:
				return errShutdown
			case <-time.After(backoff):
				backoff = nextBackoff(backoff)
				retryCount++
				continue
			}
		}
	}
}

// RedactURL strips the password from a broker URL so it is safe to log.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * backoffMultiplier
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

// UnsafePublish publishes without waiting for a confirmation. It returns an
// error if it fails to connect. No guarantees are provided for whether the
// server will receive the message.
func (client *Client) UnsafePublish(ctx context.Context, routingKey string, data []byte) error {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return errNotConnected
	}
	client.m.Unlock()

	return client.channel.PublishWithContext(
		ctx,
		client.cfg.Exchange,
		routingKey,
		false, // Mandatory
		false, // Immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        data,
		},
	)
}

// Consume will continuously put queue items on the channel.
// It is required to call delivery.Ack when it has been
// successfully processed, or delivery.Nack when it fails.
// Ignoring this will cause data to build up on the server.
func (client *Client) Consume() (<-chan amqp.Delivery, error) {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return nil, errNotConnected
	}
	client.m.Unlock()

	if err := client.channel.Qos(
		client.cfg.Prefetch,
		0,     // prefetchSize
		false, // global
	); err != nil {
		return nil, err
	}

	return client.channel.Consume(
		client.cfg.Queue,
		"",    // Consumer
		false, // Auto-Ack
		false, // Exclusive
		false, // No-local
		false, // No-Wait
		nil,   // Args
	)
}

// Close will cleanly shut down the channel and connection. The reconnect
// goroutine is stopped even when the client never managed to connect.
func (client *Client) Close() error {
	client.m.Lock()
	// we read and write isReady in two locations, so we grab the lock and hold onto
	// it until we are finished
	defer client.m.Unlock()

	if !client.shutdown {
		client.shutdown = true
		close(client.done)
	}

	if !client.isReady {
		return errAlreadyClosed
	}
	err := client.channel.Close()
	if err != nil {
		return err
	}
	err = client.connection.Close()
	if err != nil {
		return err
	}

	client.isReady = false

	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(0)
	}

	return nil
}
