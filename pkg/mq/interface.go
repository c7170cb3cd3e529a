package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ClientInterface defines the interface for message broker operations.
// This interface enables easier testing through mocking and dependency injection.
type ClientInterface interface {
	// Publish pushes data onto the exchange under the given routing key and
	// waits for a broker confirmation. The context is used for cancellation
	// and timeout.
	Publish(ctx context.Context, routingKey string, data []byte) error

	// UnsafePublish publishes without waiting for a confirmation.
	// No guarantees are provided for whether the server will receive the message.
	UnsafePublish(ctx context.Context, routingKey string, data []byte) error

	// Consume will continuously put queue items on the channel.
	// It is required to call delivery.Ack when it has been successfully processed,
	// or delivery.Nack when it fails.
	Consume() (<-chan amqp.Delivery, error)

	// Close will cleanly shut down the channel and connection.
	Close() error
}

// Ensure Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)
