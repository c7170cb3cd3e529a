// Package mock provides mock implementations of the mq package interfaces for testing.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"sentinelgrid.dev/telemetry/pkg/mq"
)

// Client is a mock implementation of ClientInterface for testing.
// It tracks method calls and allows configuring return values and behavior.
type Client struct {
	mu sync.Mutex

	// PublishFunc is called when Publish is invoked. If nil, returns PublishError.
	PublishFunc func(ctx context.Context, routingKey string, data []byte) error
	// PublishError is returned by Publish if PublishFunc is nil.
	PublishError error
	// PublishCalls tracks all calls to Publish with their arguments.
	PublishCalls []PublishCall

	// UnsafePublishFunc is called when UnsafePublish is invoked. If nil, returns UnsafePublishError.
	UnsafePublishFunc func(ctx context.Context, routingKey string, data []byte) error
	// UnsafePublishError is returned by UnsafePublish if UnsafePublishFunc is nil.
	UnsafePublishError error
	// UnsafePublishCalls tracks all calls to UnsafePublish with their arguments.
	UnsafePublishCalls []PublishCall

	// ConsumeFunc is called when Consume is invoked. If nil, returns ConsumeChannel and ConsumeError.
	ConsumeFunc func() (<-chan amqp.Delivery, error)
	// ConsumeChannel is returned by Consume if ConsumeFunc is nil.
	ConsumeChannel <-chan amqp.Delivery
	// ConsumeError is returned by Consume if ConsumeFunc is nil.
	ConsumeError error
	// ConsumeCalls tracks the number of times Consume was called.
	ConsumeCalls int

	// CloseFunc is called when Close is invoked. If nil, returns CloseError.
	CloseFunc func() error
	// CloseError is returned by Close if CloseFunc is nil.
	CloseError error
	// CloseCalls tracks the number of times Close was called.
	CloseCalls int
}

// PublishCall records the arguments to a Publish or UnsafePublish call.
type PublishCall struct {
	Ctx        context.Context
	RoutingKey string
	Data       []byte
}

// Publish records the call and delegates to PublishFunc if set.
func (m *Client) Publish(ctx context.Context, routingKey string, data []byte) error {
	m.mu.Lock()
	m.PublishCalls = append(m.PublishCalls, PublishCall{Ctx: ctx, RoutingKey: routingKey, Data: data})
	fn := m.PublishFunc
	errOut := m.PublishError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, routingKey, data)
	}
	return errOut
}

// UnsafePublish records the call and delegates to UnsafePublishFunc if set.
func (m *Client) UnsafePublish(ctx context.Context, routingKey string, data []byte) error {
	m.mu.Lock()
	m.UnsafePublishCalls = append(m.UnsafePublishCalls, PublishCall{Ctx: ctx, RoutingKey: routingKey, Data: data})
	fn := m.UnsafePublishFunc
	errOut := m.UnsafePublishError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, routingKey, data)
	}
	return errOut
}

// Consume records the call and delegates to ConsumeFunc if set.
func (m *Client) Consume() (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	m.ConsumeCalls++
	fn := m.ConsumeFunc
	ch := m.ConsumeChannel
	errOut := m.ConsumeError
	m.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return ch, errOut
}

// Close records the call and delegates to CloseFunc if set.
func (m *Client) Close() error {
	m.mu.Lock()
	m.CloseCalls++
	fn := m.CloseFunc
	errOut := m.CloseError
	m.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return errOut
}

// Ensure Client implements ClientInterface.
var _ mq.ClientInterface = (*Client)(nil)
