// Package ingest implements the telemetry ingestion and status-derivation
// pipeline: it consumes device measurements from the broker, resolves them
// to the owning sensor record, appends a time-series reading, and recomputes
// the sensor's derived status against its configured thresholds.
package ingest

import (
	"errors"
	"strings"
)

// Telemetry routing keys have the shape "sensors.<device-id>.data".
const (
	topicSegments = 3
	topicPrefix   = "sensors"
	topicSuffix   = "data"
)

// ErrBadTopic is returned for routing keys that do not match the telemetry
// topic shape. Foreign topics on a shared exchange are expected; callers
// drop the message without escalating.
var ErrBadTopic = errors.New("routing key does not match sensors.<device-id>.data")

// ParseTopic extracts the device identifier from a telemetry routing key.
// The key must have exactly three dot-delimited segments with the literal
// segments "sensors" and "data" in positions 0 and 2.
func ParseTopic(routingKey string) (string, error) {
	parts := strings.Split(routingKey, ".")
	if len(parts) != topicSegments {
		return "", ErrBadTopic
	}
	if parts[0] != topicPrefix || parts[2] != topicSuffix {
		return "", ErrBadTopic
	}
	if parts[1] == "" {
		return "", ErrBadTopic
	}
	return parts[1], nil
}
