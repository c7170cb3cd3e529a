package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMissingValue is returned when the payload has no numeric "value"
	// field. Such a message cannot be processed and is never retried.
	ErrMissingValue = errors.New("payload is missing required numeric field \"value\"")
)

// Payload is one decoded device measurement. Value is the primary channel.
// Channels holds every other numeric field in the message; which of them is
// the secondary channel depends on the resolved sensor's type, so selection
// happens after identity resolution.
type Payload struct {
	Channels map[string]float64
	Unit     string
	Value    float64
	Battery  *float64
}

// ParsePayload decodes a JSON telemetry payload. The payload must be a JSON
// object with a numeric "value" field; "battery" (number) and "unit"
// (string) are optional. Non-numeric extra fields are ignored.
func ParsePayload(data []byte) (*Payload, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	value, ok := raw["value"].(float64)
	if !ok {
		return nil, ErrMissingValue
	}

	p := &Payload{
		Value:    value,
		Channels: make(map[string]float64),
	}

	if battery, ok := raw["battery"].(float64); ok {
		p.Battery = &battery
	}
	if unit, ok := raw["unit"].(string); ok {
		p.Unit = unit
	}

	for key, v := range raw {
		switch key {
		case "value", "battery", "unit":
			continue
		}
		if n, ok := v.(float64); ok {
			p.Channels[key] = n
		}
	}

	return p, nil
}

// Channel returns the named channel value, or nil if the payload does not
// carry it.
func (p *Payload) Channel(name string) *float64 {
	if name == "" {
		return nil
	}
	if v, ok := p.Channels[name]; ok {
		return &v
	}
	return nil
}
