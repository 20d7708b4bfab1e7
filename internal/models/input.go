package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoReadings is returned when a payload decodes to zero readings.
var ErrNoReadings = errors.New("no readings provided")

// ReadingInput is the wire format of a reading, shared by the HTTP, Kafka
// and MQTT ingress paths. Timestamp is a string for flexible parsing.
type ReadingInput struct {
	DeviceID       string   `json:"device_id"`
	SensorID       *int64   `json:"sensor_id,omitempty"`
	Timestamp      string   `json:"timestamp,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	BatteryLevel   *float64 `json:"battery_level,omitempty"`
	SignalStrength *float64 `json:"signal_strength,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	Altitude       *float64 `json:"altitude,omitempty"`
	Status         string   `json:"status,omitempty"`
	Message        string   `json:"message,omitempty"`
}

// ToReading converts the input. An empty timestamp is left zero so the
// pipeline can stamp the reading on arrival.
func (in ReadingInput) ToReading() (*Reading, error) {
	r := &Reading{
		DeviceID:       in.DeviceID,
		SensorID:       in.SensorID,
		Temperature:    in.Temperature,
		BatteryLevel:   in.BatteryLevel,
		SignalStrength: in.SignalStrength,
		Latitude:       in.Latitude,
		Longitude:      in.Longitude,
		Altitude:       in.Altitude,
		Status:         DeviceStatus(in.Status),
		Message:        in.Message,
	}
	if strings.TrimSpace(in.Timestamp) != "" {
		ts, err := ParseTimestamp(in.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("timestamp: %w", err)
		}
		r.Timestamp = ts
	}
	return r, nil
}

type readingBatch struct {
	Readings []ReadingInput `json:"readings"`
}

// DecodeReadings accepts a single reading object, {"readings": [...]} or a
// bare JSON array.
func DecodeReadings(body []byte) ([]ReadingInput, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, ErrNoReadings
	}

	if trimmed[0] == '[' {
		var inputs []ReadingInput
		if err := json.Unmarshal(body, &inputs); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		if len(inputs) == 0 {
			return nil, ErrNoReadings
		}
		return inputs, nil
	}

	var batch readingBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("invalid JSON format: expected reading object or array of readings: %w", err)
	}
	if len(batch.Readings) > 0 {
		return batch.Readings, nil
	}

	var single ReadingInput
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}
	if single.DeviceID == "" && single.SensorID == nil {
		return nil, ErrNoReadings
	}
	return []ReadingInput{single}, nil
}
