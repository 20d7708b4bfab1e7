package models

import (
	"errors"
	"time"
)

// DeviceStatus is the operating state a device reports alongside its telemetry.
type DeviceStatus string

const (
	StatusOnline      DeviceStatus = "ONLINE"
	StatusOffline     DeviceStatus = "OFFLINE"
	StatusStandby     DeviceStatus = "STANDBY"
	StatusMaintenance DeviceStatus = "MAINTENANCE"
	StatusError       DeviceStatus = "ERROR"
	StatusLowPower    DeviceStatus = "LOW_POWER"
	StatusUnknown     DeviceStatus = "UNKNOWN"
)

// IsValid reports whether s is a known status. The empty status means "not reported".
func (s DeviceStatus) IsValid() bool {
	switch s {
	case "", StatusOnline, StatusOffline, StatusStandby, StatusMaintenance,
		StatusError, StatusLowPower, StatusUnknown:
		return true
	default:
		return false
	}
}

// Reading is a single telemetry packet received from a device.
type Reading struct {
	ID int64 `json:"id"`

	// Raw device identifier as reported by the sender
	DeviceID string `json:"device_id"`

	// Registered sensor, when the sender could be matched to one
	SensorID *int64 `json:"sensor_id,omitempty"`

	// Timestamp when the reading was taken
	Timestamp time.Time `json:"timestamp"`

	Temperature    *float64 `json:"temperature,omitempty"`
	BatteryLevel   *float64 `json:"battery_level,omitempty"`
	SignalStrength *float64 `json:"signal_strength,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`

	Status  DeviceStatus `json:"status,omitempty"`
	Message string       `json:"message,omitempty"`

	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	// Alerts raised while evaluating this reading
	Alerts []*Alert `json:"alerts,omitempty"`
}

// Validation errors
var (
	ErrEmptyDeviceID     = errors.New("device ID cannot be empty")
	ErrFutureTimestamp   = errors.New("timestamp cannot be in the future")
	ErrInvalidTimestamp  = errors.New("invalid timestamp format")
	ErrInvalidStatus     = errors.New("invalid device status")
	ErrBatteryOutOfRange = errors.New("battery level must be between 0 and 100")
	ErrMessageTooLong    = errors.New("message exceeds maximum length")
)

const (
	MaxMessageLength = 1000
	MaxDeviceIDLen   = 255
)

// Validate checks if the Reading has all required fields and valid values
func (r *Reading) Validate() error {
	if r.DeviceID == "" || len(r.DeviceID) > MaxDeviceIDLen {
		return ErrEmptyDeviceID
	}

	if !r.Timestamp.IsZero() && r.Timestamp.After(time.Now().Add(time.Minute)) {
		return ErrFutureTimestamp
	}

	if !r.Status.IsValid() {
		return ErrInvalidStatus
	}

	if r.BatteryLevel != nil && (*r.BatteryLevel < 0 || *r.BatteryLevel > 100) {
		return ErrBatteryOutOfRange
	}

	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}

	return nil
}

// Origin returns the identity alerts for this reading are tracked under.
func (r *Reading) Origin() Origin {
	if r.SensorID != nil {
		return SensorOrigin(*r.SensorID, r.DeviceID)
	}
	return DeviceOrigin(r.DeviceID)
}

// AddAlert attaches an alert to the reading and points it back at the reading.
func (r *Reading) AddAlert(a *Alert) {
	a.ReadingID = r.ID
	a.DeviceID = r.DeviceID
	a.SensorID = r.SensorID
	r.Alerts = append(r.Alerts, a)
}

// MarkProcessed flags the reading as evaluated.
func (r *Reading) MarkProcessed(at time.Time) {
	r.Processed = true
	r.ProcessedAt = &at
}
