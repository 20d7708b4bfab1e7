package models

import "time"

// Category groups alerts by the telemetry dimension that produced them.
type Category string

const (
	CategoryTemperature Category = "TEMPERATURE"
	CategoryBattery     Category = "BATTERY"
	CategorySignal      Category = "SIGNAL"
	CategoryStatus      Category = "STATUS"
	// CategoryCustom is reserved for operator-defined alerts.
	CategoryCustom Category = "CUSTOM"
)

// Severity represents alert severity levels
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// IsValid checks if the severity level is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

// Alert is raised when a reading violates a configured threshold.
type Alert struct {
	ID        int64    `json:"id"`
	ReadingID int64    `json:"reading_id"`
	SensorID  *int64   `json:"sensor_id,omitempty"`
	DeviceID  string   `json:"device_id"`
	Category  Category `json:"category"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`

	Resolved   bool       `json:"resolved"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Resolve closes the alert. ResolvedAt is only set on the first call;
// it returns false when the alert was already resolved.
func (a *Alert) Resolve(at time.Time) bool {
	if a.Resolved {
		return false
	}
	a.Resolved = true
	a.ResolvedAt = &at
	return true
}
