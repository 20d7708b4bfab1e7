package models

import "time"

// Sensor is a registered telemetry source. Only the alert engine's chronic
// battery escalation and operators change Active.
type Sensor struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}
