package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertEventType distinguishes raised from resolved alert notifications.
type AlertEventType string

const (
	AlertEventRaised   AlertEventType = "raised"
	AlertEventResolved AlertEventType = "resolved"
)

// AlertEvent wraps an Alert with delivery metadata for downstream consumers
type AlertEvent struct {
	// Unique event identifier, used by consumers for deduplication
	EventID string         `json:"event_id"`
	Type    AlertEventType `json:"type"`
	Alert   *Alert         `json:"alert"`

	EmittedAt    time.Time `json:"emitted_at"`
	Node         string    `json:"node"`
	PartitionKey string    `json:"partition_key"`
}

// NewAlertEvent creates a new event wrapping an alert
func NewAlertEvent(eventType AlertEventType, alert *Alert, node string) *AlertEvent {
	return &AlertEvent{
		EventID:      uuid.New().String(),
		Type:         eventType,
		Alert:        alert,
		EmittedAt:    time.Now().UTC(),
		Node:         node,
		PartitionKey: alert.DeviceID, // partition by device for ordering
	}
}
