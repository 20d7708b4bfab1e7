package alerts

import (
	"context"
	"time"

	"telemon/internal/models"
)

// SensorService looks up and deactivates registered sensors.
type SensorService interface {
	// FindActive returns the sensor if it exists and is active, nil otherwise.
	FindActive(ctx context.Context, sensorID int64) (*models.Sensor, error)
	Deactivate(ctx context.Context, sensorID int64) error
}

// AlertStore persists alerts.
type AlertStore interface {
	Save(ctx context.Context, alert *models.Alert) (*models.Alert, error)
	// SaveAll returns only the alerts it wrote. Alerts already resolved in
	// the store are skipped.
	SaveAll(ctx context.Context, alerts []*models.Alert) ([]*models.Alert, error)
	FindUnresolvedBySensor(ctx context.Context, sensorID int64) ([]*models.Alert, error)
	FindUnresolvedByDeviceID(ctx context.Context, deviceID string) ([]*models.Alert, error)
}

// Notifier forwards raised and resolved alerts to downstream consumers.
type Notifier interface {
	Notify(ctx context.Context, eventType models.AlertEventType, alert *models.Alert) error
}

// Config is the engine's injected configuration.
type Config struct {
	Thresholds Thresholds

	SuppressionWindow time.Duration
	SuppressionCount  int

	// SensorDeactivationEnabled turns on chronic battery escalation.
	SensorDeactivationEnabled bool
}

// Option is a functional option for configuring the engine
type Option func(*Engine)

// WithNotifier publishes every raised and auto-resolved alert through n.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTrackerStore injects a pre-populated tracker store.
func WithTrackerStore(s *TrackerStore) Option {
	return func(e *Engine) { e.trackers = s }
}
