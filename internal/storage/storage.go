package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telemon/internal/config"
	"telemon/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// SensorRepository stores registered sensors.
type SensorRepository interface {
	Create(ctx context.Context, sensor *models.Sensor) (*models.Sensor, error)
	FindByID(ctx context.Context, id int64) (*models.Sensor, error)
	// FindActive returns nil, nil when the sensor is missing or inactive.
	FindActive(ctx context.Context, id int64) (*models.Sensor, error)
	Activate(ctx context.Context, id int64) error
	Deactivate(ctx context.Context, id int64) error
}

// AlertRepository stores alerts.
type AlertRepository interface {
	Save(ctx context.Context, alert *models.Alert) (*models.Alert, error)
	// SaveAll writes the batch atomically and returns the alerts it wrote.
	// A resolved alert is never rewritten, so ResolvedAt is set exactly once.
	SaveAll(ctx context.Context, alerts []*models.Alert) ([]*models.Alert, error)
	FindByID(ctx context.Context, id int64) (*models.Alert, error)
	FindUnresolvedBySensor(ctx context.Context, sensorID int64) ([]*models.Alert, error)
	FindUnresolvedByDeviceID(ctx context.Context, deviceID string) ([]*models.Alert, error)
	ListUnresolved(ctx context.Context, limit int) ([]*models.Alert, error)
	// FindByReading returns every alert raised for one reading.
	FindByReading(ctx context.Context, readingID int64) ([]*models.Alert, error)
	// ListByDevice and ListBySensor return resolved and open alerts, newest first.
	ListByDevice(ctx context.Context, deviceID string, page Page) ([]*models.Alert, error)
	ListBySensor(ctx context.Context, sensorID int64, page Page) ([]*models.Alert, error)
	// Resolve closes one alert. Resolving an already resolved alert is a no-op.
	Resolve(ctx context.Context, id int64, at time.Time) (*models.Alert, error)
}

// ReadingRepository stores telemetry readings.
type ReadingRepository interface {
	Save(ctx context.Context, reading *models.Reading) (*models.Reading, error)
	SaveAll(ctx context.Context, readings []*models.Reading) ([]*models.Reading, error)
	MarkProcessed(ctx context.Context, reading *models.Reading) error
	FindUnprocessed(ctx context.Context, limit int) ([]*models.Reading, error)
	FindByID(ctx context.Context, id int64) (*models.Reading, error)
	// ListByDevice returns a device's readings within span, newest first.
	ListByDevice(ctx context.Context, deviceID string, span TimeRange, page Page) ([]*models.Reading, error)
}

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// TimeRange is an inclusive timestamp filter. A zero bound is open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (tr TimeRange) contains(t time.Time) bool {
	if !tr.From.IsZero() && t.Before(tr.From) {
		return false
	}
	if !tr.To.IsZero() && t.After(tr.To) {
		return false
	}
	return true
}

// Backend bundles the repositories of one storage backend.
type Backend struct {
	Name     string
	Sensors  SensorRepository
	Alerts   AlertRepository
	Readings ReadingRepository

	close func() error
}

// Close releases the backend's resources.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open connects the backend selected by cfg.StorageBackend.
func Open(ctx context.Context, cfg *config.Config) (*Backend, error) {
	switch cfg.StorageBackend {
	case "postgres":
		db, err := NewPostgresDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return &Backend{
			Name:     "postgres",
			Sensors:  NewSensorRepository(db),
			Alerts:   NewAlertRepository(db),
			Readings: NewReadingRepository(db),
			close:    db.Close,
		}, nil
	case "memory", "":
		m := NewMemoryStore()
		return &Backend{
			Name:     "memory",
			Sensors:  m.Sensors(),
			Alerts:   m.Alerts(),
			Readings: m.Readings(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
