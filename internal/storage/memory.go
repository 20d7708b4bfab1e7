package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"telemon/internal/models"
)

// MemoryStore keeps sensors, alerts and readings in process memory. It is
// used when no database is configured and in tests. Every read returns
// copies so callers cannot mutate stored rows.
type MemoryStore struct {
	mu       sync.RWMutex
	sensors  map[int64]*models.Sensor
	alerts   map[int64]*models.Alert
	readings map[int64]*models.Reading

	nextSensor  int64
	nextAlert   int64
	nextReading int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sensors:  make(map[int64]*models.Sensor),
		alerts:   make(map[int64]*models.Alert),
		readings: make(map[int64]*models.Reading),
	}
}

// Sensors returns the store's sensor repository.
func (s *MemoryStore) Sensors() SensorRepository { return memorySensors{s} }

// Alerts returns the store's alert repository.
func (s *MemoryStore) Alerts() AlertRepository { return memoryAlerts{s} }

// Readings returns the store's reading repository.
func (s *MemoryStore) Readings() ReadingRepository { return memoryReadings{s} }

type memorySensors struct{ s *MemoryStore }

func (m memorySensors) Create(_ context.Context, sensor *models.Sensor) (*models.Sensor, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if sensor.ID == 0 {
		m.s.nextSensor++
		sensor.ID = m.s.nextSensor
	} else if sensor.ID > m.s.nextSensor {
		m.s.nextSensor = sensor.ID
	}
	if sensor.CreatedAt.IsZero() {
		sensor.CreatedAt = time.Now().UTC()
	}
	cp := *sensor
	m.s.sensors[sensor.ID] = &cp
	return sensor, nil
}

func (m memorySensors) FindByID(_ context.Context, id int64) (*models.Sensor, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	sensor, ok := m.s.sensors[id]
	if !ok {
		return nil, fmt.Errorf("sensor %d: %w", id, ErrNotFound)
	}
	cp := *sensor
	return &cp, nil
}

func (m memorySensors) FindActive(_ context.Context, id int64) (*models.Sensor, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	sensor, ok := m.s.sensors[id]
	if !ok || !sensor.Active {
		return nil, nil
	}
	cp := *sensor
	return &cp, nil
}

func (m memorySensors) Activate(_ context.Context, id int64) error {
	return m.setActive(id, true)
}

func (m memorySensors) Deactivate(_ context.Context, id int64) error {
	return m.setActive(id, false)
}

func (m memorySensors) setActive(id int64, active bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	sensor, ok := m.s.sensors[id]
	if !ok {
		return fmt.Errorf("sensor %d: %w", id, ErrNotFound)
	}
	now := time.Now().UTC()
	sensor.Active = active
	sensor.UpdatedAt = &now
	return nil
}

type memoryAlerts struct{ s *MemoryStore }

func (m memoryAlerts) Save(_ context.Context, a *models.Alert) (*models.Alert, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	written, err := m.put(a)
	if err != nil {
		return nil, err
	}
	if !written {
		cp := *m.s.alerts[a.ID]
		return &cp, nil
	}
	return a, nil
}

// SaveAll validates the whole batch before writing any of it. Alerts that
// are already resolved in the store are skipped and left out of the result.
func (m memoryAlerts) SaveAll(_ context.Context, alerts []*models.Alert) ([]*models.Alert, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for _, a := range alerts {
		if a.ID != 0 {
			if _, ok := m.s.alerts[a.ID]; !ok {
				return nil, fmt.Errorf("alert %d: %w", a.ID, ErrNotFound)
			}
		}
	}
	saved := make([]*models.Alert, 0, len(alerts))
	for _, a := range alerts {
		written, err := m.put(a)
		if err != nil {
			return nil, err
		}
		if written {
			saved = append(saved, a)
		}
	}
	return saved, nil
}

// put must be called with the lock held. It reports false when the stored
// alert is already resolved.
func (m memoryAlerts) put(a *models.Alert) (bool, error) {
	if a.ID == 0 {
		m.s.nextAlert++
		a.ID = m.s.nextAlert
	} else if stored, ok := m.s.alerts[a.ID]; !ok {
		return false, fmt.Errorf("alert %d: %w", a.ID, ErrNotFound)
	} else if stored.Resolved {
		return false, nil
	}
	cp := *a
	m.s.alerts[a.ID] = &cp
	return true, nil
}

func (m memoryAlerts) FindByID(_ context.Context, id int64) (*models.Alert, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	a, ok := m.s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m memoryAlerts) FindUnresolvedBySensor(_ context.Context, sensorID int64) ([]*models.Alert, error) {
	return m.filter(func(a *models.Alert) bool {
		return a.SensorID != nil && *a.SensorID == sensorID
	}), nil
}

func (m memoryAlerts) FindUnresolvedByDeviceID(_ context.Context, deviceID string) ([]*models.Alert, error) {
	return m.filter(func(a *models.Alert) bool { return a.DeviceID == deviceID }), nil
}

func (m memoryAlerts) ListUnresolved(_ context.Context, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	out := m.filter(func(*models.Alert) bool { return true })
	// newest first, like the Postgres repository
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memoryAlerts) Resolve(_ context.Context, id int64, at time.Time) (*models.Alert, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	a, ok := m.s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	a.Resolve(at)
	cp := *a
	return &cp, nil
}

func (m memoryAlerts) FindByReading(_ context.Context, readingID int64) ([]*models.Alert, error) {
	out := m.all(func(a *models.Alert) bool { return a.ReadingID == readingID })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memoryAlerts) ListByDevice(_ context.Context, deviceID string, page Page) ([]*models.Alert, error) {
	return m.newestFirst(func(a *models.Alert) bool { return a.DeviceID == deviceID }, page), nil
}

func (m memoryAlerts) ListBySensor(_ context.Context, sensorID int64, page Page) ([]*models.Alert, error) {
	return m.newestFirst(func(a *models.Alert) bool {
		return a.SensorID != nil && *a.SensorID == sensorID
	}, page), nil
}

func (m memoryAlerts) newestFirst(fn func(*models.Alert) bool, page Page) []*models.Alert {
	out := m.all(fn)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, page)
}

// all returns copies of every alert matching fn, in no particular order.
func (m memoryAlerts) all(fn func(*models.Alert) bool) []*models.Alert {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var out []*models.Alert
	for _, a := range m.s.alerts {
		if fn(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out
}

// filter returns copies of unresolved alerts matching fn, oldest first.
func (m memoryAlerts) filter(fn func(*models.Alert) bool) []*models.Alert {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var out []*models.Alert
	for _, a := range m.s.alerts {
		if !a.Resolved && fn(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memoryReadings struct{ s *MemoryStore }

func (m memoryReadings) Save(_ context.Context, r *models.Reading) (*models.Reading, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	m.put(r)
	return r, nil
}

func (m memoryReadings) SaveAll(_ context.Context, readings []*models.Reading) ([]*models.Reading, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for _, r := range readings {
		m.put(r)
	}
	return readings, nil
}

// put must be called with the lock held.
func (m memoryReadings) put(r *models.Reading) {
	m.s.nextReading++
	r.ID = m.s.nextReading
	cp := *r
	cp.Alerts = nil
	m.s.readings[r.ID] = &cp
}

func (m memoryReadings) MarkProcessed(_ context.Context, r *models.Reading) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	stored, ok := m.s.readings[r.ID]
	if !ok {
		return fmt.Errorf("reading %d: %w", r.ID, ErrNotFound)
	}
	stored.Processed = true
	stored.ProcessedAt = r.ProcessedAt
	stored.Status = r.Status
	return nil
}

func (m memoryReadings) FindUnprocessed(_ context.Context, limit int) ([]*models.Reading, error) {
	if limit <= 0 {
		limit = 100
	}

	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var out []*models.Reading
	for _, r := range m.s.readings {
		if !r.Processed {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m memoryReadings) FindByID(_ context.Context, id int64) (*models.Reading, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	r, ok := m.s.readings[id]
	if !ok {
		return nil, fmt.Errorf("reading %d: %w", id, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m memoryReadings) ListByDevice(_ context.Context, deviceID string, span TimeRange, page Page) ([]*models.Reading, error) {
	m.s.mu.RLock()
	var out []*models.Reading
	for _, r := range m.s.readings {
		if r.DeviceID == deviceID && span.contains(r.Timestamp) {
			cp := *r
			out = append(out, &cp)
		}
	}
	m.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, page), nil
}

func paginate[T any](items []T, page Page) []T {
	page = page.normalize()
	if page.Offset >= len(items) {
		return nil
	}
	items = items[page.Offset:]
	if len(items) > page.Limit {
		items = items[:page.Limit]
	}
	return items
}
