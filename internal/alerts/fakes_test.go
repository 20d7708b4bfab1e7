package alerts

import (
	"context"
	"errors"
	"sync"
	"time"

	"telemon/internal/models"
)

var errStoreDown = errors.New("store down")

type fakeSensors struct {
	mu          sync.Mutex
	sensors     map[int64]*models.Sensor
	deactivated []int64
	findErr     error
}

func newFakeSensors(ids ...int64) *fakeSensors {
	f := &fakeSensors{sensors: make(map[int64]*models.Sensor)}
	for _, id := range ids {
		f.sensors[id] = &models.Sensor{ID: id, Name: "sensor", Active: true}
	}
	return f
}

func (f *fakeSensors) FindActive(_ context.Context, id int64) (*models.Sensor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	s, ok := f.sensors[id]
	if !ok || !s.Active {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSensors) Deactivate(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sensors[id]; ok {
		s.Active = false
	}
	f.deactivated = append(f.deactivated, id)
	return nil
}

func (f *fakeSensors) isActive(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sensors[id].Active
}

type fakeAlerts struct {
	mu           sync.Mutex
	nextID       int64
	alerts       map[int64]*models.Alert
	saveCalls    int
	saveAllCalls int

	saveErr    error
	saveAllErr error
	findErr    error

	// onFind runs after an unresolved lookup has taken its snapshot.
	onFind func()
}

func newFakeAlerts() *fakeAlerts {
	return &fakeAlerts{alerts: make(map[int64]*models.Alert)}
}

func (f *fakeAlerts) Save(_ context.Context, a *models.Alert) (*models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	if a.ID == 0 {
		f.nextID++
		a.ID = f.nextID
	}
	cp := *a
	f.alerts[a.ID] = &cp
	return a, nil
}

func (f *fakeAlerts) SaveAll(_ context.Context, batch []*models.Alert) ([]*models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveAllCalls++
	if f.saveAllErr != nil {
		return nil, f.saveAllErr
	}
	saved := make([]*models.Alert, 0, len(batch))
	for _, a := range batch {
		if stored, ok := f.alerts[a.ID]; ok && stored.Resolved {
			continue
		}
		cp := *a
		f.alerts[a.ID] = &cp
		saved = append(saved, a)
	}
	return saved, nil
}

func (f *fakeAlerts) FindUnresolvedBySensor(_ context.Context, sensorID int64) ([]*models.Alert, error) {
	return f.find(func(a *models.Alert) bool { return a.SensorID != nil && *a.SensorID == sensorID })
}

func (f *fakeAlerts) FindUnresolvedByDeviceID(_ context.Context, deviceID string) ([]*models.Alert, error) {
	return f.find(func(a *models.Alert) bool { return a.DeviceID == deviceID })
}

func (f *fakeAlerts) find(match func(*models.Alert) bool) ([]*models.Alert, error) {
	f.mu.Lock()
	if f.findErr != nil {
		f.mu.Unlock()
		return nil, f.findErr
	}
	var out []*models.Alert
	for _, a := range f.alerts {
		if !a.Resolved && match(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	hook := f.onFind
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *fakeAlerts) get(id int64) *models.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.alerts[id]
	return &cp
}

func (f *fakeAlerts) count(category models.Category, resolved bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.alerts {
		if a.Category == category && a.Resolved == resolved {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.AlertEventType
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, t models.AlertEventType, _ *models.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, t)
	return n.err
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func floatPtr(f float64) *float64 { return &f }

func int64Ptr(i int64) *int64 { return &i }
