package alerts

import (
	"sync"
	"sync/atomic"
	"time"

	"telemon/internal/models"
)

// TrackerKey identifies the suppression state of one category on one sensor.
type TrackerKey struct {
	SensorID int64
	Category models.Category
}

// Tracker counts violations of one (sensor, category) pair and remembers
// when the last alert for it was reported. All fields are atomic so that
// concurrent evaluations of the same sensor never lose an update.
type Tracker struct {
	count     atomic.Int64
	lastAlert atomic.Int64 // unix nanos, 0 when never reported
	lastSeen  atomic.Int64 // unix nanos of the last violation
}

// Count returns the number of violations in the current episode.
func (t *Tracker) Count() int64 { return t.count.Load() }

// LastAlert returns when the last alert was reported, zero if never.
func (t *Tracker) LastAlert() time.Time {
	n := t.lastAlert.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// LastSeen returns when the tracker last saw a violation.
func (t *Tracker) LastSeen() time.Time {
	return time.Unix(0, t.lastSeen.Load())
}

// Increment adds one violation and returns the new count.
func (t *Tracker) Increment() int64 { return t.count.Add(1) }

// Reset starts a fresh episode.
func (t *Tracker) Reset() { t.count.Store(0) }

func (t *Tracker) touch(now time.Time) { t.lastSeen.Store(now.UnixNano()) }

// TrackerStore holds trackers keyed by (sensor, category). It has no global
// lock: lookups for different sensors never contend.
type TrackerStore struct {
	trackers sync.Map // TrackerKey -> *Tracker
	size     atomic.Int64
}

// NewTrackerStore returns an empty store.
func NewTrackerStore() *TrackerStore {
	return &TrackerStore{}
}

// GetOrCreate returns the tracker for the key, creating it on first use.
// When two goroutines race on the first violation only one tracker survives.
func (s *TrackerStore) GetOrCreate(sensorID int64, category models.Category) *Tracker {
	key := TrackerKey{SensorID: sensorID, Category: category}
	if t, ok := s.trackers.Load(key); ok {
		return t.(*Tracker)
	}
	t, loaded := s.trackers.LoadOrStore(key, &Tracker{})
	if !loaded {
		s.size.Add(1)
	}
	return t.(*Tracker)
}

// Get returns the tracker for the key if one exists.
func (s *TrackerStore) Get(sensorID int64, category models.Category) (*Tracker, bool) {
	t, ok := s.trackers.Load(TrackerKey{SensorID: sensorID, Category: category})
	if !ok {
		return nil, false
	}
	return t.(*Tracker), true
}

// Remove drops the tracker for the key so the next violation starts untracked.
func (s *TrackerStore) Remove(sensorID int64, category models.Category) {
	if _, ok := s.trackers.LoadAndDelete(TrackerKey{SensorID: sensorID, Category: category}); ok {
		s.size.Add(-1)
	}
}

// RemoveSensor drops every tracker of a sensor.
func (s *TrackerStore) RemoveSensor(sensorID int64) int {
	removed := 0
	s.trackers.Range(func(k, _ any) bool {
		if k.(TrackerKey).SensorID == sensorID {
			if _, ok := s.trackers.LoadAndDelete(k); ok {
				s.size.Add(-1)
				removed++
			}
		}
		return true
	})
	return removed
}

// Sweep evicts trackers that have not seen a violation for longer than idle.
func (s *TrackerStore) Sweep(now time.Time, idle time.Duration) int {
	cutoff := now.Add(-idle).UnixNano()
	evicted := 0
	s.trackers.Range(func(k, v any) bool {
		if v.(*Tracker).lastSeen.Load() < cutoff {
			// CompareAndDelete keeps a tracker that was replaced concurrently.
			if s.trackers.CompareAndDelete(k, v) {
				s.size.Add(-1)
				evicted++
			}
		}
		return true
	})
	return evicted
}

// Len returns the number of live trackers.
func (s *TrackerStore) Len() int {
	return int(s.size.Load())
}

// TrackerSnapshot is the serializable form of one tracker.
type TrackerSnapshot struct {
	SensorID  int64           `json:"sensor_id"`
	Category  models.Category `json:"category"`
	Count     int64           `json:"count"`
	LastAlert int64           `json:"last_alert"`
	LastSeen  int64           `json:"last_seen"`
}

// Snapshot copies the state of every tracker.
func (s *TrackerStore) Snapshot() []TrackerSnapshot {
	out := make([]TrackerSnapshot, 0, s.Len())
	s.trackers.Range(func(k, v any) bool {
		key, t := k.(TrackerKey), v.(*Tracker)
		out = append(out, TrackerSnapshot{
			SensorID:  key.SensorID,
			Category:  key.Category,
			Count:     t.count.Load(),
			LastAlert: t.lastAlert.Load(),
			LastSeen:  t.lastSeen.Load(),
		})
		return true
	})
	return out
}

// Restore loads snapshots into the store. Keys that already have a live
// tracker are left alone.
func (s *TrackerStore) Restore(snaps []TrackerSnapshot) int {
	restored := 0
	for _, snap := range snaps {
		t := &Tracker{}
		t.count.Store(snap.Count)
		t.lastAlert.Store(snap.LastAlert)
		t.lastSeen.Store(snap.LastSeen)
		key := TrackerKey{SensorID: snap.SensorID, Category: snap.Category}
		if _, loaded := s.trackers.LoadOrStore(key, t); !loaded {
			s.size.Add(1)
			restored++
		}
	}
	return restored
}
