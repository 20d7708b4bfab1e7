package alerts

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemon/internal/models"
)

func TestTrackerStore_GetOrCreateRaceKeepsOneInstance(t *testing.T) {
	s := NewTrackerStore()
	const goroutines = 64

	got := make([]*Tracker, goroutines)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			got[i] = s.GetOrCreate(7, models.CategoryBattery)
		}(i)
	}
	close(start)
	wg.Wait()

	for _, tr := range got {
		assert.Same(t, got[0], tr)
	}
	assert.Equal(t, 1, s.Len())
}

func TestTracker_IncrementIsAtomic(t *testing.T) {
	tr := NewTrackerStore().GetOrCreate(1, models.CategorySignal)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Increment()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), tr.Count())
	tr.Reset()
	assert.Zero(t, tr.Count())
}

func TestTrackerStore_RemoveAndRemoveSensor(t *testing.T) {
	s := NewTrackerStore()
	s.GetOrCreate(1, models.CategoryBattery)
	s.GetOrCreate(1, models.CategoryTemperature)
	s.GetOrCreate(2, models.CategoryBattery)

	s.Remove(1, models.CategoryBattery)
	s.Remove(1, models.CategoryBattery) // second remove is a no-op

	_, ok := s.Get(1, models.CategoryBattery)
	assert.False(t, ok)
	assert.Equal(t, 2, s.Len())

	assert.Equal(t, 1, s.RemoveSensor(1))
	assert.Equal(t, 1, s.Len())
	_, ok = s.Get(2, models.CategoryBattery)
	assert.True(t, ok)
}

func TestTrackerStore_SweepEvictsIdle(t *testing.T) {
	s := NewTrackerStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	s.GetOrCreate(1, models.CategoryTemperature).touch(now.Add(-2 * time.Hour))
	s.GetOrCreate(2, models.CategoryTemperature).touch(now.Add(-10 * time.Minute))

	evicted := s.Sweep(now, 90*time.Minute)

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get(2, models.CategoryTemperature)
	assert.True(t, ok)
}

func TestTrackerStore_SnapshotRestore(t *testing.T) {
	src := NewTrackerStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := Policy{Window: time.Minute, Count: 5}
	for i := 0; i < 3; i++ {
		p.Decide(src.GetOrCreate(4, models.CategorySignal), now)
	}

	dst := NewTrackerStore()
	restored := dst.Restore(src.Snapshot())

	require.Equal(t, 1, restored)
	tr, ok := dst.Get(4, models.CategorySignal)
	require.True(t, ok)
	assert.Equal(t, int64(3), tr.Count())
	assert.True(t, tr.LastAlert().Equal(now))
	assert.True(t, tr.LastSeen().Equal(now))

	// live trackers win over snapshots
	assert.Zero(t, dst.Restore(src.Snapshot()))
}

func TestTracker_LastAlertZeroWhenNeverReported(t *testing.T) {
	tr := &Tracker{}
	assert.True(t, tr.LastAlert().IsZero())
}
