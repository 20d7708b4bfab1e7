package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemon/internal/models"
	"telemon/internal/state"
)

func newTestJanitor(t *testing.T, trackers *TrackerStore, now time.Time) *Janitor {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := state.NewRedisStoreFromClient(client, 0)
	t.Cleanup(func() { store.Close() })

	j := NewJanitor(JanitorConfig{
		Trackers:      trackers,
		Store:         store,
		CheckpointKey: "test:trackers",
		IdleAfter:     time.Hour,
	})
	j.now = func() time.Time { return now }
	return j
}

func TestJanitor_CheckpointAndRestore(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	src := NewTrackerStore()
	p := Policy{Window: time.Minute, Count: 3}
	p.Decide(src.GetOrCreate(1, models.CategoryBattery), now)
	p.Decide(src.GetOrCreate(1, models.CategoryBattery), now)
	p.Decide(src.GetOrCreate(2, models.CategoryStatus), now.Add(-2*time.Hour))

	j := newTestJanitor(t, src, now)
	require.NoError(t, j.Checkpoint(context.Background()))

	// a restarted process restores into an empty store from the same backend
	dst := NewTrackerStore()
	j.trackers = dst
	n, err := j.Restore(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n, "idle tracker should not be restored")
	tr, ok := dst.Get(1, models.CategoryBattery)
	require.True(t, ok)
	assert.Equal(t, int64(2), tr.Count())
}

func TestJanitor_RestoreWithoutCheckpoint(t *testing.T) {
	j := newTestJanitor(t, NewTrackerStore(), time.Now())

	n, err := j.Restore(context.Background())

	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestJanitor_TickEvictsIdle(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	trackers := NewTrackerStore()
	trackers.GetOrCreate(1, models.CategorySignal).touch(now.Add(-3 * time.Hour))
	trackers.GetOrCreate(2, models.CategorySignal).touch(now)

	j := newTestJanitor(t, trackers, now)
	j.Tick(context.Background())

	assert.Equal(t, 1, trackers.Len())
}

func TestJanitor_NilStoreDisablesCheckpoints(t *testing.T) {
	j := NewJanitor(JanitorConfig{Trackers: NewTrackerStore()})

	assert.NoError(t, j.Checkpoint(context.Background()))
	n, err := j.Restore(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 30*time.Minute, j.interval)
}

func TestJanitor_RunStopsOnCancel(t *testing.T) {
	j := newTestJanitor(t, NewTrackerStore(), time.Now())
	j.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
