package alerts

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_ReportsFirstNThenSuppresses(t *testing.T) {
	p := Policy{Window: 30 * time.Minute, Count: 5}
	tr := &Tracker{}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		assert.False(t, p.ShouldSuppress(tr, now))
		d := p.Decide(tr, now)
		assert.False(t, d.Suppressed, "violation %d", i)
		assert.Equal(t, int64(i), d.Count)
		now = now.Add(time.Second)
	}

	assert.True(t, p.ShouldSuppress(tr, now))
	d := p.Decide(tr, now)
	assert.True(t, d.Suppressed)
	assert.Equal(t, int64(6), d.Count)
}

func TestPolicy_WindowExpiryStartsFreshEpisode(t *testing.T) {
	p := Policy{Window: 30 * time.Minute, Count: 3}
	tr := &Tracker{}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		p.Decide(tr, now)
	}
	lastReported := now

	// still inside the window measured from the last reported alert
	assert.True(t, p.Decide(tr, lastReported.Add(30*time.Minute)).Suppressed)

	d := p.Decide(tr, lastReported.Add(31*time.Minute))
	assert.False(t, d.Suppressed)
	assert.Equal(t, int64(1), d.Count)
	assert.Equal(t, int64(1), tr.Count())
	assert.True(t, tr.LastAlert().Equal(lastReported.Add(31*time.Minute)))
}

func TestPolicy_SuppressedViolationsDoNotMoveWindow(t *testing.T) {
	p := Policy{Window: 10 * time.Minute, Count: 1}
	tr := &Tracker{}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	p.Decide(tr, start)
	for m := 1; m <= 10; m++ {
		assert.True(t, p.Decide(tr, start.Add(time.Duration(m)*time.Minute)).Suppressed)
	}
	assert.False(t, p.Decide(tr, start.Add(11*time.Minute)).Suppressed)
}

func TestPolicy_ConcurrentDecisionsLoseNoIncrements(t *testing.T) {
	const n = 200
	p := Policy{Window: time.Hour, Count: n}
	tr := &Tracker{}
	now := time.Now()

	var reported atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !p.Decide(tr, now).Suppressed {
				reported.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(n), tr.Count())
	assert.Equal(t, int64(n), reported.Load())
}
