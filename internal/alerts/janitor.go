package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"telemon/internal/logger"
	"telemon/internal/metrics"
	"telemon/internal/state"
)

// Janitor evicts idle trackers and checkpoints the rest so suppression
// survives a restart.
type Janitor struct {
	trackers *TrackerStore
	store    state.Store
	key      string
	idle     time.Duration
	interval time.Duration
	now      func() time.Time
}

// JanitorConfig holds janitor configuration
type JanitorConfig struct {
	Trackers *TrackerStore

	// Store receives checkpoints; nil disables checkpointing.
	Store         state.Store
	CheckpointKey string

	// IdleAfter is how long a tracker may go without a violation before eviction.
	IdleAfter time.Duration
	Interval  time.Duration
}

// NewJanitor creates a janitor. Zero durations fall back to the defaults
// derived from a 30 minute suppression window.
func NewJanitor(cfg JanitorConfig) *Janitor {
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = 90 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = cfg.IdleAfter / 3
	}
	if cfg.CheckpointKey == "" {
		cfg.CheckpointKey = "telemon:trackers"
	}
	return &Janitor{
		trackers: cfg.Trackers,
		store:    cfg.Store,
		key:      cfg.CheckpointKey,
		idle:     cfg.IdleAfter,
		interval: cfg.Interval,
		now:      time.Now,
	}
}

// Run sweeps and checkpoints every interval until ctx is cancelled, then
// writes a final checkpoint.
func (j *Janitor) Run(ctx context.Context) {
	log := logger.WithComponent("tracker_janitor")
	log.Info().
		Dur("interval", j.interval).
		Dur("idle_after", j.idle).
		Bool("checkpoints", j.store != nil).
		Msg("tracker janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// parent context is gone; give the final checkpoint its own deadline
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := j.Checkpoint(flushCtx); err != nil {
				log.Error().Err(err).Msg("final tracker checkpoint failed")
			}
			cancel()
			log.Info().Msg("tracker janitor stopped")
			return
		case <-ticker.C:
			j.Tick(ctx)
		}
	}
}

// Tick runs one sweep followed by a checkpoint.
func (j *Janitor) Tick(ctx context.Context) {
	log := logger.WithComponent("tracker_janitor")

	evicted := j.trackers.Sweep(j.now(), j.idle)
	metrics.TrackersEvictedTotal.Add(float64(evicted))
	metrics.TrackersActive.Set(float64(j.trackers.Len()))
	if evicted > 0 {
		log.Info().Int("evicted", evicted).Int("remaining", j.trackers.Len()).Msg("idle trackers evicted")
	}

	if err := j.Checkpoint(ctx); err != nil {
		log.Error().Err(err).Msg("tracker checkpoint failed")
	}
}

// Checkpoint writes the current tracker snapshot to the state store.
func (j *Janitor) Checkpoint(ctx context.Context) error {
	if j.store == nil {
		return nil
	}
	data, err := json.Marshal(j.trackers.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal trackers: %w", err)
	}
	return j.store.Set(ctx, j.key, data)
}

// Restore loads the last checkpoint, dropping entries that are already idle.
func (j *Janitor) Restore(ctx context.Context) (int, error) {
	if j.store == nil {
		return 0, nil
	}
	data, err := j.store.Get(ctx, j.key)
	if errors.Is(err, state.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load tracker checkpoint: %w", err)
	}

	var snaps []TrackerSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return 0, fmt.Errorf("decode tracker checkpoint: %w", err)
	}

	cutoff := j.now().Add(-j.idle).UnixNano()
	fresh := snaps[:0]
	for _, s := range snaps {
		if s.LastSeen >= cutoff {
			fresh = append(fresh, s)
		}
	}

	n := j.trackers.Restore(fresh)
	metrics.TrackersActive.Set(float64(j.trackers.Len()))
	logger.WithComponent("tracker_janitor").Info().
		Int("restored", n).
		Int("expired", len(snaps)-len(fresh)).
		Msg("trackers restored from checkpoint")
	return n, nil
}
