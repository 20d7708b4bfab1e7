package alerts

import (
	"context"
	"fmt"
	"time"

	"telemon/internal/logger"
	"telemon/internal/metrics"
	"telemon/internal/models"
)

// Engine evaluates readings against thresholds, raises alerts for new
// violations, suppresses repeats, resolves alerts once readings return to
// normal and deactivates sensors whose battery keeps failing.
//
// Engine is safe for concurrent use. The only state it shares between
// evaluations is its TrackerStore.
type Engine struct {
	cfg      Config
	policy   Policy
	sensors  SensorService
	alerts   AlertStore
	notifier Notifier
	trackers *TrackerStore
	now      func() time.Time
}

// NewEngine creates an Engine backed by the given collaborators.
func NewEngine(cfg Config, sensors SensorService, alerts AlertStore, opts ...Option) *Engine {
	if cfg.SuppressionCount <= 0 {
		cfg.SuppressionCount = 5
	}
	if cfg.SuppressionWindow <= 0 {
		cfg.SuppressionWindow = 30 * time.Minute
	}

	e := &Engine{
		cfg: cfg,
		policy: Policy{
			Window: cfg.SuppressionWindow,
			Count:  int64(cfg.SuppressionCount),
		},
		sensors: sensors,
		alerts:  alerts,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}
	if e.trackers == nil {
		e.trackers = NewTrackerStore()
	}

	return e
}

// Trackers exposes the engine's suppression state.
func (e *Engine) Trackers() *TrackerStore { return e.trackers }

// Evaluate checks one reading and returns true if any alert was raised.
//
// Failures to resolve historical alerts are logged and never returned.
// Failures to persist a new alert or to deactivate a sensor are returned.
func (e *Engine) Evaluate(ctx context.Context, r *models.Reading) (bool, error) {
	start := time.Now()
	defer func() { metrics.EvaluationDuration.Observe(time.Since(start).Seconds()) }()

	origin := r.Origin()

	if sensorID, ok := origin.Sensor(); ok {
		sensor, err := e.sensors.FindActive(ctx, sensorID)
		if err != nil {
			return false, fmt.Errorf("lookup sensor %d: %w", sensorID, err)
		}
		if sensor == nil {
			logger.WithSensor("alert_engine", sensorID, r.DeviceID).Debug().
				Int64("reading_id", r.ID).
				Msg("sensor inactive, skipping evaluation")
			metrics.EvaluationsSkippedTotal.WithLabelValues("sensor_inactive").Inc()
			return false, nil
		}
	}

	raised := false
	for _, v := range Classify(r, e.cfg.Thresholds) {
		if v.InRange {
			e.resolve(ctx, origin, v.Category)
			continue
		}

		if v.Category == models.CategoryBattery {
			r.Status = models.StatusLowPower
		}

		reported, err := e.violation(ctx, r, origin, v)
		if err != nil {
			return raised, err
		}
		raised = raised || reported
	}

	return raised, nil
}

// violation applies suppression to one violated dimension and raises an
// alert when it is not suppressed.
func (e *Engine) violation(ctx context.Context, r *models.Reading, origin models.Origin, v Verdict) (bool, error) {
	sensorID, tracked := origin.Sensor()
	if !tracked {
		// no stable identity, nothing to suppress against
		return true, e.raise(ctx, r, v)
	}

	t := e.trackers.GetOrCreate(sensorID, v.Category)
	d := e.policy.Decide(t, e.now())
	if !d.Suppressed {
		return true, e.raise(ctx, r, v)
	}

	metrics.AlertsSuppressedTotal.WithLabelValues(string(v.Category)).Inc()
	logger.WithSensor("alert_engine", sensorID, r.DeviceID).Debug().
		Str("category", string(v.Category)).
		Int64("count", d.Count).
		Msg("alert suppressed")

	if v.Category == models.CategoryBattery && e.cfg.SensorDeactivationEnabled &&
		d.Count >= 2*e.policy.Count {
		return false, e.deactivate(ctx, sensorID, d.Count)
	}
	return false, nil
}

func (e *Engine) raise(ctx context.Context, r *models.Reading, v Verdict) error {
	alert := &models.Alert{
		ReadingID: r.ID,
		SensorID:  r.SensorID,
		DeviceID:  r.DeviceID,
		Category:  v.Category,
		Severity:  v.Severity,
		Message:   v.Message,
		CreatedAt: e.now(),
	}

	// the suppression slot is already spent; only persisted alerts are attached
	saved, err := e.alerts.Save(ctx, alert)
	if err != nil {
		return fmt.Errorf("save %s alert for %s: %w", v.Category, r.Origin(), err)
	}
	r.AddAlert(saved)

	metrics.AlertsRaisedTotal.WithLabelValues(string(v.Category), string(v.Severity)).Inc()
	logger.WithComponent("alert_engine").Warn().
		Int64("alert_id", saved.ID).
		Str("origin", r.Origin().String()).
		Str("category", string(v.Category)).
		Str("severity", string(v.Severity)).
		Msg(v.Message)

	e.notify(ctx, models.AlertEventRaised, saved)
	return nil
}

// deactivate takes a sensor out of service after chronic battery failures
// and forgets its battery tracker.
func (e *Engine) deactivate(ctx context.Context, sensorID int64, count int64) error {
	if err := e.sensors.Deactivate(ctx, sensorID); err != nil {
		return fmt.Errorf("deactivate sensor %d: %w", sensorID, err)
	}
	e.trackers.Remove(sensorID, models.CategoryBattery)

	metrics.SensorsDeactivatedTotal.Inc()
	logger.WithComponent("alert_engine").Warn().
		Int64("sensor_id", sensorID).
		Int64("battery_violations", count).
		Msg("sensor deactivated after sustained battery alerts")
	return nil
}

// resolve closes every open alert of the category for the origin. It never
// fails: persistence errors are logged and count as zero resolved.
func (e *Engine) resolve(ctx context.Context, origin models.Origin, category models.Category) int {
	log := logger.WithComponent("alert_engine")

	var (
		open []*models.Alert
		err  error
	)
	if id, ok := origin.Sensor(); ok {
		open, err = e.alerts.FindUnresolvedBySensor(ctx, id)
	} else {
		open, err = e.alerts.FindUnresolvedByDeviceID(ctx, origin.DeviceID)
	}
	if err != nil {
		log.Error().Err(err).
			Str("origin", origin.String()).
			Str("category", string(category)).
			Msg("failed to load open alerts")
		metrics.ResolveFailuresTotal.WithLabelValues(string(category)).Inc()
		return 0
	}

	now := e.now()
	batch := make([]*models.Alert, 0, len(open))
	for _, a := range open {
		if a.Category != category || a.Resolved {
			continue
		}
		// work on a copy so a failed write leaves the caller's view untouched
		resolved := *a
		resolved.Resolve(now)
		batch = append(batch, &resolved)
	}
	if len(batch) == 0 {
		return 0
	}

	// the store skips alerts another evaluation resolved in the meantime
	saved, err := e.alerts.SaveAll(ctx, batch)
	if err != nil {
		log.Error().Err(err).
			Str("origin", origin.String()).
			Str("category", string(category)).
			Int("count", len(batch)).
			Msg("failed to resolve alerts")
		metrics.ResolveFailuresTotal.WithLabelValues(string(category)).Inc()
		return 0
	}
	if len(saved) == 0 {
		return 0
	}

	metrics.AlertsResolvedTotal.WithLabelValues(string(category), "auto").Add(float64(len(saved)))
	log.Info().
		Str("origin", origin.String()).
		Str("category", string(category)).
		Int("count", len(saved)).
		Msg("alerts resolved")

	for _, a := range saved {
		e.notify(ctx, models.AlertEventResolved, a)
	}
	return len(saved)
}

func (e *Engine) notify(ctx context.Context, eventType models.AlertEventType, a *models.Alert) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, eventType, a); err != nil {
		logger.WithComponent("alert_engine").Error().Err(err).
			Int64("alert_id", a.ID).
			Str("event", string(eventType)).
			Msg("failed to publish alert event")
	}
}

// ForgetSensor drops all suppression state of a sensor, e.g. after an
// operator reactivates it.
func (e *Engine) ForgetSensor(sensorID int64) int {
	return e.trackers.RemoveSensor(sensorID)
}
