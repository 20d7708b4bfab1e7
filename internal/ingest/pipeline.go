package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"telemon/internal/logger"
	"telemon/internal/metrics"
	"telemon/internal/models"
	"telemon/internal/storage"
	"telemon/internal/worker"
)

// Evaluator checks a persisted reading for threshold violations.
type Evaluator interface {
	Evaluate(ctx context.Context, r *models.Reading) (bool, error)
}

// Submitter runs tasks in the background.
type Submitter interface {
	Submit(name string, fn worker.Task) error
}

// SensorLookup resolves the sensor a reading claims to come from.
type SensorLookup interface {
	FindByID(ctx context.Context, id int64) (*models.Sensor, error)
}

// ReadingStore persists readings and their processed flag.
type ReadingStore interface {
	Save(ctx context.Context, r *models.Reading) (*models.Reading, error)
	SaveAll(ctx context.Context, rs []*models.Reading) ([]*models.Reading, error)
	MarkProcessed(ctx context.Context, r *models.Reading) error
	FindUnprocessed(ctx context.Context, limit int) ([]*models.Reading, error)
}

// Pipeline persists incoming readings and hands them to the alert engine
// without waiting for the evaluation to finish.
type Pipeline struct {
	sensors   SensorLookup
	readings  ReadingStore
	evaluator Evaluator
	pool      Submitter
	now       func() time.Time

	// ids of readings submitted but not yet evaluated
	inFlight sync.Map
}

// Config holds pipeline dependencies
type Config struct {
	Sensors   SensorLookup
	Readings  ReadingStore
	Evaluator Evaluator
	Pool      Submitter
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{
		sensors:   cfg.Sensors,
		readings:  cfg.Readings,
		evaluator: cfg.Evaluator,
		pool:      cfg.Pool,
		now:       time.Now,
	}
}

// ItemError describes why one reading of a batch was rejected.
type ItemError struct {
	Index    int    `json:"index"`
	DeviceID string `json:"device_id,omitempty"`
	Error    string `json:"error"`
}

// BatchResult reports which readings of a batch were accepted.
type BatchResult struct {
	Accepted []*models.Reading
	Rejected []ItemError
}

// Process validates and stores one reading, then schedules its evaluation.
// It returns once the reading is persisted.
func (p *Pipeline) Process(ctx context.Context, source string, r *models.Reading) (*models.Reading, error) {
	if err := p.prepare(ctx, r); err != nil {
		metrics.ReadingsIngestedTotal.WithLabelValues(source, "rejected").Inc()
		return nil, err
	}

	saved, err := p.readings.Save(ctx, r)
	if err != nil {
		metrics.ReadingsIngestedTotal.WithLabelValues(source, "failed").Inc()
		return nil, fmt.Errorf("persist reading: %w", err)
	}
	metrics.ReadingsIngestedTotal.WithLabelValues(source, "accepted").Inc()

	p.submit(saved)
	return saved, nil
}

// ProcessBatch validates every reading, stores the valid ones in a single
// write and schedules each for evaluation. Invalid readings are reported in
// the result; a storage failure rejects the whole batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, source string, rs []*models.Reading) (BatchResult, error) {
	metrics.IngestBatchSize.Observe(float64(len(rs)))

	var result BatchResult
	valid := make([]*models.Reading, 0, len(rs))
	for i, r := range rs {
		if err := p.prepare(ctx, r); err != nil {
			result.Rejected = append(result.Rejected, ItemError{Index: i, DeviceID: r.DeviceID, Error: err.Error()})
			continue
		}
		valid = append(valid, r)
	}
	metrics.ReadingsIngestedTotal.WithLabelValues(source, "rejected").Add(float64(len(result.Rejected)))

	if len(valid) == 0 {
		return result, nil
	}

	saved, err := p.readings.SaveAll(ctx, valid)
	if err != nil {
		metrics.ReadingsIngestedTotal.WithLabelValues(source, "failed").Add(float64(len(valid)))
		return result, fmt.Errorf("persist %d readings: %w", len(valid), err)
	}
	metrics.ReadingsIngestedTotal.WithLabelValues(source, "accepted").Add(float64(len(saved)))

	for _, r := range saved {
		p.submit(r)
	}
	result.Accepted = saved
	return result, nil
}

// ReprocessPending resubmits readings that were stored but never marked
// processed, e.g. because evaluation failed or the process stopped first.
func (p *Pipeline) ReprocessPending(ctx context.Context, limit int) (int, error) {
	pending, err := p.readings.FindUnprocessed(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("load unprocessed readings: %w", err)
	}

	submitted := 0
	for _, r := range pending {
		if p.submit(r) {
			submitted++
		}
	}
	if submitted > 0 {
		logger.WithComponent("pipeline").Info().
			Int("pending", len(pending)).
			Int("submitted", submitted).
			Msg("resubmitted unprocessed readings")
	}
	return submitted, nil
}

// prepare normalizes and validates r and resolves its sensor. A sensor id
// that matches no registered sensor is dropped and the reading is treated
// as coming from a raw device.
func (p *Pipeline) prepare(ctx context.Context, r *models.Reading) error {
	r.Normalize()
	if r.Timestamp.IsZero() {
		r.Timestamp = p.now().UTC()
	}
	if err := r.Validate(); err != nil {
		return err
	}

	if r.SensorID == nil {
		return nil
	}
	_, err := p.sensors.FindByID(ctx, *r.SensorID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		logger.WithSensor("pipeline", *r.SensorID, r.DeviceID).Warn().
			Msg("unknown sensor, treating reading as raw device")
		r.SensorID = nil
		return nil
	default:
		return fmt.Errorf("lookup sensor %d: %w", *r.SensorID, err)
	}
}

// submit schedules evaluation of r unless it is already scheduled. It
// reports whether a task was submitted.
func (p *Pipeline) submit(r *models.Reading) bool {
	if _, busy := p.inFlight.LoadOrStore(r.ID, struct{}{}); busy {
		return false
	}

	err := p.pool.Submit("evaluate", func(ctx context.Context) error {
		defer p.inFlight.Delete(r.ID)
		return p.evaluate(ctx, r)
	})
	if err != nil {
		p.inFlight.Delete(r.ID)
		// the reading stays unprocessed and is picked up by the next reprocess pass
		logger.WithComponent("pipeline").Error().Err(err).
			Int64("reading_id", r.ID).
			Msg("failed to schedule evaluation")
		return false
	}
	return true
}

func (p *Pipeline) evaluate(ctx context.Context, r *models.Reading) error {
	raised, err := p.evaluator.Evaluate(ctx, r)
	if err != nil {
		return fmt.Errorf("evaluate reading %d: %w", r.ID, err)
	}

	r.MarkProcessed(p.now().UTC())
	if err := p.readings.MarkProcessed(ctx, r); err != nil {
		return fmt.Errorf("mark reading %d processed: %w", r.ID, err)
	}

	logger.WithComponent("pipeline").Debug().
		Int64("reading_id", r.ID).
		Str("device_id", r.DeviceID).
		Bool("alerts_raised", raised).
		Int("alerts", len(r.Alerts)).
		Msg("reading processed")
	return nil
}

// ErrInvalidPayload is returned when a payload cannot be decoded at all.
var ErrInvalidPayload = errors.New("invalid payload")

// ProcessPayload decodes a raw JSON payload from any ingress path and runs
// it through ProcessBatch. Item errors carry the index of the item in the
// payload.
func (p *Pipeline) ProcessPayload(ctx context.Context, source string, body []byte) (BatchResult, error) {
	inputs, err := models.DecodeReadings(body)
	if err != nil {
		metrics.ReadingsIngestedTotal.WithLabelValues(source, "invalid").Inc()
		return BatchResult{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var rejected []ItemError
	readings := make([]*models.Reading, 0, len(inputs))
	// batch index -> payload index
	indexes := make([]int, 0, len(inputs))
	for i, in := range inputs {
		r, err := in.ToReading()
		if err != nil {
			rejected = append(rejected, ItemError{Index: i, DeviceID: in.DeviceID, Error: err.Error()})
			continue
		}
		readings = append(readings, r)
		indexes = append(indexes, i)
	}
	metrics.ReadingsIngestedTotal.WithLabelValues(source, "rejected").Add(float64(len(rejected)))

	if len(readings) == 0 {
		return BatchResult{Rejected: rejected}, nil
	}

	result, err := p.ProcessBatch(ctx, source, readings)
	for i := range result.Rejected {
		result.Rejected[i].Index = indexes[result.Rejected[i].Index]
	}
	result.Rejected = append(rejected, result.Rejected...)
	return result, err
}
