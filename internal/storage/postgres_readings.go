package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"telemon/internal/models"
)

const readingColumns = `id, device_id, sensor_id, ts, temperature, battery_level, signal_strength,
	latitude, longitude, altitude, status, message, processed, processed_at`

// ReadingRepo is the Postgres reading repository.
type ReadingRepo struct {
	db *sql.DB
}

// NewReadingRepository creates a Postgres reading repository.
func NewReadingRepository(db *sql.DB) *ReadingRepo {
	return &ReadingRepo{db: db}
}

func (r *ReadingRepo) Save(ctx context.Context, reading *models.Reading) (*models.Reading, error) {
	if err := insertReading(ctx, r.db, reading); err != nil {
		return nil, err
	}
	return reading, nil
}

// SaveAll inserts the batch in one transaction.
func (r *ReadingRepo) SaveAll(ctx context.Context, readings []*models.Reading) ([]*models.Reading, error) {
	if len(readings) == 0 {
		return readings, nil
	}
	err := withTx(ctx, r.db, func(q querier) error {
		for _, reading := range readings {
			if err := insertReading(ctx, q, reading); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return readings, nil
}

func insertReading(ctx context.Context, q querier, r *models.Reading) error {
	err := q.QueryRowContext(ctx,
		`INSERT INTO readings (device_id, sensor_id, ts, temperature, battery_level, signal_strength,
			latitude, longitude, altitude, status, message, processed, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		r.DeviceID, nullInt(r.SensorID), r.Timestamp,
		nullFloat(r.Temperature), nullFloat(r.BatteryLevel), nullFloat(r.SignalStrength),
		nullFloat(r.Latitude), nullFloat(r.Longitude), nullFloat(r.Altitude),
		r.Status, r.Message, r.Processed, nullTime(r.ProcessedAt),
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("failed to insert reading for %s: %w", r.DeviceID, err)
	}
	return nil
}

// MarkProcessed writes back the processed flag and the reading's status,
// which evaluation may have changed.
func (r *ReadingRepo) MarkProcessed(ctx context.Context, reading *models.Reading) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE readings SET processed = TRUE, processed_at = $2, status = $3 WHERE id = $1`,
		reading.ID, nullTime(reading.ProcessedAt), reading.Status)
	if err != nil {
		return fmt.Errorf("failed to mark reading %d processed: %w", reading.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("reading %d: %w", reading.ID, ErrNotFound)
	}
	return nil
}

func (r *ReadingRepo) FindUnprocessed(ctx context.Context, limit int) ([]*models.Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx,
		`SELECT `+readingColumns+` FROM readings WHERE processed = FALSE ORDER BY id LIMIT $1`, limit)
}

func (r *ReadingRepo) FindByID(ctx context.Context, id int64) (*models.Reading, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+readingColumns+` FROM readings WHERE id = $1`, id)
	reading, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reading %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reading: %w", err)
	}
	return reading, nil
}

func (r *ReadingRepo) ListByDevice(ctx context.Context, deviceID string, span TimeRange, page Page) ([]*models.Reading, error) {
	page = page.normalize()
	return r.query(ctx,
		`SELECT `+readingColumns+` FROM readings
		 WHERE device_id = $1
		   AND ($2::timestamptz IS NULL OR ts >= $2)
		   AND ($3::timestamptz IS NULL OR ts <= $3)
		 ORDER BY ts DESC, id DESC LIMIT $4 OFFSET $5`,
		deviceID, nullBound(span.From), nullBound(span.To), page.Limit, page.Offset)
}

func (r *ReadingRepo) query(ctx context.Context, query string, args ...any) ([]*models.Reading, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var out []*models.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		out = append(out, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}
	return out, nil
}

func scanReading(row scanner) (*models.Reading, error) {
	var (
		reading               models.Reading
		sensorID              sql.NullInt64
		temp, battery, signal sql.NullFloat64
		lat, lon, alt         sql.NullFloat64
		processedAt           sql.NullTime
	)
	if err := row.Scan(&reading.ID, &reading.DeviceID, &sensorID, &reading.Timestamp,
		&temp, &battery, &signal, &lat, &lon, &alt,
		&reading.Status, &reading.Message, &reading.Processed, &processedAt); err != nil {
		return nil, err
	}
	reading.SensorID = int64Ptr(sensorID)
	reading.Temperature = floatPtr(temp)
	reading.BatteryLevel = floatPtr(battery)
	reading.SignalStrength = floatPtr(signal)
	reading.Latitude = floatPtr(lat)
	reading.Longitude = floatPtr(lon)
	reading.Altitude = floatPtr(alt)
	reading.ProcessedAt = timePtr(processedAt)
	return &reading, nil
}
