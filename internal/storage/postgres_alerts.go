package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"telemon/internal/models"
)

const alertColumns = `id, reading_id, sensor_id, device_id, category, severity, message, resolved, created_at, resolved_at`

// AlertRepo is the Postgres alert repository.
type AlertRepo struct {
	db *sql.DB
}

// NewAlertRepository creates a Postgres alert repository.
func NewAlertRepository(db *sql.DB) *AlertRepo {
	return &AlertRepo{db: db}
}

// Save inserts a new alert or updates an open one. Saving over an alert
// that is already resolved leaves the row untouched and returns it as stored.
func (r *AlertRepo) Save(ctx context.Context, a *models.Alert) (*models.Alert, error) {
	written, err := saveAlert(ctx, r.db, a)
	if err != nil {
		return nil, err
	}
	if !written {
		return r.FindByID(ctx, a.ID)
	}
	return a, nil
}

// SaveAll writes the batch in one transaction and returns the alerts that
// were actually written. Alerts already resolved in the database are skipped.
func (r *AlertRepo) SaveAll(ctx context.Context, alerts []*models.Alert) ([]*models.Alert, error) {
	if len(alerts) == 0 {
		return alerts, nil
	}
	saved := make([]*models.Alert, 0, len(alerts))
	err := withTx(ctx, r.db, func(q querier) error {
		for _, a := range alerts {
			written, err := saveAlert(ctx, q, a)
			if err != nil {
				return err
			}
			if written {
				saved = append(saved, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// saveAlert reports false when the row exists but is already resolved.
func saveAlert(ctx context.Context, q querier, a *models.Alert) (bool, error) {
	if a.ID == 0 {
		err := q.QueryRowContext(ctx,
			`INSERT INTO alerts (reading_id, sensor_id, device_id, category, severity, message, resolved, created_at, resolved_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id`,
			nullID(a.ReadingID), nullInt(a.SensorID), a.DeviceID, a.Category, a.Severity,
			a.Message, a.Resolved, a.CreatedAt, nullTime(a.ResolvedAt),
		).Scan(&a.ID)
		if err != nil {
			return false, fmt.Errorf("failed to insert alert: %w", err)
		}
		return true, nil
	}

	// resolved rows are immutable so resolved_at is set exactly once
	res, err := q.ExecContext(ctx,
		`UPDATE alerts SET severity = $2, message = $3, resolved = $4, resolved_at = $5
		 WHERE id = $1 AND resolved = FALSE`,
		a.ID, a.Severity, a.Message, a.Resolved, nullTime(a.ResolvedAt))
	if err != nil {
		return false, fmt.Errorf("failed to update alert %d: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update alert %d: %w", a.ID, err)
	}
	if n > 0 {
		return true, nil
	}

	var resolved bool
	err = q.QueryRowContext(ctx, `SELECT resolved FROM alerts WHERE id = $1`, a.ID).Scan(&resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("alert %d: %w", a.ID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check alert %d: %w", a.ID, err)
	}
	return false, nil
}

func (r *AlertRepo) FindByID(ctx context.Context, id int64) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

func (r *AlertRepo) FindUnresolvedBySensor(ctx context.Context, sensorID int64) ([]*models.Alert, error) {
	return r.query(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE sensor_id = $1 AND resolved = FALSE ORDER BY created_at`,
		sensorID)
}

func (r *AlertRepo) FindUnresolvedByDeviceID(ctx context.Context, deviceID string) ([]*models.Alert, error) {
	return r.query(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE device_id = $1 AND resolved = FALSE ORDER BY created_at`,
		deviceID)
}

func (r *AlertRepo) ListUnresolved(ctx context.Context, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE resolved = FALSE ORDER BY created_at DESC LIMIT $1`,
		limit)
}

func (r *AlertRepo) FindByReading(ctx context.Context, readingID int64) ([]*models.Alert, error) {
	return r.query(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE reading_id = $1 ORDER BY id`,
		readingID)
}

func (r *AlertRepo) ListByDevice(ctx context.Context, deviceID string, page Page) ([]*models.Alert, error) {
	page = page.normalize()
	return r.query(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE device_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		deviceID, page.Limit, page.Offset)
}

func (r *AlertRepo) ListBySensor(ctx context.Context, sensorID int64, page Page) ([]*models.Alert, error) {
	page = page.normalize()
	return r.query(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE sensor_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		sensorID, page.Limit, page.Offset)
}

func (r *AlertRepo) Resolve(ctx context.Context, id int64, at time.Time) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE alerts SET resolved = TRUE, resolved_at = $2
		 WHERE id = $1 AND resolved = FALSE
		 RETURNING `+alertColumns,
		id, at)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		// already resolved, or missing
		return r.FindByID(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert %d: %w", id, err)
	}
	return a, nil
}

func (r *AlertRepo) query(ctx context.Context, query string, args ...any) ([]*models.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return out, nil
}

func scanAlert(row scanner) (*models.Alert, error) {
	var (
		a          models.Alert
		readingID  sql.NullInt64
		sensorID   sql.NullInt64
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &readingID, &sensorID, &a.DeviceID, &a.Category, &a.Severity,
		&a.Message, &a.Resolved, &a.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	a.ReadingID = readingID.Int64
	a.SensorID = int64Ptr(sensorID)
	a.ResolvedAt = timePtr(resolvedAt)
	return &a, nil
}
