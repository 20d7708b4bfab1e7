package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"telemon/internal/models"
)

const sensorColumns = `id, name, type, description, location, active, created_at, updated_at`

// SensorRepo is the Postgres sensor repository.
type SensorRepo struct {
	db *sql.DB
}

// NewSensorRepository creates a Postgres sensor repository.
func NewSensorRepository(db *sql.DB) *SensorRepo {
	return &SensorRepo{db: db}
}

func (r *SensorRepo) Create(ctx context.Context, s *models.Sensor) (*models.Sensor, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO sensors (name, type, description, location, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		s.Name, s.Type, s.Description, s.Location, s.Active, s.CreatedAt,
	).Scan(&s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert sensor: %w", err)
	}
	return s, nil
}

func (r *SensorRepo) FindByID(ctx context.Context, id int64) (*models.Sensor, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sensorColumns+` FROM sensors WHERE id = $1`, id)
	s, err := scanSensor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sensor %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sensor: %w", err)
	}
	return s, nil
}

func (r *SensorRepo) FindActive(ctx context.Context, id int64) (*models.Sensor, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sensorColumns+` FROM sensors WHERE id = $1 AND active = TRUE`, id)
	s, err := scanSensor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active sensor: %w", err)
	}
	return s, nil
}

func (r *SensorRepo) Activate(ctx context.Context, id int64) error {
	return r.setActive(ctx, id, true)
}

func (r *SensorRepo) Deactivate(ctx context.Context, id int64) error {
	return r.setActive(ctx, id, false)
}

func (r *SensorRepo) setActive(ctx context.Context, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sensors SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update sensor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update sensor: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sensor %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanSensor(row scanner) (*models.Sensor, error) {
	var (
		s         models.Sensor
		updatedAt sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Type, &s.Description, &s.Location,
		&s.Active, &s.CreatedAt, &updatedAt); err != nil {
		return nil, err
	}
	s.UpdatedAt = timePtr(updatedAt)
	return &s, nil
}
