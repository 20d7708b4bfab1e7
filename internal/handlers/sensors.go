package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"telemon/internal/logger"
	"telemon/internal/models"
	"telemon/internal/storage"
)

// SensorAdmin is the slice of the sensor repository operators use.
type SensorAdmin interface {
	Create(ctx context.Context, sensor *models.Sensor) (*models.Sensor, error)
	FindByID(ctx context.Context, id int64) (*models.Sensor, error)
	Activate(ctx context.Context, id int64) error
	Deactivate(ctx context.Context, id int64) error
}

// TrackerResetter drops suppression state of a sensor.
type TrackerResetter interface {
	ForgetSensor(sensorID int64) int
}

// SensorHandler serves sensor registration and activation.
type SensorHandler struct {
	sensors  SensorAdmin
	trackers TrackerResetter
}

// NewSensorHandler creates a sensor handler.
func NewSensorHandler(sensors SensorAdmin, trackers TrackerResetter) *SensorHandler {
	return &SensorHandler{sensors: sensors, trackers: trackers}
}

// Register mounts the handler on mux.
func (h *SensorHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sensors", h.create)
	mux.HandleFunc("GET /api/sensors/{id}", h.get)
	mux.HandleFunc("POST /api/sensors/{id}/activate", h.activate)
	mux.HandleFunc("POST /api/sensors/{id}/deactivate", h.deactivate)
}

// SensorInput is the registration payload.
type SensorInput struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Active      *bool  `json:"active,omitempty"`
}

func (h *SensorHandler) create(w http.ResponseWriter, r *http.Request) {
	var in SensorInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	sensor := &models.Sensor{
		Name:        in.Name,
		Type:        in.Type,
		Description: in.Description,
		Location:    in.Location,
		Active:      in.Active == nil || *in.Active,
	}
	created, err := h.sensors.Create(r.Context(), sensor)
	if err != nil {
		logger.WithRequestID(r.Header.Get("X-Request-ID")).Error().Err(err).Msg("failed to create sensor")
		writeError(w, http.StatusInternalServerError, "failed to create sensor")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *SensorHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid sensor id")
		return
	}
	sensor, err := h.sensors.FindByID(r.Context(), id)
	if !h.checkLookup(w, r, err) {
		return
	}
	writeJSON(w, http.StatusOK, sensor)
}

// activate returns a sensor to service with a clean suppression history.
func (h *SensorHandler) activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *SensorHandler) deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *SensorHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid sensor id")
		return
	}

	var err error
	if active {
		err = h.sensors.Activate(r.Context(), id)
	} else {
		err = h.sensors.Deactivate(r.Context(), id)
	}
	if !h.checkLookup(w, r, err) {
		return
	}

	forgotten := 0
	if active && h.trackers != nil {
		forgotten = h.trackers.ForgetSensor(id)
	}
	logger.WithRequestID(r.Header.Get("X-Request-ID")).Info().
		Int64("sensor_id", id).
		Bool("active", active).
		Int("trackers_cleared", forgotten).
		Msg("sensor activation changed")

	sensor, err := h.sensors.FindByID(r.Context(), id)
	if !h.checkLookup(w, r, err) {
		return
	}
	writeJSON(w, http.StatusOK, sensor)
}

// checkLookup writes the error response for err and reports whether the
// handler may continue.
func (h *SensorHandler) checkLookup(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "sensor not found")
	default:
		logger.WithRequestID(r.Header.Get("X-Request-ID")).Error().Err(err).Msg("sensor operation failed")
		writeError(w, http.StatusInternalServerError, "sensor operation failed")
	}
	return false
}
