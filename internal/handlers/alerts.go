package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"telemon/internal/logger"
	"telemon/internal/metrics"
	"telemon/internal/models"
	"telemon/internal/storage"
)

// AlertReader is the slice of the alert repository the API needs.
type AlertReader interface {
	FindByID(ctx context.Context, id int64) (*models.Alert, error)
	ListUnresolved(ctx context.Context, limit int) ([]*models.Alert, error)
	FindByReading(ctx context.Context, readingID int64) ([]*models.Alert, error)
	ListByDevice(ctx context.Context, deviceID string, page storage.Page) ([]*models.Alert, error)
	ListBySensor(ctx context.Context, sensorID int64, page storage.Page) ([]*models.Alert, error)
	Resolve(ctx context.Context, id int64, at time.Time) (*models.Alert, error)
}

// EventNotifier publishes alert lifecycle events.
type EventNotifier interface {
	Notify(ctx context.Context, eventType models.AlertEventType, alert *models.Alert) error
}

// AlertHandler serves alert queries and the manual resolve action.
type AlertHandler struct {
	alerts   AlertReader
	notifier EventNotifier
	now      func() time.Time
}

// NewAlertHandler creates an alert handler. notifier may be nil.
func NewAlertHandler(alerts AlertReader, notifier EventNotifier) *AlertHandler {
	return &AlertHandler{alerts: alerts, notifier: notifier, now: time.Now}
}

// Register mounts the handler on mux.
func (h *AlertHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/alerts/unresolved", h.listUnresolved)
	mux.HandleFunc("GET /api/alerts/{id}", h.get)
	mux.HandleFunc("GET /api/alerts/device/{deviceID}", h.listByDevice)
	mux.HandleFunc("GET /api/alerts/sensor/{id}", h.listBySensor)
	mux.HandleFunc("GET /api/alerts/telemetry/{id}", h.listByReading)
	mux.HandleFunc("POST /api/alerts/{id}/resolve", h.resolve)
}

func (h *AlertHandler) listUnresolved(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	alerts, err := h.alerts.ListUnresolved(r.Context(), limit)
	if err != nil {
		h.internalError(w, r, err, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

func (h *AlertHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	alert, err := h.alerts.FindByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err, "failed to load alert")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *AlertHandler) listByDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceID")
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	alerts, err := h.alerts.ListByDevice(r.Context(), deviceID, page)
	if err != nil {
		h.internalError(w, r, err, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(alerts))
}

func (h *AlertHandler) listBySensor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid sensor id")
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	alerts, err := h.alerts.ListBySensor(r.Context(), id, page)
	if err != nil {
		h.internalError(w, r, err, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(alerts))
}

func (h *AlertHandler) listByReading(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reading id")
		return
	}

	alerts, err := h.alerts.FindByReading(r.Context(), id)
	if err != nil {
		h.internalError(w, r, err, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(alerts))
}

// resolve closes an alert by operator action. Resolving twice returns the
// alert unchanged.
func (h *AlertHandler) resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	// postgres keeps microseconds
	at := h.now().UTC().Truncate(time.Microsecond)
	alert, err := h.alerts.Resolve(r.Context(), id, at)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err, "failed to resolve alert")
		return
	}

	if alert.ResolvedAt != nil && alert.ResolvedAt.Equal(at) {
		metrics.AlertsResolvedTotal.WithLabelValues(string(alert.Category), "manual").Inc()
		logger.WithRequestID(r.Header.Get("X-Request-ID")).Info().
			Int64("alert_id", alert.ID).
			Str("category", string(alert.Category)).
			Msg("alert resolved manually")
		if h.notifier != nil {
			if err := h.notifier.Notify(r.Context(), models.AlertEventResolved, alert); err != nil {
				logger.WithComponent("handlers").Error().Err(err).Int64("alert_id", alert.ID).
					Msg("failed to publish alert event")
			}
		}
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *AlertHandler) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logger.WithRequestID(r.Header.Get("X-Request-ID")).Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg)
}
