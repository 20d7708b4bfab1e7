package handlers

import (
	"context"
	"errors"
	"net/http"

	"telemon/internal/logger"
	"telemon/internal/models"
	"telemon/internal/storage"
)

// ReadingReader is the read side of the reading repository.
type ReadingReader interface {
	FindByID(ctx context.Context, id int64) (*models.Reading, error)
	ListByDevice(ctx context.Context, deviceID string, span storage.TimeRange, page storage.Page) ([]*models.Reading, error)
}

// ReadingHandler serves stored telemetry readings.
type ReadingHandler struct {
	readings ReadingReader
}

// NewReadingHandler creates a reading handler.
func NewReadingHandler(readings ReadingReader) *ReadingHandler {
	return &ReadingHandler{readings: readings}
}

// Register mounts the handler on mux.
func (h *ReadingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/telemetry/{id}", h.get)
	mux.HandleFunc("GET /api/telemetry/device/{deviceID}", h.listByDevice)
}

func (h *ReadingHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid reading id")
		return
	}

	reading, err := h.readings.FindByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "reading not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err, "failed to load reading")
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// listByDevice accepts optional from and to bounds in any supported
// timestamp format.
func (h *ReadingHandler) listByDevice(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var span storage.TimeRange
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if span.From, err = models.ParseTimestamp(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if span.To, err = models.ParseTimestamp(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
	}
	if !span.From.IsZero() && !span.To.IsZero() && span.To.Before(span.From) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	readings, err := h.readings.ListByDevice(r.Context(), r.PathValue("deviceID"), span, page)
	if err != nil {
		h.internalError(w, r, err, "failed to list readings")
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(readings))
}

func (h *ReadingHandler) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logger.WithRequestID(r.Header.Get("X-Request-ID")).Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg)
}
