package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"telemon/internal/ingest"
	"telemon/internal/logger"
)

// Ingester accepts raw telemetry payloads.
type Ingester interface {
	ProcessPayload(ctx context.Context, source string, body []byte) (ingest.BatchResult, error)
}

// TelemetryHandler handles telemetry ingestion via HTTP
type TelemetryHandler struct {
	ingester    Ingester
	maxBodySize int64
}

// TelemetryConfig holds configuration for the telemetry handler
type TelemetryConfig struct {
	Ingester    Ingester
	MaxBodySize int64
}

// NewTelemetryHandler creates a new telemetry handler
func NewTelemetryHandler(cfg TelemetryConfig) *TelemetryHandler {
	maxBodySize := cfg.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = 10 * 1024 * 1024 // 10MB default
	}
	return &TelemetryHandler{
		ingester:    cfg.Ingester,
		maxBodySize: maxBodySize,
	}
}

// IngestResponse is the response returned to clients
type IngestResponse struct {
	Success  bool               `json:"success"`
	Accepted int                `json:"accepted"`
	Rejected int                `json:"rejected"`
	IDs      []int64            `json:"ids,omitempty"`
	Errors   []ingest.ItemError `json:"errors,omitempty"`
}

// Register mounts the handler on mux.
func (h *TelemetryHandler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/telemetry", h)
}

// ServeHTTP accepts a single reading, {"readings": [...]} or a JSON array.
// Readings are persisted before the response is written; evaluation
// happens in the background.
func (h *TelemetryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && contentType != "" {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	result, err := h.ingester.ProcessPayload(r.Context(), "http", body)
	if errors.Is(err, ingest.ErrInvalidPayload) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		logger.WithRequestID(r.Header.Get("X-Request-ID")).Error().Err(err).Msg("failed to ingest telemetry")
		writeError(w, http.StatusInternalServerError, "failed to store readings")
		return
	}

	response := IngestResponse{
		Accepted: len(result.Accepted),
		Rejected: len(result.Rejected),
		Errors:   result.Rejected,
	}
	for _, saved := range result.Accepted {
		response.IDs = append(response.IDs, saved.ID)
	}
	response.Success = response.Rejected == 0

	status := http.StatusAccepted
	if response.Accepted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, response)
}
