package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemon/internal/ingest"
	"telemon/internal/models"
	"telemon/internal/storage"
	"telemon/internal/worker"
)

type nopEvaluator struct{}

func (nopEvaluator) Evaluate(context.Context, *models.Reading) (bool, error) { return false, nil }

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.AlertEventType
}

func (n *recordingNotifier) Notify(_ context.Context, t models.AlertEventType, _ *models.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, t)
	return nil
}

type fakeTrackers struct{ forgotten []int64 }

func (f *fakeTrackers) ForgetSensor(id int64) int {
	f.forgotten = append(f.forgotten, id)
	return 2
}

type testServer struct {
	mux      *http.ServeMux
	store    *storage.MemoryStore
	pool     *worker.Pool
	notifier *recordingNotifier
	trackers *fakeTrackers
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := storage.NewMemoryStore()
	pool := worker.NewPool(worker.Config{})
	t.Cleanup(pool.Stop)

	pipeline := ingest.NewPipeline(ingest.Config{
		Sensors:   store.Sensors(),
		Readings:  store.Readings(),
		Evaluator: nopEvaluator{},
		Pool:      pool,
	})

	s := &testServer{
		mux:      http.NewServeMux(),
		store:    store,
		pool:     pool,
		notifier: &recordingNotifier{},
		trackers: &fakeTrackers{},
	}
	NewTelemetryHandler(TelemetryConfig{Ingester: pipeline}).Register(s.mux)
	NewAlertHandler(store.Alerts(), s.notifier).Register(s.mux)
	NewSensorHandler(store.Sensors(), s.trackers).Register(s.mux)
	NewReadingHandler(store.Readings()).Register(s.mux)
	return s
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestTelemetry_SingleReading(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/telemetry", `{"device_id":"sat-1","temperature":21.5,"status":"online"}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[IngestResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Accepted)
	assert.Len(t, resp.IDs, 1)
}

func TestTelemetry_BatchWithInvalidItems(t *testing.T) {
	s := newTestServer(t)

	body := `{"readings":[
		{"device_id":"a"},
		{"device_id":"b","timestamp":"not a time"},
		{"device_id":""},
		{"device_id":"d","battery_level":50}
	]}`
	rec := s.do(http.MethodPost, "/api/telemetry", body)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[IngestResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, 2, resp.Accepted)
	assert.Equal(t, 2, resp.Rejected)

	indexes := []int{resp.Errors[0].Index, resp.Errors[1].Index}
	assert.ElementsMatch(t, []int{1, 2}, indexes)
}

func TestTelemetry_AllRejected(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/telemetry", `[{"device_id":"a","battery_level":-5}]`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTelemetry_BadRequests(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/telemetry", `{nope`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/telemetry", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = s.do(http.MethodGet, "/api/telemetry", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTelemetry_BodyTooLarge(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	NewTelemetryHandler(TelemetryConfig{
		Ingester:    ingest.NewPipeline(ingest.Config{Sensors: s.store.Sensors(), Readings: s.store.Readings(), Evaluator: nopEvaluator{}, Pool: s.pool}),
		MaxBodySize: 16,
	}).Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/telemetry",
		strings.NewReader(`{"device_id":"a-very-long-device-identifier"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestAlerts_GetListResolve(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	a, err := s.store.Alerts().Save(ctx, &models.Alert{
		DeviceID: "sat-1", Category: models.CategoryStatus, Severity: models.SeverityWarning,
		Message: "offline", CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	rec := s.do(http.MethodGet, "/api/alerts/unresolved", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Count int `json:"count"`
	}](t, rec)
	assert.Equal(t, 1, list.Count)

	rec = s.do(http.MethodGet, "/api/alerts/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, a.ID, decode[models.Alert](t, rec).ID)

	rec = s.do(http.MethodPost, "/api/alerts/1/resolve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[models.Alert](t, rec).Resolved)

	// second resolve is a no-op and publishes nothing
	rec = s.do(http.MethodPost, "/api/alerts/1/resolve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []models.AlertEventType{models.AlertEventResolved}, s.notifier.events)

	rec = s.do(http.MethodGet, "/api/alerts/unresolved", "")
	assert.Equal(t, 0, decode[struct {
		Count int `json:"count"`
	}](t, rec).Count)
}

func TestAlerts_NotFoundAndBadID(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/alerts/42", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/alerts/42/resolve", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/alerts/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/alerts/unresolved?limit=0", "").Code)
}

func TestSensors_CreateDeactivateActivate(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/sensors", `{"name":"roof thermistor","type":"thermometer"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[models.Sensor](t, rec)
	assert.True(t, created.Active)

	rec = s.do(http.MethodPost, "/api/sensors/1/deactivate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[models.Sensor](t, rec).Active)
	assert.Empty(t, s.trackers.forgotten)

	rec = s.do(http.MethodPost, "/api/sensors/1/activate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[models.Sensor](t, rec).Active)
	assert.Equal(t, []int64{1}, s.trackers.forgotten)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/sensors/9/activate", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/sensors", `{"name":" "}`).Code)
}

func TestAlerts_HistoryByDeviceSensorAndReading(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	sensorID := int64(4)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := s.store.Alerts().Save(ctx, &models.Alert{
			ReadingID: 11, SensorID: &sensorID, DeviceID: "sat-4",
			Category: models.CategoryBattery, Severity: models.SeverityCritical,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := s.store.Alerts().Resolve(ctx, 1, base.Add(time.Hour))
	require.NoError(t, err)

	rec := s.do(http.MethodGet, "/api/alerts/device/sat-4?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	byDevice := decode[[]models.Alert](t, rec)
	require.Len(t, byDevice, 2)
	assert.Equal(t, int64(3), byDevice[0].ID)

	rec = s.do(http.MethodGet, "/api/alerts/sensor/4?offset=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	bySensor := decode[[]models.Alert](t, rec)
	require.Len(t, bySensor, 1)
	assert.True(t, bySensor[0].Resolved)

	rec = s.do(http.MethodGet, "/api/alerts/telemetry/11", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Alert](t, rec), 3)

	rec = s.do(http.MethodGet, "/api/alerts/device/nobody", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/alerts/sensor/x", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/alerts/device/sat-4?offset=-1", "").Code)
}

func TestReadings_GetAndListByDevice(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := s.store.Readings().Save(ctx, &models.Reading{
			DeviceID: "sat-7", Timestamp: base.Add(time.Duration(i) * time.Hour), Temperature: floatPtr(20),
		})
		require.NoError(t, err)
	}

	rec := s.do(http.MethodGet, "/api/telemetry/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sat-7", decode[models.Reading](t, rec).DeviceID)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/telemetry/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/telemetry/abc", "").Code)

	rec = s.do(http.MethodGet, "/api/telemetry/device/sat-7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Reading](t, rec), 3)

	rec = s.do(http.MethodGet, "/api/telemetry/device/sat-7?from=2024-05-01T01:00:00Z&to=2024-05-01T02:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ranged := decode[[]models.Reading](t, rec)
	require.Len(t, ranged, 2)
	assert.Equal(t, int64(3), ranged[0].ID)

	assert.Equal(t, http.StatusBadRequest,
		s.do(http.MethodGet, "/api/telemetry/device/sat-7?from=yesterday", "").Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do(http.MethodGet, "/api/telemetry/device/sat-7?from=2024-05-02T00:00:00Z&to=2024-05-01T00:00:00Z", "").Code)
}

func floatPtr(f float64) *float64 { return &f }
