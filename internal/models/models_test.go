package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func int64Ptr(i int64) *int64 { return &i }

func TestReadingNormalize(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	r := &Reading{
		DeviceID:  "  sat-7  ",
		Message:   "  nominal  ",
		Status:    " low-power ",
		Timestamp: time.Date(2024, 1, 15, 12, 0, 0, 0, loc),
	}

	r.Normalize()

	assert.Equal(t, "sat-7", r.DeviceID)
	assert.Equal(t, "nominal", r.Message)
	assert.Equal(t, StatusLowPower, r.Status)
	assert.Equal(t, time.UTC, r.Timestamp.Location())
	assert.Equal(t, 10, r.Timestamp.Hour())
}

func TestReadingValidate(t *testing.T) {
	tests := []struct {
		name    string
		reading Reading
		wantErr error
	}{
		{"valid", Reading{DeviceID: "d1", Temperature: floatPtr(20)}, nil},
		{"missing device", Reading{}, ErrEmptyDeviceID},
		{"future timestamp", Reading{DeviceID: "d1", Timestamp: time.Now().Add(time.Hour)}, ErrFutureTimestamp},
		{"bad status", Reading{DeviceID: "d1", Status: "EXPLODED"}, ErrInvalidStatus},
		{"battery above 100", Reading{DeviceID: "d1", BatteryLevel: floatPtr(101)}, ErrBatteryOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.reading.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestReadingOrigin(t *testing.T) {
	raw := &Reading{DeviceID: "dev-1"}
	id, ok := raw.Origin().Sensor()
	assert.False(t, ok)
	assert.Zero(t, id)
	assert.Equal(t, "device:dev-1", raw.Origin().String())

	bound := &Reading{DeviceID: "dev-1", SensorID: int64Ptr(42)}
	id, ok = bound.Origin().Sensor()
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "sensor:42", bound.Origin().String())
}

func TestReadingAddAlert(t *testing.T) {
	r := &Reading{ID: 9, DeviceID: "dev-1", SensorID: int64Ptr(3)}
	a := &Alert{Category: CategoryBattery}

	r.AddAlert(a)

	require.Len(t, r.Alerts, 1)
	assert.Equal(t, int64(9), a.ReadingID)
	assert.Equal(t, "dev-1", a.DeviceID)
	assert.Equal(t, int64(3), *a.SensorID)
}

func TestAlertResolve_SetsResolvedAtOnce(t *testing.T) {
	a := &Alert{}
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, a.Resolve(first))
	assert.False(t, a.Resolve(first.Add(time.Hour)))
	assert.True(t, a.Resolved)
	require.NotNil(t, a.ResolvedAt)
	assert.Equal(t, first, *a.ResolvedAt)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"RFC3339", "2024-01-15T10:30:00Z", false},
		{"RFC3339Nano", "2024-01-15T10:30:00.123456789Z", false},
		{"datetime with T", "2024-01-15T10:30:00", false},
		{"datetime with space", "2024-01-15 10:30:00", false},
		{"with whitespace", "  2024-01-15T10:30:00Z  ", false},
		{"invalid", "not-a-timestamp", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := ParseTimestamp(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTimestamp)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, time.UTC, ts.Location())
		})
	}
}

func TestNewAlertEvent(t *testing.T) {
	a := &Alert{DeviceID: "dev-9", Category: CategorySignal}

	ev := NewAlertEvent(AlertEventRaised, a, "node-a")

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "dev-9", ev.PartitionKey)
	assert.Equal(t, AlertEventRaised, ev.Type)
	assert.Same(t, a, ev.Alert)
}
