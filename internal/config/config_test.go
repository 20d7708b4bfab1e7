package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesReferenceBounds(t *testing.T) {
	cfg := Default()

	assert.Equal(t, -50.0, cfg.Alerts.MinTemperature)
	assert.Equal(t, 100.0, cfg.Alerts.MaxTemperature)
	assert.Equal(t, 10.0, cfg.Alerts.CriticalBatteryLevel)
	assert.Equal(t, -120.0, cfg.Alerts.MinSignalStrength)
	assert.Equal(t, 5, cfg.Alerts.Suppression.Count)
	assert.Equal(t, 30*time.Minute, cfg.Alerts.Suppression.Window)
	assert.True(t, cfg.Alerts.SensorDeactivationEnabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StorageBackend)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemon.yaml")
	body := `
storage_backend: postgres
alerts:
  max_temperature: 80
  suppression:
    window: 10m
    count: 3
  sensor_deactivation_enabled: false
kafka:
  brokers: ["k1:9092", "k2:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.StorageBackend)
	assert.Equal(t, 80.0, cfg.Alerts.MaxTemperature)
	assert.Equal(t, -50.0, cfg.Alerts.MinTemperature)
	assert.Equal(t, 10*time.Minute, cfg.Alerts.Suppression.Window)
	assert.Equal(t, 3, cfg.Alerts.Suppression.Count)
	assert.False(t, cfg.Alerts.SensorDeactivationEnabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("ALERTS_SUPPRESSION_COUNT", "7")
	t.Setenv("ALERTS_SUPPRESSION_WINDOW", "90s")
	t.Setenv("KAFKA_BROKERS", "a:1,b:2")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Alerts.Suppression.Count)
	assert.Equal(t, 90*time.Second, cfg.Alerts.Suppression.Window)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
}

func TestValidate_RejectsBadSettings(t *testing.T) {
	cases := map[string]func(*Config){
		"inverted temperature": func(c *Config) { c.Alerts.MinTemperature = 200 },
		"zero count":           func(c *Config) { c.Alerts.Suppression.Count = 0 },
		"zero window":          func(c *Config) { c.Alerts.Suppression.Window = 0 },
		"unknown backend":      func(c *Config) { c.StorageBackend = "clickhouse" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	dsn := Default().Database.DSN()
	assert.Equal(t, "host=localhost port=5432 user=postgres password=postgres dbname=telemetry sslmode=disable", dsn)
}
