package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the telemetry service.
type Config struct {
	// HTTP listen address for ingest, admin, health and metrics endpoints
	HTTPAddr string `yaml:"http_addr"`

	// Log level: debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// Storage backend: postgres or memory
	StorageBackend string `yaml:"storage_backend"`

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Process  ProcessConfig  `yaml:"processing"`
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig configures the tracker checkpoint store. An empty Addr disables it.
type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	CheckpointKey string `yaml:"checkpoint_key"`
}

// KafkaConfig configures telemetry consumption and alert event publishing.
// An empty broker list disables Kafka entirely.
type KafkaConfig struct {
	Brokers        []string       `yaml:"brokers"`
	TelemetryTopic string         `yaml:"telemetry_topic"`
	AlertTopic     string         `yaml:"alert_topic"`
	GroupID        string         `yaml:"group_id"`
	Producer       ProducerConfig `yaml:"producer"`
}

// ProducerConfig tunes the alert event producer.
type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Compression  string        `yaml:"compression"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// MQTTConfig configures the MQTT telemetry subscriber. An empty Broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// AlertsConfig holds threshold bounds and suppression settings.
type AlertsConfig struct {
	MinTemperature       float64 `yaml:"min_temperature"`
	MaxTemperature       float64 `yaml:"max_temperature"`
	CriticalBatteryLevel float64 `yaml:"critical_battery_level"`
	MinSignalStrength    float64 `yaml:"min_signal_strength"`

	Suppression SuppressionConfig `yaml:"suppression"`

	// SensorDeactivationEnabled turns on chronic battery escalation.
	SensorDeactivationEnabled bool `yaml:"sensor_deactivation_enabled"`
}

// SuppressionConfig controls alert storm suppression per sensor and category.
type SuppressionConfig struct {
	Window time.Duration `yaml:"window"`
	Count  int           `yaml:"count"`

	// EvictAfter is how long a tracker may sit untouched before the janitor drops it.
	// Zero means three suppression windows.
	EvictAfter time.Duration `yaml:"evict_after"`

	// SweepInterval is how often the janitor runs. Zero means one suppression window.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ProcessConfig tunes asynchronous evaluation.
type ProcessConfig struct {
	// MaxInFlight bounds concurrent evaluations; 0 means one goroutine per packet.
	MaxInFlight int `yaml:"max_in_flight"`

	// TaskTimeout bounds one evaluation. 0 means no timeout.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// ReprocessInterval is how often unprocessed readings are resubmitted. 0 disables it.
	ReprocessInterval time.Duration `yaml:"reprocess_interval"`

	// BatchSize limits how many unprocessed readings one reprocess pass picks up.
	BatchSize int `yaml:"batch_size"`

	MaxBodySize int64 `yaml:"max_body_size"`
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		HTTPAddr:       ":8080",
		LogLevel:       "info",
		StorageBackend: "memory",
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "telemetry",
			SSLMode:  "disable",
			MaxConns: 20,
			MaxIdle:  5,
		},
		Redis: RedisConfig{
			CheckpointKey: "telemon:trackers",
		},
		Kafka: KafkaConfig{
			TelemetryTopic: "telemetry",
			AlertTopic:     "telemetry-alerts",
			GroupID:        "telemon",
			Producer: ProducerConfig{
				PoolSize:     4,
				BatchSize:    100,
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: 1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
		MQTT: MQTTConfig{
			ClientID: "telemon",
			Topic:    "sensors/+/telemetry",
			QoS:      1,
		},
		Alerts: AlertsConfig{
			MinTemperature:       -50.0,
			MaxTemperature:       100.0,
			CriticalBatteryLevel: 10.0,
			MinSignalStrength:    -120.0,
			Suppression: SuppressionConfig{
				Window: 30 * time.Minute,
				Count:  5,
			},
			SensorDeactivationEnabled: true,
		},
		Process: ProcessConfig{
			TaskTimeout:       30 * time.Second,
			ReprocessInterval: time.Minute,
			BatchSize:         100,
			MaxBodySize:       10 * 1024 * 1024,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if any),
// then environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse yaml: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.StorageBackend = getEnv("STORAGE_BACKEND", c.StorageBackend)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	c.Kafka.TelemetryTopic = getEnv("KAFKA_TELEMETRY_TOPIC", c.Kafka.TelemetryTopic)
	c.Kafka.AlertTopic = getEnv("KAFKA_ALERT_TOPIC", c.Kafka.AlertTopic)

	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Username = getEnv("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnv("MQTT_PASSWORD", c.MQTT.Password)

	c.Alerts.MinTemperature = getEnvFloat("ALERTS_TEMPERATURE_MIN", c.Alerts.MinTemperature)
	c.Alerts.MaxTemperature = getEnvFloat("ALERTS_TEMPERATURE_MAX", c.Alerts.MaxTemperature)
	c.Alerts.CriticalBatteryLevel = getEnvFloat("ALERTS_BATTERY_CRITICAL", c.Alerts.CriticalBatteryLevel)
	c.Alerts.MinSignalStrength = getEnvFloat("ALERTS_SIGNAL_MIN", c.Alerts.MinSignalStrength)
	c.Alerts.Suppression.Window = getEnvDuration("ALERTS_SUPPRESSION_WINDOW", c.Alerts.Suppression.Window)
	c.Alerts.Suppression.Count = getEnvInt("ALERTS_SUPPRESSION_COUNT", c.Alerts.Suppression.Count)
	c.Alerts.SensorDeactivationEnabled = getEnvBool("ALERTS_SENSOR_DEACTIVATION_ENABLED", c.Alerts.SensorDeactivationEnabled)

	c.Process.MaxInFlight = getEnvInt("PROCESS_MAX_IN_FLIGHT", c.Process.MaxInFlight)
	c.Process.ReprocessInterval = getEnvDuration("PROCESS_REPROCESS_INTERVAL", c.Process.ReprocessInterval)
}

// Validate rejects configurations the alert engine cannot run with.
func (c *Config) Validate() error {
	if c.Alerts.MinTemperature > c.Alerts.MaxTemperature {
		return fmt.Errorf("alerts: min_temperature %.2f exceeds max_temperature %.2f",
			c.Alerts.MinTemperature, c.Alerts.MaxTemperature)
	}
	if c.Alerts.Suppression.Count <= 0 {
		return errors.New("alerts: suppression count must be positive")
	}
	if c.Alerts.Suppression.Window <= 0 {
		return errors.New("alerts: suppression window must be positive")
	}
	switch c.StorageBackend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.AlertTopic == "" && c.Kafka.TelemetryTopic == "" {
		return errors.New("kafka: brokers set but no topics configured")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
