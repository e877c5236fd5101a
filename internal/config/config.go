// Package config loads the service configuration from defaults, an optional
// YAML file and JOBTRACKER_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"time"
)

// StoreDriver selects the job record store backend.
type StoreDriver string

const (
	StoreDriverMemory   StoreDriver = "memory"
	StoreDriverPostgres StoreDriver = "postgres"
	StoreDriverSQLite   StoreDriver = "sqlite"
	StoreDriverRedis    StoreDriver = "redis"
)

// Config represents the top-level configuration.
type Config struct {
	Web       WebConfig       `mapstructure:"web"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// WebConfig controls the HTTP API and debug listeners.
type WebConfig struct {
	APIHost         string        `mapstructure:"api_host"`
	APIPort         string        `mapstructure:"api_port"`
	DebugHost       string        `mapstructure:"debug_host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig sets the minimum log level: debug, info, warn or error.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// StoreConfig selects and configures the job record store.
type StoreConfig struct {
	Driver StoreDriver `mapstructure:"driver"`
	// DSN is the postgres connection string.
	DSN            string `mapstructure:"dsn"`
	MigrationsPath string `mapstructure:"migrations_path"`
	MinConns       int32  `mapstructure:"min_conns"`
	MaxConns       int32  `mapstructure:"max_conns"`

	SQLitePath string `mapstructure:"sqlite_path"`

	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`

	// ConnectAttempts bounds how long startup waits for the backend.
	ConnectAttempts int `mapstructure:"connect_attempts"`
}

// WorkerConfig points at the remote functions that run jobs.
type WorkerConfig struct {
	BaseURL           string            `mapstructure:"base_url"`
	APIKey            string            `mapstructure:"api_key"`
	Functions         map[string]string `mapstructure:"functions"`
	PingFunction      string            `mapstructure:"ping_function"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
	Burst             int               `mapstructure:"burst"`
}

// PollerConfig tunes polling, backoff and stall detection.
type PollerConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	MaxJitter         time.Duration `mapstructure:"max_jitter"`
	NotFoundTolerance int           `mapstructure:"not_found_tolerance"`
	MaxRuntime        time.Duration `mapstructure:"max_runtime"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	EstimatorInterval time.Duration `mapstructure:"estimator_interval"`
	MaxTrackers       int           `mapstructure:"max_trackers"`
}

// KafkaConfig enables terminal job event publishing when Brokers is set.
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

// Enabled reports whether events go to Kafka instead of the in-memory broker.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	Probability float64 `mapstructure:"probability"`
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	case StoreDriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case StoreDriverRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	if c.Worker.BaseURL == "" {
		errs = append(errs, errors.New("worker.base_url is required"))
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when kafka.brokers is set"))
	}
	if c.Telemetry.Probability < 0 || c.Telemetry.Probability > 1 {
		errs = append(errs, fmt.Errorf("telemetry.probability %v must be within [0, 1]", c.Telemetry.Probability))
	}

	return errors.Join(errs...)
}
