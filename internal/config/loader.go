package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration so tests can supply their own.
type Loader interface {
	Load(ctx context.Context) (*Config, error)
}

// EnvPrefix namespaces every environment override.
const EnvPrefix = "JOBTRACKER"

// ViperLoader layers an optional YAML file and environment variables over the
// built-in defaults.
type ViperLoader struct {
	path string
}

// NewViperLoader creates a loader. An empty path skips the file.
func NewViperLoader(path string) *ViperLoader {
	return &ViperLoader{path: path}
}

// Load reads, decodes and validates the configuration.
func (l *ViperLoader) Load(ctx context.Context) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.path != "" {
		v.SetConfigFile(l.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Load is a convenience wrapper around NewViperLoader(path).Load.
func Load(ctx context.Context, path string) (*Config, error) {
	return NewViperLoader(path).Load(ctx)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("web.api_host", "0.0.0.0")
	v.SetDefault("web.api_port", "6000")
	v.SetDefault("web.debug_host", "0.0.0.0:6010")
	v.SetDefault("web.read_timeout", "5s")
	v.SetDefault("web.write_timeout", "10s")
	v.SetDefault("web.idle_timeout", "120s")
	v.SetDefault("web.shutdown_timeout", "20s")

	v.SetDefault("log.level", "info")

	v.SetDefault("store.driver", string(StoreDriverMemory))
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.migrations_path", "db/migrations")
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.sqlite_path", "jobtracker.db")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_ttl", "168h")
	v.SetDefault("store.connect_attempts", 5)

	v.SetDefault("worker.base_url", "http://localhost:54321")
	v.SetDefault("worker.api_key", "")
	v.SetDefault("worker.functions.ai_training", "train-chatbot")
	v.SetDefault("worker.functions.job_search", "job-search")
	v.SetDefault("worker.ping_function", "")
	v.SetDefault("worker.timeout", "30s")
	v.SetDefault("worker.requests_per_second", 5.0)
	v.SetDefault("worker.burst", 5)

	v.SetDefault("poller.interval", "5s")
	v.SetDefault("poller.read_timeout", "30s")
	v.SetDefault("poller.write_timeout", "10s")
	v.SetDefault("poller.max_retries", 5)
	v.SetDefault("poller.max_backoff", "30s")
	v.SetDefault("poller.max_jitter", "1s")
	v.SetDefault("poller.not_found_tolerance", 2)
	v.SetDefault("poller.max_runtime", "30m")
	v.SetDefault("poller.idle_timeout", "10m")
	v.SetDefault("poller.estimator_interval", "1s")
	v.SetDefault("poller.max_trackers", 1024)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "job-events")
	v.SetDefault("kafka.client_id", "jobtracker")

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "jobtracker")
	v.SetDefault("telemetry.probability", 0.05)
}

// splitList flattens comma separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
