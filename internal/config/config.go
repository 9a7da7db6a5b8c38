// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/geospaas-harvester/internal/ingest"
)

// ConfigurationError reports a missing or malformed setting. It is fatal at
// startup, before any target runs.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func invalid(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

// Config captures all harvester settings.
type Config struct {
	Logging                LoggingConfig             `mapstructure:"logging"`
	Endless                bool                      `mapstructure:"endless"`
	PollIntervalSeconds    int                       `mapstructure:"poll_interval"`
	ShutdownGraceSeconds   int                       `mapstructure:"shutdown_grace_seconds"`
	StrictSearchParameters bool                      `mapstructure:"strict_search_parameters"`
	UpdateVocabularies     bool                      `mapstructure:"update_vocabularies"`
	UpdatePythesint        bool                      `mapstructure:"update_pythesint"`
	PythesintVersions      map[string]string         `mapstructure:"pythesint_versions"`
	StateDir               string                    `mapstructure:"state_dir"`
	Quarantine             QuarantineConfig          `mapstructure:"quarantine"`
	Catalog                CatalogConfig             `mapstructure:"catalog"`
	Ingester               ingest.Config             `mapstructure:"ingester"`
	HTTP                   HTTPConfig                `mapstructure:"http"`
	PubSub                 PubSubConfig              `mapstructure:"pubsub"`
	Metrics                MetricsConfig             `mapstructure:"metrics"`
	Providers              map[string]map[string]any `mapstructure:"providers"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// QuarantineConfig selects where records that fail normalization go.
type QuarantineConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	// ReplayRounds and ReplayWaitSeconds bound the replay command. The wait
	// doubles after each round.
	ReplayRounds      int `mapstructure:"replay_rounds"`
	ReplayWaitSeconds int `mapstructure:"replay_wait_seconds"`
}

// CatalogConfig selects the dataset catalog.
type CatalogConfig struct {
	Backend                string `mapstructure:"backend"`
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int    `mapstructure:"max_conns"`
	MinConns               int    `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	CreateSchema           bool   `mapstructure:"create_schema"`
	ConnectionHeadroom     int    `mapstructure:"connection_headroom"`
}

// HTTPConfig configures remote repository requests.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	BackoffInitialMs  int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	UserAgent         string  `mapstructure:"user_agent"`
}

// PubSubConfig holds the dataset notification topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the metrics listener. An empty address disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, &ConfigurationError{Field: "file", Reason: "cannot read " + path, Err: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &ConfigurationError{Field: "file", Reason: "cannot decode " + path, Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("endless", false)
	v.SetDefault("poll_interval", 600)
	v.SetDefault("shutdown_grace_seconds", 30)
	v.SetDefault("strict_search_parameters", true)
	v.SetDefault("update_vocabularies", true)
	v.SetDefault("update_pythesint", false)
	v.SetDefault("state_dir", "state")
	v.SetDefault("quarantine.backend", "none")
	v.SetDefault("quarantine.dir", "quarantine")
	v.SetDefault("quarantine.prefix", "quarantine")
	v.SetDefault("quarantine.use_ssl", true)
	v.SetDefault("quarantine.replay_rounds", 5)
	v.SetDefault("quarantine.replay_wait_seconds", 60)
	v.SetDefault("catalog.backend", "postgres")
	v.SetDefault("catalog.table", "datasets")
	v.SetDefault("catalog.max_conns", 10)
	v.SetDefault("catalog.min_conns", 0)
	v.SetDefault("catalog.max_conn_lifetime_seconds", 1800)
	v.SetDefault("catalog.create_schema", true)
	v.SetDefault("catalog.connection_headroom", 2)
	v.SetDefault("ingester.fetch_workers", 1)
	v.SetDefault("ingester.write_workers", 1)
	v.SetDefault("ingester.queue_capacity", 500)
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 30000)
	v.SetDefault("http.requests_per_second", 5)
	v.SetDefault("http.user_agent", "geospaas-harvester/1.0")
	v.SetDefault("metrics.addr", "")
}

var (
	quarantineBackends = []string{"none", "local", "gcs", "s3", "memory"}
	catalogBackends    = []string{"postgres", "sqlite", "memory"}
)

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.PollIntervalSeconds <= 0 {
		return invalid("poll_interval", "must be > 0")
	}
	if c.ShutdownGraceSeconds <= 0 {
		return invalid("shutdown_grace_seconds", "must be > 0")
	}
	if strings.TrimSpace(c.StateDir) == "" {
		return invalid("state_dir", "is required")
	}
	if !oneOf(c.Quarantine.Backend, quarantineBackends) {
		return invalid("quarantine.backend", fmt.Sprintf("unknown backend %q", c.Quarantine.Backend))
	}
	switch c.Quarantine.Backend {
	case "local":
		if c.Quarantine.Dir == "" {
			return invalid("quarantine.dir", "is required for the local backend")
		}
	case "gcs", "s3":
		if c.Quarantine.Bucket == "" {
			return invalid("quarantine.bucket", "is required for the "+c.Quarantine.Backend+" backend")
		}
		if c.Quarantine.Backend == "s3" && c.Quarantine.Endpoint == "" {
			return invalid("quarantine.endpoint", "is required for the s3 backend")
		}
	}
	if c.Quarantine.ReplayRounds < 0 {
		return invalid("quarantine.replay_rounds", "must not be negative")
	}
	if c.Quarantine.ReplayWaitSeconds < 0 {
		return invalid("quarantine.replay_wait_seconds", "must not be negative")
	}
	if !oneOf(c.Catalog.Backend, catalogBackends) {
		return invalid("catalog.backend", fmt.Sprintf("unknown backend %q", c.Catalog.Backend))
	}
	if c.Catalog.Backend != "memory" && c.Catalog.DSN == "" {
		return invalid("catalog.dsn", "is required for the "+c.Catalog.Backend+" backend")
	}
	if c.Catalog.MaxConns < 0 || c.Catalog.ConnectionHeadroom < 0 {
		return invalid("catalog.max_conns", "connection limits must not be negative")
	}
	if c.Ingester.FetchWorkers <= 0 {
		return invalid("ingester.fetch_workers", "must be > 0")
	}
	if c.Ingester.WriteWorkers <= 0 {
		return invalid("ingester.write_workers", "must be > 0")
	}
	if c.Ingester.QueueCapacity <= 0 {
		return invalid("ingester.queue_capacity", "must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return invalid("http.timeout_seconds", "must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return invalid("http.max_retries", "must not be negative")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return invalid("pubsub.project_id", "is required when pubsub.topic_name is set")
	}
	for name, entry := range c.Providers {
		if _, ok := entry["type"].(string); !ok {
			return invalid("providers."+name+".type", "is required")
		}
	}
	return nil
}

// PollInterval is the pause between endless cycles.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ShutdownGrace bounds how long shutdown waits for targets.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// Timeout is the per-request deadline.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// BackoffInitial is the first retry delay.
func (h HTTPConfig) BackoffInitial() time.Duration {
	return time.Duration(h.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps retry delays.
func (h HTTPConfig) BackoffMax() time.Duration {
	return time.Duration(h.BackoffMaxMs) * time.Millisecond
}

// ReplayWait is the pause after the first replay round.
func (q QuarantineConfig) ReplayWait() time.Duration {
	return time.Duration(q.ReplayWaitSeconds) * time.Second
}

// MaxConnLifetime converts the configured lifetime.
func (c CatalogConfig) MaxConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifetimeSeconds) * time.Second
}
