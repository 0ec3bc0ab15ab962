package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// GREINMIRROR_INGEST_CONCURRENCY=8.
	EnvPrefix = "GREINMIRROR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultDatabaseDriver is the default database driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default SQLite database location.
	DefaultSQLitePath = "./grein.db"

	// DefaultRequestTimeout is the default HTTP timeout for remote requests.
	DefaultRequestTimeout = "120s"

	// DefaultMaxDatasets is the default upper bound of catalog entries
	// considered per ingestion run.
	DefaultMaxDatasets = 1000000

	// DefaultMaxRetries is the default number of fetch attempts per dataset.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the default fixed delay between fetch attempts.
	DefaultRetryDelay = "5s"

	// DefaultFetchTimeout is the default wall-clock bound of a single
	// fetch attempt.
	DefaultFetchTimeout = "300s"

	// DefaultConcurrency is the default number of parallel fetch workers.
	DefaultConcurrency = 4

	// DefaultListen is the default serving layer listen address.
	DefaultListen = ":8080"

	// DefaultCacheTTL is the default lifetime of cached dataset lookups.
	DefaultCacheTTL = "10m"

	// DefaultPublishPrefix is the default S3 key prefix for published
	// database snapshots.
	DefaultPublishPrefix = "greinmirror"
)

// Config is the root configuration for greinmirror.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Source   SourceConfig   `yaml:"source" mapstructure:"source"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Publish  PublishConfig  `yaml:"publish,omitempty" mapstructure:"publish"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// SourceConfig describes how to reach the remote GREIN catalog.
type SourceConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	RequestTimeout    string  `yaml:"request_timeout,omitempty" mapstructure:"request_timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" mapstructure:"requests_per_second"`
}

// IngestConfig controls a single ingestion run.
type IngestConfig struct {
	MaxDatasets  int    `yaml:"max_datasets" mapstructure:"max_datasets"`
	MaxRetries   int    `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay   string `yaml:"retry_delay" mapstructure:"retry_delay"`
	FetchTimeout string `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	Concurrency  int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// Load reads and merges the configuration files in order, applies
// defaults and GREINMIRROR_* environment overrides. With no paths the
// configuration consists of defaults and environment only.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers a default for every key. Viper only resolves
// environment overrides for keys it knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("database.driver", DefaultDatabaseDriver)
	v.SetDefault("database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "greinmirror")
	v.SetDefault("database.postgres.ssl_mode", "disable")

	v.SetDefault("source.base_url", "")
	v.SetDefault("source.request_timeout", DefaultRequestTimeout)
	v.SetDefault("source.requests_per_second", 0)

	v.SetDefault("ingest.max_datasets", DefaultMaxDatasets)
	v.SetDefault("ingest.max_retries", DefaultMaxRetries)
	v.SetDefault("ingest.retry_delay", DefaultRetryDelay)
	v.SetDefault("ingest.fetch_timeout", DefaultFetchTimeout)
	v.SetDefault("ingest.concurrency", DefaultConcurrency)

	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.cache_ttl", DefaultCacheTTL)
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.requests_per_minute", 600)

	v.SetDefault("publish.s3.enabled", false)
	v.SetDefault("publish.s3.endpoint_url", "")
	v.SetDefault("publish.s3.region", "")
	v.SetDefault("publish.s3.bucket", "")
	v.SetDefault("publish.s3.prefix", DefaultPublishPrefix)
	v.SetDefault("publish.s3.access_key_id", "")
	v.SetDefault("publish.s3.secret_access_key", "")
	v.SetDefault("publish.s3.force_path_style", false)
}

// Validate checks the settings shared by every command.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("global.log_level: %w", err)
	}

	return c.Database.Validate()
}

// ValidateIngest checks the configuration required by an ingestion run.
func (c *Config) ValidateIngest() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}

	if _, err := time.ParseDuration(c.Source.RequestTimeout); err != nil {
		return fmt.Errorf("source.request_timeout: %w", err)
	}

	if c.Source.RequestsPerSecond < 0 {
		return fmt.Errorf("source.requests_per_second must not be negative")
	}

	if c.Ingest.MaxDatasets < 1 {
		return fmt.Errorf("ingest.max_datasets must be at least 1")
	}

	if c.Ingest.MaxRetries < 1 {
		return fmt.Errorf("ingest.max_retries must be at least 1")
	}

	if c.Ingest.Concurrency < 1 {
		return fmt.Errorf("ingest.concurrency must be at least 1")
	}

	if d, err := time.ParseDuration(c.Ingest.RetryDelay); err != nil {
		return fmt.Errorf("ingest.retry_delay: %w", err)
	} else if d < 0 {
		return fmt.Errorf("ingest.retry_delay must not be negative")
	}

	if d, err := time.ParseDuration(c.Ingest.FetchTimeout); err != nil {
		return fmt.Errorf("ingest.fetch_timeout: %w", err)
	} else if d <= 0 {
		return fmt.Errorf("ingest.fetch_timeout must be positive")
	}

	if c.Publish.S3 != nil && c.Publish.S3.Enabled {
		if err := c.ValidatePublish(); err != nil {
			return err
		}
	}

	return nil
}

// GetRequestTimeout returns the parsed remote request timeout.
func (c *SourceConfig) GetRequestTimeout() time.Duration {
	return parseDurationOr(c.RequestTimeout, DefaultRequestTimeout)
}

// GetRetryDelay returns the parsed delay between fetch attempts.
func (c *IngestConfig) GetRetryDelay() time.Duration {
	return parseDurationOr(c.RetryDelay, DefaultRetryDelay)
}

// GetFetchTimeout returns the parsed per-attempt fetch timeout.
func (c *IngestConfig) GetFetchTimeout() time.Duration {
	return parseDurationOr(c.FetchTimeout, DefaultFetchTimeout)
}

func parseDurationOr(value, fallback string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}

	d, _ := time.ParseDuration(fallback)

	return d
}
