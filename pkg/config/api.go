package config

import (
	"fmt"
	"time"
)

// ServerConfig contains the serving layer HTTP settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	CacheTTL    string          `yaml:"cache_ttl,omitempty" mapstructure:"cache_ttl"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// PublishConfig configures where database snapshots are published after
// an ingestion run.
type PublishConfig struct {
	S3 *S3PublishConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3PublishConfig contains S3 settings for database snapshot uploads.
type S3PublishConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// Validate checks the database driver settings.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "sqlite":
		if c.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Driver)
	}

	return nil
}

// ValidateServer checks the configuration required by the serving layer.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}

	if _, err := time.ParseDuration(c.Server.CacheTTL); err != nil {
		return fmt.Errorf("server.cache_ttl: %w", err)
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf(
			"server.rate_limit.requests_per_minute must be at least 1",
		)
	}

	return nil
}

// ValidatePublish checks the configuration required to publish a
// database snapshot.
func (c *Config) ValidatePublish() error {
	if c.Publish.S3 == nil || !c.Publish.S3.Enabled {
		return fmt.Errorf("publish.s3 is not enabled")
	}

	if c.Publish.S3.Bucket == "" {
		return fmt.Errorf("publish.s3.bucket is required")
	}

	if c.Database.Driver != "sqlite" {
		return fmt.Errorf(
			"publishing requires the sqlite driver, got %q", c.Database.Driver,
		)
	}

	return nil
}

// GetCacheTTL returns the parsed lifetime of cached lookups.
func (c *ServerConfig) GetCacheTTL() time.Duration {
	return parseDurationOr(c.CacheTTL, DefaultCacheTTL)
}
