// Package config provides unified configuration loading for docstream.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for docstream.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Storage       StorageConfig       `yaml:"storage"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Summarizer    SummarizerConfig    `yaml:"summarizer"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Worker        WorkerConfig        `yaml:"worker"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// StorageConfig holds object store settings.
type StorageConfig struct {
	Driver     string           `yaml:"driver"` // gcs, filesystem or memory
	GCS        GCSConfig        `yaml:"gcs"`
	Filesystem FilesystemConfig `yaml:"filesystem"`
}

// GCSConfig holds Cloud Storage settings.
type GCSConfig struct {
	Bucket string `yaml:"bucket"`
}

// FilesystemConfig holds local blob store settings.
type FilesystemConfig struct {
	Root string `yaml:"root"`
}

// ExtractionConfig holds document layout-analysis service settings.
type ExtractionConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	APIVersion   string        `yaml:"api_version"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SummarizerConfig holds text-generation service settings. An empty
// endpoint or API key is valid and puts the summarizer in mock mode.
type SummarizerConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	Deployment string        `yaml:"deployment"`
	APIVersion string        `yaml:"api_version"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LedgerConfig holds fingerprint ledger settings.
type LedgerConfig struct {
	Driver string      `yaml:"driver"` // memory or redis
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	TempDir      string        `yaml:"temp_dir"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			MaxUploadBytes:   32 << 20,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/docstream.db",
				MaxOpenConns: 1,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Storage: StorageConfig{
			Driver: "filesystem",
			GCS: GCSConfig{
				Bucket: "docstream-documents",
			},
			Filesystem: FilesystemConfig{
				Root: "/tmp/docstream-blobs",
			},
		},
		Extraction: ExtractionConfig{
			Model:        "prebuilt-layout",
			APIVersion:   "2024-11-30",
			PollInterval: 2 * time.Second,
			Timeout:      5 * time.Minute,
		},
		Summarizer: SummarizerConfig{
			Deployment: "gpt-4.1",
			APIVersion: "2023-05-15",
			Timeout:    2 * time.Minute,
		},
		Ledger: LedgerConfig{
			Driver: "memory",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
				Prefix:   "docstream:",
			},
		},
		Worker: WorkerConfig{
			PollInterval: 15 * time.Second,
			MaxAttempts:  1,
			RetryBackoff: time.Minute,
			TempDir:      "",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "docstream",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("postgres driver requires a dsn")
	}

	switch c.Storage.Driver {
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("gcs storage driver requires a bucket")
		}
	case "filesystem":
		if c.Storage.Filesystem.Root == "" {
			return fmt.Errorf("filesystem storage driver requires a root")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid storage driver: %s", c.Storage.Driver)
	}

	if c.Ledger.Driver != "memory" && c.Ledger.Driver != "redis" {
		return fmt.Errorf("invalid ledger driver: %s", c.Ledger.Driver)
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be positive")
	}

	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker max_attempts must be at least 1")
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}

	if v := os.Getenv("STORAGE_BUCKET"); v != "" {
		cfg.Storage.GCS.Bucket = v
	}

	if v := os.Getenv("STORAGE_ROOT"); v != "" {
		cfg.Storage.Filesystem.Root = v
	}

	if v := os.Getenv("EXTRACTION_ENDPOINT"); v != "" {
		cfg.Extraction.Endpoint = v
	}

	if v := os.Getenv("EXTRACTION_API_KEY"); v != "" {
		cfg.Extraction.APIKey = v
	}

	if v := os.Getenv("SUMMARIZER_ENDPOINT"); v != "" {
		cfg.Summarizer.Endpoint = v
	}

	if v := os.Getenv("SUMMARIZER_API_KEY"); v != "" {
		cfg.Summarizer.APIKey = v
	}

	if v := os.Getenv("SUMMARIZER_DEPLOYMENT"); v != "" {
		cfg.Summarizer.Deployment = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Ledger.Driver = "redis"
		cfg.Ledger.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		var secs int
		if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs > 0 {
			cfg.Worker.PollInterval = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
