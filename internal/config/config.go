// Package config loads kitchensync configuration.
//
// Load layers, later layers winning:
//  1. Default()
//  2. a .env file next to the config file (or in the working directory)
//  3. the YAML config file
//  4. KITCHENSYNC_* environment variables
//
// The result is validated against the embedded CUE schema.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/kitchensync/internal/queue"
	"github.com/roach88/kitchensync/internal/store"
)

// Config is the complete runtime configuration.
type Config struct {
	Session     string            `yaml:"session" json:"session" env:"SESSION"`
	History     HistoryConfig     `yaml:"history" json:"history" envPrefix:"HISTORY_"`
	Persistence PersistenceConfig `yaml:"persistence" json:"persistence" envPrefix:"PERSISTENCE_"`
	Sync        SyncConfig        `yaml:"sync" json:"sync" envPrefix:"SYNC_"`
	Backend     BackendConfig     `yaml:"backend" json:"backend" envPrefix:"BACKEND_"`
	Network     NetworkConfig     `yaml:"network" json:"network" envPrefix:"NETWORK_"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics" envPrefix:"METRICS_"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" json:"telemetry" envPrefix:"TELEMETRY_"`
	Log         LogConfig         `yaml:"log" json:"log" envPrefix:"LOG_"`
}

type HistoryConfig struct {
	MaxSize int `yaml:"max_size" json:"max_size" env:"MAX_SIZE"`
}

type PersistenceConfig struct {
	Driver   string        `yaml:"driver" json:"driver" env:"DRIVER"`
	Path     string        `yaml:"path" json:"path" env:"PATH"`
	DSN      string        `yaml:"dsn" json:"dsn" env:"DSN"`
	RedisURL string        `yaml:"redis_url" json:"redis_url" env:"REDIS_URL"`
	MaxAge   time.Duration `yaml:"max_age" json:"max_age" env:"MAX_AGE"`

	// Autosave is a robfig/cron spec, e.g. "@every 30s". Empty disables it.
	Autosave string `yaml:"autosave" json:"autosave" env:"AUTOSAVE"`

	// LeaseTTL is how long the session stays locked after its holder's last
	// save. Every save renews it.
	LeaseTTL time.Duration `yaml:"lease_ttl" json:"lease_ttl" env:"LEASE_TTL"`
}

type SyncConfig struct {
	Interval   time.Duration `yaml:"interval" json:"interval" env:"INTERVAL"`
	BaseDelay  time.Duration `yaml:"base_delay" json:"base_delay" env:"BASE_DELAY"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay" env:"MAX_DELAY"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`

	// DeliveryRate limits deliveries per second. Zero means unlimited.
	DeliveryRate  float64 `yaml:"delivery_rate" json:"delivery_rate" env:"DELIVERY_RATE"`
	DeliveryBurst int     `yaml:"delivery_burst" json:"delivery_burst" env:"DELIVERY_BURST"`
	MaxSynced     int     `yaml:"max_synced" json:"max_synced" env:"MAX_SYNCED"`
}

type BackendConfig struct {
	URL     string        `yaml:"url" json:"url" env:"URL"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
}

type NetworkConfig struct {
	// ProbeURL defaults to the backend health endpoint.
	ProbeURL      string        `yaml:"probe_url" json:"probe_url" env:"PROBE_URL"`
	ProbeInterval time.Duration `yaml:"probe_interval" json:"probe_interval" env:"PROBE_INTERVAL"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" env:"LEVEL"`
	Format string `yaml:"format" json:"format" env:"FORMAT"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	policy := queue.DefaultRetryPolicy()
	return Config{
		Session: "default",
		History: HistoryConfig{MaxSize: 100},
		Persistence: PersistenceConfig{
			Driver:   store.DriverSQLite,
			Path:     "kitchensync.db",
			MaxAge:   24 * time.Hour,
			Autosave: "@every 30s",
			LeaseTTL: store.DefaultLeaseTTL,
		},
		Sync: SyncConfig{
			Interval:      15 * time.Second,
			BaseDelay:     policy.BaseDelay,
			MaxDelay:      policy.MaxDelay,
			MaxRetries:    policy.MaxRetries,
			DeliveryBurst: 1,
			MaxSynced:     queue.DefaultMaxSynced,
		},
		Backend: BackendConfig{
			URL:     "http://localhost:8080",
			Timeout: 10 * time.Second,
		},
		Network: NetworkConfig{ProbeInterval: 5 * time.Second},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. An empty path skips the YAML layer.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := loadDotEnv(path); err != nil {
		return cfg, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// loadDotEnv loads .env from the config file's directory, or the working
// directory when there is no config file. Variables already set win.
func loadDotEnv(configPath string) error {
	dir := "."
	if configPath != "" {
		dir = filepath.Dir(configPath)
	}
	path := filepath.Join(dir, ".env")

	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	slog.Debug("loaded .env file", "path", path)
	return nil
}

// RetryPolicy returns the queue backoff policy.
func (c Config) RetryPolicy() queue.RetryPolicy {
	return queue.RetryPolicy{
		BaseDelay:  c.Sync.BaseDelay,
		MaxDelay:   c.Sync.MaxDelay,
		MaxRetries: c.Sync.MaxRetries,
	}
}

// StoreOptions returns the persistence adapter options.
func (c Config) StoreOptions() store.Options {
	return store.Options{
		Driver:   c.Persistence.Driver,
		Session:  c.Session,
		Path:     c.Persistence.Path,
		DSN:      c.Persistence.DSN,
		RedisURL: c.Persistence.RedisURL,
		LeaseTTL: c.Persistence.LeaseTTL,
	}
}

// ProbeURL returns the connectivity probe target.
func (c Config) ProbeURL() string {
	if c.Network.ProbeURL != "" {
		return c.Network.ProbeURL
	}
	return strings.TrimSuffix(c.Backend.URL, "/") + "/healthz"
}

// LogLevel parses Log.Level. Unknown levels mean info.
func (c Config) LogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
