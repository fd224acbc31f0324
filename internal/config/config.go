// Package config loads service configuration from a YAML file, a .env file
// and FT_* environment variables, in that order of precedence (lowest
// first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"flight_tracker/internal/api"
	"flight_tracker/internal/flight"
	"flight_tracker/internal/logging"
	"flight_tracker/internal/mock"
	"flight_tracker/internal/normalize"
	"flight_tracker/internal/publish"
	"flight_tracker/internal/store"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the complete service configuration.
type Config struct {
	// Storage selects and configures the flight and trail store.
	Storage StorageConfig `yaml:"storage"`

	// Source configures the upstream feed.
	Source SourceConfig `yaml:"source"`

	// Ingest controls tick timing.
	Ingest IngestConfig `yaml:"ingest"`

	// Retention controls the sweep run after every tick.
	Retention RetentionConfig `yaml:"retention"`

	// API configures the HTTP server.
	API api.Config `yaml:"api"`

	// Archive is the optional ClickHouse position archive.
	Archive store.ClickHouseConfig `yaml:"archive"`

	// NATS is the optional update publisher.
	NATS publish.Config `yaml:"nats"`

	// Log configures logging.
	Log logging.Config `yaml:"log"`
}

// StorageConfig selects the store backend.
type StorageConfig struct {
	// Backend is sqlite or postgres.
	Backend string `yaml:"backend"`

	// Path is the SQLite database file. ":memory:" keeps state in memory.
	Path string `yaml:"path"`

	Postgres store.PostgresConfig `yaml:"postgres"`
}

// SourceConfig configures the upstream feed.
type SourceConfig struct {
	// Type is a registered adapter (opensky, faa) or mock.
	Type     string        `yaml:"type"`
	URL      string        `yaml:"url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`

	// Bounds restricts OpenSky queries and places mock aircraft.
	Bounds BoundsConfig `yaml:"bounds"`

	// MockCount and MockSeed configure the synthetic fleet.
	MockCount int    `yaml:"mock_count"`
	MockSeed  uint64 `yaml:"mock_seed"`
}

// BoundsConfig is a latitude/longitude box. All zero means unset.
type BoundsConfig struct {
	MinLat float64 `yaml:"min_lat"`
	MinLon float64 `yaml:"min_lon"`
	MaxLat float64 `yaml:"max_lat"`
	MaxLon float64 `yaml:"max_lon"`
}

// IsZero reports whether no bounds were configured.
func (b BoundsConfig) IsZero() bool {
	return b == BoundsConfig{}
}

// Bound converts the box to an orb.Bound.
func (b BoundsConfig) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLon, b.MinLat},
		Max: orb.Point{b.MaxLon, b.MaxLat},
	}
}

// IngestConfig controls tick timing.
type IngestConfig struct {
	Interval     time.Duration `yaml:"interval"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// RetentionConfig controls the sweep.
type RetentionConfig struct {
	// MaxAge is the staleness cutoff for reads and sweeps.
	MaxAge time.Duration `yaml:"max_age"`

	// MaxTrailPoints caps each flight's trail.
	MaxTrailPoints int `yaml:"max_trail_points"`
}

// DefaultConfig returns a configuration that runs the mock source against a
// local SQLite file.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: BackendSQLite,
			Path:    "flights.db",
			Postgres: store.PostgresConfig{
				Port: 5432,
			},
		},
		Source: SourceConfig{
			Type:      mock.Source,
			Timeout:   8 * time.Second,
			MockCount: 50,
			MockSeed:  1,
		},
		Ingest: IngestConfig{
			Interval:     10 * time.Second,
			FetchTimeout: 8 * time.Second,
		},
		Retention: RetentionConfig{
			MaxAge:         5 * time.Minute,
			MaxTrailPoints: flight.DefaultMaxTrailPoints,
		},
		API: api.Config{
			Addr:           ":8080",
			RequestTimeout: 30 * time.Second,
		},
		Archive: store.ClickHouseConfig{
			Port:     9000,
			Database: "default",
		},
		NATS: publish.Config{
			Subject: "flights.updates",
		},
		Log: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a configuration from defaults, the YAML file at path (if
// non-empty), .env in the working directory (if present) and the process
// environment, then validates it.
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

	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case BackendPostgres:
		if !c.Storage.Postgres.Enabled() {
			errs = append(errs, errors.New("storage.postgres.host is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be sqlite or postgres", c.Storage.Backend))
	}

	if c.Source.Type == mock.Source {
		if c.Source.MockCount <= 0 {
			errs = append(errs, errors.New("source.mock_count must be positive"))
		}
	} else {
		if _, err := normalize.ParseSource(c.Source.Type); err != nil {
			errs = append(errs, fmt.Errorf("source.type: %w", err))
		}
		if c.Source.URL == "" {
			errs = append(errs, errors.New("source.url is required"))
		}
	}

	if b := c.Source.Bounds; !b.IsZero() {
		if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
			errs = append(errs, errors.New("source.bounds: min must be below max"))
		}
		if b.MinLat < -90 || b.MaxLat > 90 || b.MinLon < -180 || b.MaxLon > 180 {
			errs = append(errs, errors.New("source.bounds: out of range"))
		}
	}

	if c.Ingest.Interval <= 0 {
		errs = append(errs, errors.New("ingest.interval must be positive"))
	}
	if c.Ingest.FetchTimeout <= 0 {
		errs = append(errs, errors.New("ingest.fetch_timeout must be positive"))
	} else if c.Ingest.FetchTimeout > c.Ingest.Interval {
		errs = append(errs, errors.New("ingest.fetch_timeout must not exceed ingest.interval"))
	}

	if c.Retention.MaxAge <= 0 {
		errs = append(errs, errors.New("retention.max_age must be positive"))
	}
	if c.Retention.MaxTrailPoints <= 0 {
		errs = append(errs, errors.New("retention.max_trail_points must be positive"))
	}

	if c.API.AuthEnabled && len(c.API.APIKeys) == 0 {
		errs = append(errs, errors.New("api.api_keys is required when auth is enabled"))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
