// Package config loads tripstore settings from a YAML file and TRIPSTORE_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"tripstore/internal/blob"
	"tripstore/internal/infra/blob/s3"
)

// Backend names accepted by the history and preferences sections.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

// Metrics exporters.
const (
	MetricsExpvar     = "expvar"
	MetricsPrometheus = "prometheus"
	MetricsNone       = "none"
)

// Config is the full tripstore configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store"`
	History     HistoryConfig     `yaml:"history"`
	Preferences PreferencesConfig `yaml:"preferences"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// StoreConfig names the document container and where its blob lives.
type StoreConfig struct {
	Name string     `yaml:"name"`
	Key  string     `yaml:"key"`
	Blob BlobConfig `yaml:"blob"`
}

// BlobConfig selects the blob backend.
type BlobConfig struct {
	Driver string   `yaml:"driver"`
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

// S3Config mirrors s3.Config.
type S3Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	PathStyle       bool   `yaml:"path_style"`
}

// HistoryConfig selects the transaction log: memory, sqlite or badger.
type HistoryConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// PreferencesConfig selects the preference store: memory, sqlite or postgres.
type PreferencesConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
	Scope  string `yaml:"scope"`
}

// MetricsConfig selects the metrics exporter.
type MetricsConfig struct {
	Exporter string `yaml:"exporter"`
}

// LogConfig sets the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the local single-machine setup: filesystem blob, SQLite
// history and preferences, expvar metrics.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Name: "trips",
			Blob: BlobConfig{Driver: string(blob.DriverFilesystem), FSRoot: "./blobdata"},
		},
		History:     HistoryConfig{Driver: DriverSQLite, Path: "tripstore.db"},
		Preferences: PreferencesConfig{Driver: DriverSQLite, Path: "tripstore.db", Scope: "tripstore"},
		Metrics:     MetricsConfig{Exporter: MetricsExpvar},
		Log:         LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays TRIPSTORE_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"TRIPSTORE_STORE_NAME":           &c.Store.Name,
		"TRIPSTORE_STORE_KEY":            &c.Store.Key,
		"TRIPSTORE_BLOB_DRIVER":          &c.Store.Blob.Driver,
		"TRIPSTORE_BLOB_FS_ROOT":         &c.Store.Blob.FSRoot,
		"TRIPSTORE_S3_REGION":            &c.Store.Blob.S3.Region,
		"TRIPSTORE_S3_BUCKET":            &c.Store.Blob.S3.Bucket,
		"TRIPSTORE_S3_PREFIX":            &c.Store.Blob.S3.Prefix,
		"TRIPSTORE_S3_ENDPOINT":          &c.Store.Blob.S3.Endpoint,
		"TRIPSTORE_S3_ACCESS_KEY_ID":     &c.Store.Blob.S3.AccessKeyID,
		"TRIPSTORE_S3_SECRET_ACCESS_KEY": &c.Store.Blob.S3.SecretAccessKey,
		"TRIPSTORE_S3_SESSION_TOKEN":     &c.Store.Blob.S3.SessionToken,
		"TRIPSTORE_HISTORY_DRIVER":       &c.History.Driver,
		"TRIPSTORE_HISTORY_PATH":         &c.History.Path,
		"TRIPSTORE_PREFERENCES_DRIVER":   &c.Preferences.Driver,
		"TRIPSTORE_PREFERENCES_PATH":     &c.Preferences.Path,
		"TRIPSTORE_PREFERENCES_DSN":      &c.Preferences.DSN,
		"TRIPSTORE_PREFERENCES_SCOPE":    &c.Preferences.Scope,
		"TRIPSTORE_METRICS":              &c.Metrics.Exporter,
		"TRIPSTORE_LOG_LEVEL":            &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("TRIPSTORE_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TRIPSTORE_S3_PATH_STYLE: %w", err)
		}
		c.Store.Blob.S3.PathStyle = b
	}
	return nil
}

// Validate rejects unknown drivers and missing required settings.
func (c Config) Validate() error {
	var errs []error
	if c.Store.Name == "" {
		errs = append(errs, errors.New("store.name is required"))
	}
	switch blob.Driver(c.Store.Blob.Driver) {
	case blob.DriverFilesystem, blob.DriverMemory, "":
	case blob.DriverS3:
		if c.Store.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("store.blob.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Store.Blob.Driver))
	}
	switch c.History.Driver {
	case DriverMemory:
	case DriverSQLite, DriverBadger:
		if c.History.Path == "" {
			errs = append(errs, fmt.Errorf("history.path is required for the %s driver", c.History.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown history driver %q", c.History.Driver))
	}
	switch c.Preferences.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Preferences.Path == "" {
			errs = append(errs, errors.New("preferences.path is required for the sqlite driver"))
		}
	case DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown preferences driver %q", c.Preferences.Driver))
	}
	switch c.Metrics.Exporter {
	case MetricsExpvar, MetricsPrometheus, MetricsNone, "":
	default:
		errs = append(errs, fmt.Errorf("unknown metrics exporter %q", c.Metrics.Exporter))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// BlobOptions converts the blob section for blob.Open.
func (c Config) BlobOptions() blob.Options {
	s := c.Store.Blob.S3
	return blob.Options{
		Driver: blob.Driver(c.Store.Blob.Driver),
		FSRoot: c.Store.Blob.FSRoot,
		S3: s3.Config{
			Region:          s.Region,
			Bucket:          s.Bucket,
			Prefix:          s.Prefix,
			Endpoint:        s.Endpoint,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
			SessionToken:    s.SessionToken,
			PathStyle:       s.PathStyle,
		},
	}
}

// SlogLevel parses the level name; empty means info.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", l.Level)
	}
}
