package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tripstore/internal/blob"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tripstore.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	opts := cfg.BlobOptions()
	if opts.Driver != blob.DriverFilesystem || opts.FSRoot != "./blobdata" {
		t.Fatalf("unexpected blob options %+v", opts)
	}
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  name: trips_v2
  blob:
    driver: s3
    s3:
      bucket: trips
      endpoint: http://minio:9000
      path_style: true
history:
  driver: badger
  path: /var/lib/tripstore/history
preferences:
  driver: postgres
  dsn: postgres://db/tripstore
metrics:
  exporter: prometheus
log:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Name != "trips_v2" || cfg.History.Driver != DriverBadger || cfg.Preferences.DSN != "postgres://db/tripstore" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Preferences.Scope != "tripstore" {
		t.Fatalf("unset keys should keep defaults, got scope %q", cfg.Preferences.Scope)
	}
	opts := cfg.BlobOptions()
	if opts.Driver != blob.DriverS3 || opts.S3.Bucket != "trips" || !opts.S3.PathStyle {
		t.Fatalf("unexpected s3 options %+v", opts.S3)
	}
	if lvl, _ := cfg.Log.SlogLevel(); lvl != slog.LevelDebug {
		t.Fatalf("unexpected level %v", lvl)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRIPSTORE_HISTORY_DRIVER", "memory")
	t.Setenv("TRIPSTORE_BLOB_DRIVER", "memory")
	t.Setenv("TRIPSTORE_S3_PATH_STYLE", "true")
	t.Setenv("TRIPSTORE_LOG_LEVEL", "warn")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.History.Driver != DriverMemory || cfg.Store.Blob.Driver != "memory" || !cfg.Store.Blob.S3.PathStyle {
		t.Fatalf("env not applied: %+v", cfg)
	}

	c := Default()
	lookup := func(key string) (string, bool) {
		if key == "TRIPSTORE_S3_PATH_STYLE" {
			return "maybe", true
		}
		return "", false
	}
	if err := c.ApplyEnv(lookup); err == nil {
		t.Fatalf("expected bool parse error")
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"name", func(c *Config) { c.Store.Name = "" }, "store.name"},
		{"blob", func(c *Config) { c.Store.Blob.Driver = "ftp" }, "blob driver"},
		{"bucket", func(c *Config) { c.Store.Blob.Driver = "s3" }, "bucket"},
		{"history", func(c *Config) { c.History.Driver = "redis" }, "history driver"},
		{"history path", func(c *Config) { c.History.Path = "" }, "history.path"},
		{"preferences", func(c *Config) { c.Preferences.Driver = "plist" }, "preferences driver"},
		{"metrics", func(c *Config) { c.Metrics.Exporter = "statsd" }, "metrics exporter"},
		{"log", func(c *Config) { c.Log.Level = "loud" }, "log level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
	if _, err := Load(writeConfig(t, "store: [")); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := Load(writeConfig(t, "history:\n  driver: redis\n")); err == nil {
		t.Fatalf("expected validation error")
	}
}
