package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"hustbus.dev/transit/config"
	"hustbus.dev/transit/parse"
	"hustbus.dev/transit/storage"
)

// Blanks out any TRANSIT_* variables from the surrounding
// environment.
func clearEnv(t *testing.T) {
	for _, key := range []string{
		"TRANSIT_STORAGE",
		"TRANSIT_SQLITE_PATH",
		"TRANSIT_DATABASE_URL",
		"TRANSIT_FEED_DIR",
		"TRANSIT_FEED_URL",
		"TRANSIT_FEED_CACHE",
		"TRANSIT_LOG_LEVEL",
		"TRANSIT_BATCH_SIZE",
		"TRANSIT_WORKERS",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "transit.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "transit.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, storage.DefaultBatchSize, cfg.Import.BatchSize)
	assert.Equal(t, parse.DefaultWorkers, cfg.Import.Workers)
	assert.Equal(t, parse.DefaultFare, cfg.Import.DefaultFare)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
storage:
  backend: postgres
  databaseURL: postgres://localhost/transit
feed:
  url: https://example.com/feed.zip
  headers:
    Api-Key: secret
  cacheDir: /tmp/feeds
  cacheTTL: 1h
  timeout: 30s
import:
  batchSize: 500
  workers: 8
  truncate: true
log:
  level: debug
  development: true
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "postgres://localhost/transit", cfg.Storage.DatabaseURL)
	assert.Equal(t, "https://example.com/feed.zip", cfg.Feed.URL)
	assert.Equal(t, map[string]string{"Api-Key": "secret"}, cfg.Feed.Headers)
	assert.Equal(t, "/tmp/feeds", cfg.Feed.CacheDir)
	assert.Equal(t, time.Hour, cfg.Feed.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.Feed.Timeout)
	assert.True(t, cfg.Import.Truncate)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)

	opts := cfg.ParseOptions()
	assert.Equal(t, 500, opts.BatchSize)
	assert.Equal(t, 8, opts.Workers)
	assert.Equal(t, parse.DefaultFare, opts.DefaultFare)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
storage:
  backend: postgres
  databaseURL: postgres://localhost/transit
import:
  workers: 2
`)

	t.Setenv("TRANSIT_STORAGE", "sqlite")
	t.Setenv("TRANSIT_SQLITE_PATH", "/data/hanoi.db")
	t.Setenv("TRANSIT_FEED_DIR", "/data/feed")
	t.Setenv("TRANSIT_LOG_LEVEL", "warn")
	t.Setenv("TRANSIT_WORKERS", "16")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/data/hanoi.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "/data/feed", cfg.Feed.Dir)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 16, cfg.Import.Workers)

	// Untouched by env
	assert.Equal(t, "postgres://localhost/transit", cfg.Storage.DatabaseURL)
}

func TestLoadInvalid(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		env     map[string]string
	}{
		{"unknown_backend", "storage:\n  backend: mysql\n", nil},
		{"postgres_without_url", "storage:\n  backend: postgres\n", nil},
		{"postgres_from_env_without_url", "", map[string]string{"TRANSIT_STORAGE": "postgres"}},
		{"bad_feed_url", "feed:\n  url: not a url\n", nil},
		{"negative_workers", "import:\n  workers: -1\n", nil},
		{"bad_log_level", "log:\n  level: loud\n", nil},
		{"bad_worker_env", "", map[string]string{"TRANSIT_WORKERS": "many"}},
		{"malformed_yaml", "storage: [", nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			_, err := config.Load(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)

	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := config.NewLogger(config.LogConfig{Level: "debug"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = config.NewLogger(config.LogConfig{Level: "error", Development: true})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = config.NewLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
