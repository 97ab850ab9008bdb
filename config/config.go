package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"hustbus.dev/transit/parse"
	"hustbus.dev/transit/storage"
)

const (
	DefaultBackend    = "sqlite"
	DefaultSQLitePath = "transit.db"
	DefaultLogLevel   = "info"
)

type StorageConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=sqlite postgres memory"`
	SQLitePath  string `yaml:"sqlitePath"`
	DatabaseURL string `yaml:"databaseURL" validate:"required_if=Backend postgres"`

	// Drop and recreate all tables on startup. Postgres only.
	ClearDB bool `yaml:"clearDB"`
}

type FeedConfig struct {
	Dir     string            `yaml:"dir"`
	URL     string            `yaml:"url" validate:"omitempty,url"`
	Headers map[string]string `yaml:"headers"`

	// Downloaded feeds are kept in CacheDir for CacheTTL. An empty
	// CacheDir caches in memory.
	CacheDir string        `yaml:"cacheDir"`
	CacheTTL time.Duration `yaml:"cacheTTL" validate:"gte=0"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

type ImportConfig struct {
	BatchSize   int  `yaml:"batchSize" validate:"gte=0"`
	Workers     int  `yaml:"workers" validate:"gte=0"`
	DefaultFare int  `yaml:"defaultFare" validate:"gte=0"`
	Truncate    bool `yaml:"truncate"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error dpanic panic fatal"`
	Development bool   `yaml:"development"`
}

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Feed    FeedConfig    `yaml:"feed"`
	Import  ImportConfig  `yaml:"import"`
	Log     LogConfig     `yaml:"log"`
}

// Loads configuration.
//
// A .env file in the working directory is loaded into the
// environment if present. Then the YAML file at path is read, if
// path is non-empty. TRANSIT_* environment variables take precedence
// over the file, and anything still unset gets its default.
func Load(path string) (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	for key, dst := range map[string]*string{
		"TRANSIT_STORAGE":      &c.Storage.Backend,
		"TRANSIT_SQLITE_PATH":  &c.Storage.SQLitePath,
		"TRANSIT_DATABASE_URL": &c.Storage.DatabaseURL,
		"TRANSIT_FEED_DIR":     &c.Feed.Dir,
		"TRANSIT_FEED_URL":     &c.Feed.URL,
		"TRANSIT_FEED_CACHE":   &c.Feed.CacheDir,
		"TRANSIT_LOG_LEVEL":    &c.Log.Level,
	} {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	for key, dst := range map[string]*int{
		"TRANSIT_BATCH_SIZE": &c.Import.BatchSize,
		"TRANSIT_WORKERS":    &c.Import.Workers,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultBackend
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = DefaultSQLitePath
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Import.BatchSize == 0 {
		c.Import.BatchSize = storage.DefaultBatchSize
	}
	if c.Import.Workers == 0 {
		c.Import.Workers = parse.DefaultWorkers
	}
	if c.Import.DefaultFare == 0 {
		c.Import.DefaultFare = parse.DefaultFare
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Parse options for an import using this configuration.
func (c *Config) ParseOptions() parse.Options {
	return parse.Options{
		BatchSize:   c.Import.BatchSize,
		Workers:     c.Import.Workers,
		DefaultFare: c.Import.DefaultFare,
	}
}
