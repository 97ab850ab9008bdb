package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hustbus.dev/transit"
	"hustbus.dev/transit/config"
	"hustbus.dev/transit/downloader"
	"hustbus.dev/transit/storage"
)

var rootCmd = &cobra.Command{
	Use:               "transit",
	Short:             "Hanoi bus network tool",
	Long:              "Imports transit feeds and answers questions about stops, lines and schedules",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
}

func main() {
	err := rootCmd.Execute()
	if logger != nil {
		logger.Sync()
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	var err error

	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err = config.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}

	return nil
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}

func openStorage() (storage.Storage, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "postgres":
		return storage.NewPSQLStorage(cfg.Storage.DatabaseURL, cfg.Storage.ClearDB)
	default:
		return storage.NewSQLiteStorage(storage.SQLiteConfig{
			OnDisk: true,
			Path:   cfg.Storage.SQLitePath,
		})
	}
}

func newImporter(s storage.Storage) (*transit.Importer, error) {
	importer := transit.NewImporter(s, logger)

	importer.Options = cfg.ParseOptions()
	importer.Options.Logger = logger
	importer.Truncate = cfg.Import.Truncate
	importer.FeedCacheTTL = cfg.Feed.CacheTTL
	if cfg.Feed.Timeout > 0 {
		importer.FeedTimeout = cfg.Feed.Timeout
	}

	if cfg.Feed.CacheDir != "" {
		fs, err := downloader.NewFilesystem(cfg.Feed.CacheDir, logger)
		if err != nil {
			return nil, fmt.Errorf("creating feed cache: %w", err)
		}
		importer.Downloader = fs
	}

	return importer, nil
}

// Opens storage for the read only commands.
func loadStatic() (*transit.Static, func(), error) {
	s, err := openStorage()
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}
	return transit.NewStatic(s), func() { s.Close() }, nil
}
