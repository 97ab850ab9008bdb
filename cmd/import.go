package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"hustbus.dev/transit/parse"
)

var importCmd = &cobra.Command{
	Use:   "import [dir|zip]",
	Short: "Imports a feed from a directory, a zip file or a URL",
	Args:  cobra.MaximumNArgs(1),
	RunE:  importFeed,
}

var (
	feedURL     string
	feedHeaders []string
	truncate    bool
	batchSize   int
	workers     int
)

func init() {
	importCmd.Flags().StringVarP(&feedURL, "url", "u", "", "URL of a zipped feed")
	importCmd.Flags().StringSliceVarP(&feedHeaders, "header", "", []string{}, "HTTP header for the feed URL")
	importCmd.Flags().BoolVarP(&truncate, "truncate", "", false, "Remove all feed records before importing")
	importCmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "Rows per write batch")
	importCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent stop time writers")
	rootCmd.AddCommand(importCmd)
}

func importFeed(cmd *cobra.Command, args []string) error {
	source := cfg.Feed.Dir
	if len(args) == 1 {
		source = args[0]
	}
	url := feedURL
	if url == "" && source == "" {
		url = cfg.Feed.URL
	}
	if url != "" && len(args) == 1 {
		return fmt.Errorf("pass either a path or --url, not both")
	}
	if url == "" && source == "" {
		return fmt.Errorf("nothing to import: pass a path or --url")
	}

	if truncate {
		cfg.Import.Truncate = true
	}
	if batchSize > 0 {
		cfg.Import.BatchSize = batchSize
	}
	if workers > 0 {
		cfg.Import.Workers = workers
	}

	headers, err := parseHeaders(feedHeaders)
	if err != nil {
		return fmt.Errorf("invalid header: %w", err)
	}
	for k, v := range cfg.Feed.Headers {
		if _, found := headers[k]; !found {
			headers[k] = v
		}
	}

	s, err := openStorage()
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer s.Close()

	importer, err := newImporter(s)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	var summary *parse.Summary
	switch {
	case url != "":
		summary, err = importer.ImportURL(ctx, url, headers)
	case strings.EqualFold(filepath.Ext(source), ".zip"):
		summary, err = importer.ImportZip(ctx, source)
	default:
		summary, err = importer.ImportDir(ctx, source)
	}

	if summary != nil {
		fmt.Println(summary.String())
	}

	if err != nil {
		var stageErr *parse.StageError
		if errors.As(err, &stageErr) {
			fmt.Fprintf(os.Stderr, "import failed during %s\n", stageErr.Stage)
		}
		return err
	}

	return nil
}
