package transit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hustbus.dev/transit/downloader"
	"hustbus.dev/transit/parse"
	"hustbus.dev/transit/storage"
)

const (
	DefaultFeedTimeout = 60 * time.Second
	DefaultFeedMaxSize = 800 << 20 // 800 MB
)

// Stage recorded while the store is being truncated.
const StageTruncate = "truncate"

// Importer loads feeds into storage and keeps a record of each run.
type Importer struct {
	FeedTimeout time.Duration
	FeedMaxSize int

	// If >0, downloaded feeds are cached this long.
	FeedCacheTTL time.Duration

	Downloader downloader.Downloader

	// Remove all feed records before importing.
	Truncate bool

	Options parse.Options
	TimeNow func() time.Time

	storage storage.Storage
	logger  *zap.Logger
}

func NewImporter(s storage.Storage, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Importer{
		FeedTimeout: DefaultFeedTimeout,
		FeedMaxSize: DefaultFeedMaxSize,
		Downloader:  downloader.NewMemoryDownloader(),
		Options:     parse.Options{Logger: logger},
		TimeNow:     time.Now,

		storage: s,
		logger:  logger,
	}
}

// Imports a feed from a directory holding the feed files.
func (i *Importer) ImportDir(ctx context.Context, dir string) (*parse.Summary, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("opening feed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidArgument, dir)
	}

	return i.run(ctx, dir, "", os.DirFS(dir))
}

// Imports a feed from a local zip archive.
func (i *Importer) ImportZip(ctx context.Context, path string) (*parse.Summary, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading feed: %w", err)
	}

	return i.importArchive(ctx, path, body)
}

// Downloads a zipped feed and imports it.
func (i *Importer) ImportURL(ctx context.Context, feedURL string, headers map[string]string) (*parse.Summary, error) {
	body, err := i.Downloader.Get(
		ctx,
		feedURL,
		headers,
		downloader.GetOptions{
			Cache:    i.FeedCacheTTL > 0,
			CacheTTL: i.FeedCacheTTL,
			Timeout:  i.FeedTimeout,
			MaxSize:  i.FeedMaxSize,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("downloading feed at %s: %w", feedURL, err)
	}

	return i.importArchive(ctx, feedURL, body)
}

func (i *Importer) importArchive(ctx context.Context, source string, body []byte) (*parse.Summary, error) {
	hash := fmt.Sprintf("%x", sha256.Sum256(body))

	r, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("unzipping: %w", err)
	}

	return i.run(ctx, source, hash, r)
}

// Runs an import, recording it as an ImportRun before and after.
func (i *Importer) run(ctx context.Context, source string, hash string, fsys fs.FS) (*parse.Summary, error) {
	run := &storage.ImportRun{
		ID:        uuid.NewString(),
		Source:    source,
		Hash:      hash,
		StartedAt: i.TimeNow().UTC(),
		Status:    storage.ImportRunning,
	}
	if i.Truncate {
		run.Stage = StageTruncate
	}

	logger := i.logger.With(zap.String("run", run.ID), zap.String("source", source))
	logger.Info("starting import", zap.String("hash", hash), zap.Bool("truncate", i.Truncate))

	err := i.storage.WriteImportRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("writing import run: %w", err)
	}

	var summary *parse.Summary
	if i.Truncate {
		err = i.storage.Truncate(ctx)
		if err != nil {
			err = &parse.StageError{Stage: StageTruncate, Err: err}
		}
	}
	if err == nil {
		opts := i.Options
		opts.Logger = logger
		summary, err = parse.ParseStatic(ctx, i.storage, fsys, opts)
	}

	run.FinishedAt = i.TimeNow().UTC()
	run.Stage = lastStage(run.Stage, summary, err)
	if summary != nil {
		buf, jsonErr := json.Marshal(summary)
		if jsonErr != nil {
			return summary, fmt.Errorf("encoding summary: %w", jsonErr)
		}
		run.Summary = string(buf)
	}
	if err != nil {
		run.Status = storage.ImportFailed
		run.Error = err.Error()
		logger.Error("import failed", zap.String("stage", run.Stage), zap.Error(err))
	} else {
		run.Status = storage.ImportCompleted
		logger.Info(
			"import completed",
			zap.Int("imported", summary.Imported()),
			zap.Int("skipped", summary.Skipped()),
			zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
		)
	}

	// The run is recorded even if ctx was cancelled.
	writeErr := i.storage.WriteImportRun(context.WithoutCancel(ctx), run)
	if writeErr != nil {
		return summary, errors.Join(err, fmt.Errorf("writing import run: %w", writeErr))
	}

	return summary, err
}

// The stage an import got to.
func lastStage(initial string, summary *parse.Summary, err error) string {
	var stageErr *parse.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	if summary != nil && len(summary.Entities) > 0 {
		return summary.Entities[len(summary.Entities)-1].Entity
	}
	return initial
}
