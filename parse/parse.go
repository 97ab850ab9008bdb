package parse

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"

	"go.uber.org/zap"

	"hustbus.dev/transit/storage"
)

const (
	DefaultWorkers = 4

	// In VND.
	DefaultFare = 7000
)

type Options struct {
	// Rows per storage write. Defaults to storage.DefaultBatchSize.
	BatchSize int

	// Max number of stop_times batches written concurrently.
	Workers int

	// Fare for lines without one.
	DefaultFare int

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = storage.DefaultBatchSize
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.DefaultFare <= 0 {
		o.DefaultFare = DefaultFare
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Collects records and hands them to write in fixed size batches.
type batcher[T any] struct {
	size  int
	rows  []*T
	write func([]*T) error
}

func newBatcher[T any](size int, write func([]*T) error) *batcher[T] {
	return &batcher[T]{
		size:  size,
		rows:  make([]*T, 0, size),
		write: write,
	}
}

func (b *batcher[T]) add(row *T) error {
	b.rows = append(b.rows, row)
	if len(b.rows) >= b.size {
		return b.flush()
	}
	return nil
}

func (b *batcher[T]) flush() error {
	if len(b.rows) == 0 {
		return nil
	}
	rows := b.rows
	b.rows = make([]*T, 0, b.size)
	return b.write(rows)
}

var feedFiles = []string{
	"stops.txt",
	"routes.txt",
	"trips.txt",
	"stop_times.txt",
}

// Imports a feed into store. The feed files are located by name
// anywhere in fsys, so both a directory and a zip archive with
// nested folders work.
//
// Stages run in order: stops, lines, trips, stop_times. Each
// stage's referential checks run against what's in the store when
// it starts, so parents from earlier imports count. If a stage
// fails on a storage error, the partial summary is returned along
// with a *StageError.
func ParseStatic(
	ctx context.Context,
	store storage.Storage,
	fsys fs.FS,
	opts Options,
) (*Summary, error) {
	opts = opts.withDefaults()
	logger := opts.Logger

	files, err := locateFiles(fsys)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}

	open := func(name string, fn func(io.Reader) (*EntitySummary, error)) error {
		f, err := fsys.Open(files[name])
		if err != nil {
			return fmt.Errorf("opening %s: %w", files[name], err)
		}
		defer f.Close()

		logger.Info("importing", zap.String("file", files[name]))

		s, err := fn(f)
		if s != nil {
			summary.Entities = append(summary.Entities, s)
			logger.Info(
				"imported",
				zap.String("entity", s.Entity),
				zap.Int("read", s.Read),
				zap.Int("imported", s.Imported),
				zap.Int("skipped", s.Skipped),
			)
		}
		return err
	}

	err = open("stops.txt", func(r io.Reader) (*EntitySummary, error) {
		return ParseStops(ctx, store, r, opts)
	})
	if err != nil {
		return summary, err
	}

	err = open("routes.txt", func(r io.Reader) (*EntitySummary, error) {
		return ParseLines(ctx, store, r, opts)
	})
	if err != nil {
		return summary, err
	}

	err = open("trips.txt", func(r io.Reader) (*EntitySummary, error) {
		lines, err := store.LineIDs(ctx)
		if err != nil {
			return nil, &StageError{Stage: StageTrips, Err: fmt.Errorf("loading line ids: %w", err)}
		}
		return ParseTrips(ctx, store, r, lines, opts)
	})
	if err != nil {
		return summary, err
	}

	err = open("stop_times.txt", func(r io.Reader) (*EntitySummary, error) {
		trips, err := store.TripIDs(ctx)
		if err != nil {
			return nil, &StageError{Stage: StageStopTimes, Err: fmt.Errorf("loading trip ids: %w", err)}
		}
		stops, err := store.StopIDs(ctx)
		if err != nil {
			return nil, &StageError{Stage: StageStopTimes, Err: fmt.Errorf("loading stop ids: %w", err)}
		}
		return ParseStopTimes(ctx, store, r, trips, stops, opts)
	})
	if err != nil {
		return summary, err
	}

	return summary, nil
}

// Maps each feed file name to its path in fsys.
func locateFiles(fsys fs.FS) (map[string]string, error) {
	files := map[string]string{}
	for _, name := range feedFiles {
		files[name] = ""
	}

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := path.Base(p)
		if found, ok := files[name]; ok && found == "" {
			files[name] = p
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing feed files: %w", err)
	}

	for _, name := range feedFiles {
		if files[name] == "" {
			return nil, fmt.Errorf("missing %s", name)
		}
	}

	return files, nil
}
