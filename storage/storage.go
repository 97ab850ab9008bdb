package storage

import (
	"context"
	"time"

	"hustbus.dev/transit/model"
)

// Default number of rows per write batch.
const DefaultBatchSize = 1000

type Storage interface {
	FeedWriter
	FeedReader

	// Writes an ImportRun record. If a record with the same ID
	// exists, it is updated.
	WriteImportRun(ctx context.Context, run *ImportRun) error

	// Most recent import runs first. Pass 0 for no limit.
	ListImportRuns(ctx context.Context, limit int) ([]*ImportRun, error)

	Close() error
}

// Writes feed records.
//
// Stops, lines and trips are dimensions: they are upserted by ID,
// so writing the same record twice leaves a single, updated,
// row. Each call is a single transaction, and if a batch holds
// several records with the same ID the last one wins.
//
// Stop times are facts: WriteStopTimes inserts a batch in its own
// transaction, silently skipping rows whose (trip_id, stop_id,
// stop_sequence) already exists. It returns the number of rows
// actually inserted, and must be safe for concurrent use.
type FeedWriter interface {
	WriteStops(ctx context.Context, stops []*model.Stop) error
	WriteLines(ctx context.Context, lines []*model.Line) error
	WriteTrips(ctx context.Context, trips []*model.Trip) error
	WriteStopTimes(ctx context.Context, stopTimes []*model.StopTime) (int, error)

	// Deletes a line along with its trips and their stop times.
	DeleteLine(ctx context.Context, lineID string) error

	// Removes all feed records. Import runs are kept.
	Truncate(ctx context.Context) error
}

type FeedReader interface {
	// Sets of all IDs in storage. Used for referential checks
	// during import.
	StopIDs(ctx context.Context) (map[string]bool, error)
	LineIDs(ctx context.Context) (map[string]bool, error)
	TripIDs(ctx context.Context) (map[string]bool, error)

	// All records, ordered by ID.
	Stops(ctx context.Context) ([]*model.Stop, error)
	Lines(ctx context.Context) ([]*model.Line, error)
	Trips(ctx context.Context) ([]*model.Trip, error)

	// Trips of a line, ordered by ID.
	TripsByLine(ctx context.Context, lineID string) ([]*model.Trip, error)

	// Stop times of all trips of a line, ordered by trip ID and
	// stop sequence.
	StopTimesByLine(ctx context.Context, lineID string) ([]*model.StopTime, error)

	// Stops visited by a trip, in stop sequence order.
	TripStops(ctx context.Context, tripID string) ([]*model.Stop, error)

	// List of stops near given lat/lng, ordered by distance. At
	// most limit results (pass 0 for no limit.)
	NearbyStops(ctx context.Context, lat float64, lng float64, limit int) ([]model.StopDistance, error)

	Counts(ctx context.Context) (Counts, error)
}

type Counts struct {
	Stops     int
	Lines     int
	Trips     int
	StopTimes int
}

type ImportRunStatus string

const (
	ImportRunning   ImportRunStatus = "running"
	ImportCompleted ImportRunStatus = "completed"
	ImportFailed    ImportRunStatus = "failed"
)

// Record of a single import. Stage is the last stage entered, so a
// failed run tells how far it got. Summary holds the JSON encoded
// run summary.
type ImportRun struct {
	ID         string
	Source     string
	Hash       string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     ImportRunStatus
	Stage      string
	Error      string
	Summary    string
}
