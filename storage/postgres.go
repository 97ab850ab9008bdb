package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"hustbus.dev/transit/model"
)

type PSQLStorage struct {
	db *sql.DB
}

const psqlSchema = `
CREATE TABLE IF NOT EXISTS stops (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    lat DOUBLE PRECISION NOT NULL,
    lon DOUBLE PRECISION NOT NULL,
    category TEXT NOT NULL,
    PRIMARY KEY (id)
);

CREATE TABLE IF NOT EXISTS lines (
    id TEXT NOT NULL,
    short_name TEXT NOT NULL,
    long_name TEXT NOT NULL,
    category TEXT NOT NULL,
    fare INTEGER NOT NULL,
    forward BOOLEAN NOT NULL,
    PRIMARY KEY (id)
);

CREATE TABLE IF NOT EXISTS trips (
    id TEXT NOT NULL,
    line_id TEXT NOT NULL,
    PRIMARY KEY (id)
);
CREATE INDEX IF NOT EXISTS trips_line_id ON trips (line_id);

CREATE TABLE IF NOT EXISTS stop_times (
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    stop_sequence INTEGER NOT NULL,
    arrival_time TEXT NOT NULL,
    departure_time TEXT NOT NULL,
    PRIMARY KEY (trip_id, stop_id, stop_sequence)
);
CREATE INDEX IF NOT EXISTS stop_times_stop_id ON stop_times (stop_id);

CREATE TABLE IF NOT EXISTS import_run (
    id TEXT NOT NULL,
    source TEXT NOT NULL,
    hash TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    status TEXT NOT NULL,
    stage TEXT NOT NULL,
    error TEXT NOT NULL,
    summary TEXT NOT NULL,
    PRIMARY KEY (id)
);`

// Creates a new Postgres Storage using the provided connection string.
//
// If clearDB is true, the database will be cleared on startup. You
// probably only want this for testing.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if clearDB {
		_, err = db.Exec(`
DROP TABLE IF EXISTS stop_times;
DROP TABLE IF EXISTS trips;
DROP TABLE IF EXISTS lines;
DROP TABLE IF EXISTS stops;
DROP TABLE IF EXISTS import_run;
`)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	_, err = db.Exec(psqlSchema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &PSQLStorage{
		db: db,
	}, nil
}

func (s *PSQLStorage) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close db: %w", err)
	}
	return nil
}

// Bulk loads rows into a temporary copy of table using COPY, and
// then runs merge to move them into the real table. The staging
// table is dropped on commit.
//
// Returns the number of rows affected by merge.
func (s *PSQLStorage) copyAndMerge(
	ctx context.Context,
	table string,
	columns []string,
	rows [][]interface{},
	merge string,
) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stage := table + "_stage"
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP`,
		stage, table,
	))
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", stage, err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(stage, columns...))
	if err != nil {
		return 0, fmt.Errorf("preparing statement: %w", err)
	}

	for _, row := range rows {
		_, err = stmt.ExecContext(ctx, row...)
		if err != nil {
			stmt.Close()
			return 0, fmt.Errorf("COPY %s: %w", table, err)
		}
	}

	_, err = stmt.ExecContext(ctx)
	if err != nil {
		stmt.Close()
		return 0, fmt.Errorf("executing statement: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return 0, fmt.Errorf("closing statement: %w", err)
	}

	res, err := tx.ExecContext(ctx, merge)
	if err != nil {
		return 0, fmt.Errorf("merging %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting merged %s: %w", table, err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}

	return int(n), nil
}

func (s *PSQLStorage) WriteStops(ctx context.Context, stops []*model.Stop) error {
	stops = lastByKey(stops, func(s *model.Stop) string { return s.ID })

	rows := make([][]interface{}, 0, len(stops))
	for _, stop := range stops {
		rows = append(rows, []interface{}{stop.ID, stop.Name, stop.Lat, stop.Lon, stop.Category})
	}

	_, err := s.copyAndMerge(ctx, "stops", []string{"id", "name", "lat", "lon", "category"}, rows, `
INSERT INTO stops (id, name, lat, lon, category)
SELECT id, name, lat, lon, category FROM stops_stage
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    lat = excluded.lat,
    lon = excluded.lon,
    category = excluded.category`)
	if err != nil {
		return fmt.Errorf("upserting stops: %w", err)
	}
	return nil
}

func (s *PSQLStorage) WriteLines(ctx context.Context, lines []*model.Line) error {
	lines = lastByKey(lines, func(l *model.Line) string { return l.ID })

	rows := make([][]interface{}, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, []interface{}{l.ID, l.ShortName, l.LongName, string(l.Category), l.Fare, l.Forward})
	}

	_, err := s.copyAndMerge(ctx, "lines", []string{"id", "short_name", "long_name", "category", "fare", "forward"}, rows, `
INSERT INTO lines (id, short_name, long_name, category, fare, forward)
SELECT id, short_name, long_name, category, fare, forward FROM lines_stage
ON CONFLICT (id) DO UPDATE SET
    short_name = excluded.short_name,
    long_name = excluded.long_name,
    category = excluded.category,
    fare = excluded.fare,
    forward = excluded.forward`)
	if err != nil {
		return fmt.Errorf("upserting lines: %w", err)
	}
	return nil
}

func (s *PSQLStorage) WriteTrips(ctx context.Context, trips []*model.Trip) error {
	trips = lastByKey(trips, func(t *model.Trip) string { return t.ID })

	rows := make([][]interface{}, 0, len(trips))
	for _, t := range trips {
		rows = append(rows, []interface{}{t.ID, t.LineID})
	}

	_, err := s.copyAndMerge(ctx, "trips", []string{"id", "line_id"}, rows, `
INSERT INTO trips (id, line_id)
SELECT id, line_id FROM trips_stage
ON CONFLICT (id) DO UPDATE SET
    line_id = excluded.line_id`)
	if err != nil {
		return fmt.Errorf("upserting trips: %w", err)
	}
	return nil
}

func (s *PSQLStorage) WriteStopTimes(ctx context.Context, stopTimes []*model.StopTime) (int, error) {
	rows := make([][]interface{}, 0, len(stopTimes))
	for _, st := range stopTimes {
		rows = append(rows, []interface{}{st.TripID, st.StopID, st.StopSequence, st.Arrival, st.Departure})
	}

	n, err := s.copyAndMerge(
		ctx,
		"stop_times",
		[]string{"trip_id", "stop_id", "stop_sequence", "arrival_time", "departure_time"},
		rows, `
INSERT INTO stop_times (trip_id, stop_id, stop_sequence, arrival_time, departure_time)
SELECT trip_id, stop_id, stop_sequence, arrival_time, departure_time FROM stop_times_stage
ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("inserting stop_times: %w", err)
	}
	return n, nil
}

func (s *PSQLStorage) DeleteLine(ctx context.Context, lineID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM stop_times WHERE trip_id IN (SELECT id FROM trips WHERE line_id = $1)`,
		`DELETE FROM trips WHERE line_id = $1`,
		`DELETE FROM lines WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, lineID); err != nil {
			return fmt.Errorf("deleting line '%s': %w", lineID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (s *PSQLStorage) Truncate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE stop_times, trips, lines, stops`)
	if err != nil {
		return fmt.Errorf("truncating: %w", err)
	}
	return nil
}

func (s *PSQLStorage) ids(ctx context.Context, query string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying ids: %w", err)
	}
	defer rows.Close()

	ids := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func (s *PSQLStorage) StopIDs(ctx context.Context) (map[string]bool, error) {
	return s.ids(ctx, `SELECT id FROM stops`)
}

func (s *PSQLStorage) LineIDs(ctx context.Context) (map[string]bool, error) {
	return s.ids(ctx, `SELECT id FROM lines`)
}

func (s *PSQLStorage) TripIDs(ctx context.Context) (map[string]bool, error) {
	return s.ids(ctx, `SELECT id FROM trips`)
}

func (s *PSQLStorage) Stops(ctx context.Context) ([]*model.Stop, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, lat, lon, category
FROM stops
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	defer rows.Close()

	return scanStops(rows)
}

func (s *PSQLStorage) Lines(ctx context.Context) ([]*model.Line, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, short_name, long_name, category, fare, forward
FROM lines
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying lines: %w", err)
	}
	defer rows.Close()

	return scanLines(rows)
}

func (s *PSQLStorage) Trips(ctx context.Context) ([]*model.Trip, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, line_id
FROM trips
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}
	defer rows.Close()

	return scanTrips(rows)
}

func (s *PSQLStorage) TripsByLine(ctx context.Context, lineID string) ([]*model.Trip, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, line_id
FROM trips
WHERE line_id = $1
ORDER BY id`, lineID)
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}
	defer rows.Close()

	return scanTrips(rows)
}

func (s *PSQLStorage) StopTimesByLine(ctx context.Context, lineID string) ([]*model.StopTime, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT st.trip_id, st.stop_id, st.stop_sequence, st.arrival_time, st.departure_time
FROM stop_times st
INNER JOIN trips t ON st.trip_id = t.id
WHERE t.line_id = $1
ORDER BY st.trip_id, st.stop_sequence`, lineID)
	if err != nil {
		return nil, fmt.Errorf("querying stop_times: %w", err)
	}
	defer rows.Close()

	return scanStopTimes(rows)
}

func (s *PSQLStorage) TripStops(ctx context.Context, tripID string) ([]*model.Stop, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.id, s.name, s.lat, s.lon, s.category
FROM stop_times st
INNER JOIN stops s ON st.stop_id = s.id
WHERE st.trip_id = $1
ORDER BY st.stop_sequence`, tripID)
	if err != nil {
		return nil, fmt.Errorf("querying trip stops: %w", err)
	}
	defer rows.Close()

	return scanStops(rows)
}

func (s *PSQLStorage) NearbyStops(ctx context.Context, lat float64, lng float64, limit int) ([]model.StopDistance, error) {
	stops, err := s.Stops(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting all stops: %w", err)
	}
	return NearestStops(stops, lat, lng, limit), nil
}

func (s *PSQLStorage) Counts(ctx context.Context) (Counts, error) {
	c := Counts{}
	err := s.db.QueryRowContext(ctx, `
SELECT
    (SELECT COUNT(*) FROM stops),
    (SELECT COUNT(*) FROM lines),
    (SELECT COUNT(*) FROM trips),
    (SELECT COUNT(*) FROM stop_times)`).Scan(&c.Stops, &c.Lines, &c.Trips, &c.StopTimes)
	if err != nil {
		return Counts{}, fmt.Errorf("counting records: %w", err)
	}
	return c, nil
}

func (s *PSQLStorage) WriteImportRun(ctx context.Context, run *ImportRun) error {
	var finishedAt sql.NullTime
	if !run.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO import_run (id, source, hash, started_at, finished_at, status, stage, error, summary)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    finished_at = excluded.finished_at,
    status = excluded.status,
    stage = excluded.stage,
    error = excluded.error,
    summary = excluded.summary`,
		run.ID,
		run.Source,
		run.Hash,
		run.StartedAt.UTC(),
		finishedAt,
		string(run.Status),
		run.Stage,
		run.Error,
		run.Summary,
	)
	if err != nil {
		return fmt.Errorf("writing import run: %w", err)
	}
	return nil
}

func (s *PSQLStorage) ListImportRuns(ctx context.Context, limit int) ([]*ImportRun, error) {
	query := `
SELECT id, source, hash, started_at, finished_at, status, stage, error, summary
FROM import_run
ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing import runs: %w", err)
	}
	defer rows.Close()

	return scanImportRuns(rows)
}
