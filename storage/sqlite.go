package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"hustbus.dev/transit/model"
)

type SQLiteConfig struct {
	OnDisk bool
	Path   string
}

type SQLiteStorage struct {
	SQLiteConfig

	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS stops (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    category TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS lines (
    id TEXT PRIMARY KEY,
    short_name TEXT NOT NULL,
    long_name TEXT NOT NULL,
    category TEXT NOT NULL,
    fare INTEGER NOT NULL,
    forward INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trips (
    id TEXT PRIMARY KEY,
    line_id TEXT NOT NULL
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
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    hash TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    status TEXT NOT NULL,
    stage TEXT NOT NULL,
    error TEXT NOT NULL,
    summary TEXT NOT NULL
);`

func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	onDisk := false
	path := ""
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		path = cfg[0].Path
	}

	sourceName := ":memory:"
	if onDisk {
		if path == "" {
			return nil, fmt.Errorf("on disk sqlite requires a path")
		}
		sourceName = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite has a single writer, and every connection to
	// :memory: is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, err = db.Exec(sqliteSchema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &SQLiteStorage{
		SQLiteConfig: SQLiteConfig{
			OnDisk: onDisk,
			Path:   path,
		},
		db: db,
	}, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Runs fn within a transaction, committing if it returns nil.
func (s *SQLiteStorage) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) WriteStops(ctx context.Context, stops []*model.Stop) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO stops (id, name, lat, lon, category)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    lat = excluded.lat,
    lon = excluded.lon,
    category = excluded.category`)
		if err != nil {
			return fmt.Errorf("preparing stop upsert: %w", err)
		}
		defer stmt.Close()

		for _, stop := range stops {
			_, err = stmt.ExecContext(ctx, stop.ID, stop.Name, stop.Lat, stop.Lon, stop.Category)
			if err != nil {
				return fmt.Errorf("upserting stop '%s': %w", stop.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStorage) WriteLines(ctx context.Context, lines []*model.Line) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO lines (id, short_name, long_name, category, fare, forward)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    short_name = excluded.short_name,
    long_name = excluded.long_name,
    category = excluded.category,
    fare = excluded.fare,
    forward = excluded.forward`)
		if err != nil {
			return fmt.Errorf("preparing line upsert: %w", err)
		}
		defer stmt.Close()

		for _, line := range lines {
			_, err = stmt.ExecContext(
				ctx,
				line.ID,
				line.ShortName,
				line.LongName,
				string(line.Category),
				line.Fare,
				line.Forward,
			)
			if err != nil {
				return fmt.Errorf("upserting line '%s': %w", line.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStorage) WriteTrips(ctx context.Context, trips []*model.Trip) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO trips (id, line_id)
VALUES (?, ?)
ON CONFLICT (id) DO UPDATE SET
    line_id = excluded.line_id`)
		if err != nil {
			return fmt.Errorf("preparing trip upsert: %w", err)
		}
		defer stmt.Close()

		for _, trip := range trips {
			_, err = stmt.ExecContext(ctx, trip.ID, trip.LineID)
			if err != nil {
				return fmt.Errorf("upserting trip '%s': %w", trip.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStorage) WriteStopTimes(ctx context.Context, stopTimes []*model.StopTime) (int, error) {
	inserted := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO stop_times (trip_id, stop_id, stop_sequence, arrival_time, departure_time)
VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing stop_time insert: %w", err)
		}
		defer stmt.Close()

		for _, st := range stopTimes {
			res, err := stmt.ExecContext(ctx, st.TripID, st.StopID, st.StopSequence, st.Arrival, st.Departure)
			if err != nil {
				return fmt.Errorf("inserting stop_time: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("counting inserted stop_times: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *SQLiteStorage) DeleteLine(ctx context.Context, lineID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM stop_times WHERE trip_id IN (SELECT id FROM trips WHERE line_id = ?)`,
			`DELETE FROM trips WHERE line_id = ?`,
			`DELETE FROM lines WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, lineID); err != nil {
				return fmt.Errorf("deleting line '%s': %w", lineID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStorage) Truncate(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"stop_times", "trips", "lines", "stops"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("truncating %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStorage) ids(ctx context.Context, query string) (map[string]bool, error) {
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

func (s *SQLiteStorage) StopIDs(ctx context.Context) (map[string]bool, error) {
	return s.ids(ctx, `SELECT id FROM stops`)
}

func (s *SQLiteStorage) LineIDs(ctx context.Context) (map[string]bool, error) {
	return s.ids(ctx, `SELECT id FROM lines`)
}

func (s *SQLiteStorage) TripIDs(ctx context.Context) (map[string]bool, error) {
	return s.ids(ctx, `SELECT id FROM trips`)
}

func (s *SQLiteStorage) Stops(ctx context.Context) ([]*model.Stop, error) {
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

func (s *SQLiteStorage) Lines(ctx context.Context) ([]*model.Line, error) {
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

func (s *SQLiteStorage) Trips(ctx context.Context) ([]*model.Trip, error) {
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

func (s *SQLiteStorage) TripsByLine(ctx context.Context, lineID string) ([]*model.Trip, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, line_id
FROM trips
WHERE line_id = ?
ORDER BY id`, lineID)
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}
	defer rows.Close()

	return scanTrips(rows)
}

func (s *SQLiteStorage) StopTimesByLine(ctx context.Context, lineID string) ([]*model.StopTime, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT st.trip_id, st.stop_id, st.stop_sequence, st.arrival_time, st.departure_time
FROM stop_times st
INNER JOIN trips t ON st.trip_id = t.id
WHERE t.line_id = ?
ORDER BY st.trip_id, st.stop_sequence`, lineID)
	if err != nil {
		return nil, fmt.Errorf("querying stop_times: %w", err)
	}
	defer rows.Close()

	return scanStopTimes(rows)
}

func (s *SQLiteStorage) TripStops(ctx context.Context, tripID string) ([]*model.Stop, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.id, s.name, s.lat, s.lon, s.category
FROM stop_times st
INNER JOIN stops s ON st.stop_id = s.id
WHERE st.trip_id = ?
ORDER BY st.stop_sequence`, tripID)
	if err != nil {
		return nil, fmt.Errorf("querying trip stops: %w", err)
	}
	defer rows.Close()

	return scanStops(rows)
}

func (s *SQLiteStorage) NearbyStops(ctx context.Context, lat float64, lng float64, limit int) ([]model.StopDistance, error) {
	stops, err := s.Stops(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting all stops: %w", err)
	}
	return NearestStops(stops, lat, lng, limit), nil
}

func (s *SQLiteStorage) Counts(ctx context.Context) (Counts, error) {
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

func (s *SQLiteStorage) WriteImportRun(ctx context.Context, run *ImportRun) error {
	var finishedAt sql.NullTime
	if !run.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO import_run (id, source, hash, started_at, finished_at, status, stage, error, summary)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
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

func (s *SQLiteStorage) ListImportRuns(ctx context.Context, limit int) ([]*ImportRun, error) {
	query := `
SELECT id, source, hash, started_at, finished_at, status, stage, error, summary
FROM import_run
ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing import runs: %w", err)
	}
	defer rows.Close()

	return scanImportRuns(rows)
}

// Scanners shared with the postgres implementation.

func scanStops(rows *sql.Rows) ([]*model.Stop, error) {
	stops := []*model.Stop{}
	for rows.Next() {
		s := &model.Stop{}
		err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lon, &s.Category)
		if err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

func scanLines(rows *sql.Rows) ([]*model.Line, error) {
	lines := []*model.Line{}
	for rows.Next() {
		l := &model.Line{}
		var category string
		err := rows.Scan(&l.ID, &l.ShortName, &l.LongName, &category, &l.Fare, &l.Forward)
		if err != nil {
			return nil, fmt.Errorf("scanning line: %w", err)
		}
		l.Category = model.LineCategory(category)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanTrips(rows *sql.Rows) ([]*model.Trip, error) {
	trips := []*model.Trip{}
	for rows.Next() {
		t := &model.Trip{}
		if err := rows.Scan(&t.ID, &t.LineID); err != nil {
			return nil, fmt.Errorf("scanning trip: %w", err)
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

func scanStopTimes(rows *sql.Rows) ([]*model.StopTime, error) {
	stopTimes := []*model.StopTime{}
	for rows.Next() {
		st := &model.StopTime{}
		err := rows.Scan(&st.TripID, &st.StopID, &st.StopSequence, &st.Arrival, &st.Departure)
		if err != nil {
			return nil, fmt.Errorf("scanning stop_time: %w", err)
		}
		stopTimes = append(stopTimes, st)
	}
	return stopTimes, rows.Err()
}

func scanImportRuns(rows *sql.Rows) ([]*ImportRun, error) {
	runs := []*ImportRun{}
	for rows.Next() {
		r := &ImportRun{}
		var status string
		var finishedAt sql.NullTime
		err := rows.Scan(
			&r.ID,
			&r.Source,
			&r.Hash,
			&r.StartedAt,
			&finishedAt,
			&status,
			&r.Stage,
			&r.Error,
			&r.Summary,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning import run: %w", err)
		}
		r.Status = ImportRunStatus(status)
		r.StartedAt = r.StartedAt.UTC()
		if finishedAt.Valid {
			r.FinishedAt = finishedAt.Time.UTC()
		} else {
			r.FinishedAt = time.Time{}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
