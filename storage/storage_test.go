package storage_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hustbus.dev/transit/model"
	"hustbus.dev/transit/storage"
)

// Tests of the storage implementations. The in-memory and sqlite
// implementations are always run, while postgres requires
// TRANSIT_TEST_POSTGRES to hold a connection string.

type StorageBuilder func() (storage.Storage, error)

func writeFixture(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	require.NoError(t, s.WriteStops(ctx, []*model.Stop{
		{ID: "s1", Name: "Stop 1", Lat: 21.0, Lon: 105.8, Category: "bus"},
		{ID: "s2", Name: "Stop 2", Lat: 21.1, Lon: 105.9, Category: "bus"},
		{ID: "s3", Name: "Stop 3", Lat: 21.2, Lon: 106.0, Category: "bus"},
	}))
	require.NoError(t, s.WriteLines(ctx, []*model.Line{
		{ID: "l1_1", ShortName: "1", LongName: "Line 1", Category: model.LineCategoryBus, Fare: 7000, Forward: true},
		{ID: "l1_2", ShortName: "1", LongName: "Line 1", Category: model.LineCategoryBus, Fare: 7000, Forward: false},
	}))
	require.NoError(t, s.WriteTrips(ctx, []*model.Trip{
		{ID: "t1", LineID: "l1_1"},
		{ID: "t2", LineID: "l1_2"},
	}))
	n, err := s.WriteStopTimes(ctx, []*model.StopTime{
		{TripID: "t1", StopID: "s2", StopSequence: 2, Arrival: "08:10:00", Departure: "08:11:00"},
		{TripID: "t1", StopID: "s1", StopSequence: 1, Arrival: "08:00:00", Departure: "08:01:00"},
		{TripID: "t2", StopID: "s3", StopSequence: 1, Arrival: "09:00:00", Departure: "09:00:00"},
		{TripID: "t2", StopID: "s1", StopSequence: 2, Arrival: "09:20:00", Departure: ""},
	})
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func testInitiallyEmpty(t *testing.T, sb StorageBuilder) {
	s, err := sb()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	stops, err := s.Stops(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, len(stops))

	lines, err := s.Lines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, len(lines))

	trips, err := s.Trips(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, len(trips))

	ids, err := s.StopIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, len(ids))

	nearby, err := s.NearbyStops(ctx, 21.0, 105.8, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, len(nearby))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Counts{}, counts)
}

func testBasicReadingAndWriting(t *testing.T, sb StorageBuilder) {
	s, err := sb()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	writeFixture(t, s)

	stops, err := s.Stops(ctx)
	require.NoError(t, err)
	assert.Equal(t, []*model.Stop{
		{ID: "s1", Name: "Stop 1", Lat: 21.0, Lon: 105.8, Category: "bus"},
		{ID: "s2", Name: "Stop 2", Lat: 21.1, Lon: 105.9, Category: "bus"},
		{ID: "s3", Name: "Stop 3", Lat: 21.2, Lon: 106.0, Category: "bus"},
	}, stops)

	lines, err := s.Lines(ctx)
	require.NoError(t, err)
	assert.Equal(t, []*model.Line{
		{ID: "l1_1", ShortName: "1", LongName: "Line 1", Category: model.LineCategoryBus, Fare: 7000, Forward: true},
		{ID: "l1_2", ShortName: "1", LongName: "Line 1", Category: model.LineCategoryBus, Fare: 7000, Forward: false},
	}, lines)

	trips, err := s.TripsByLine(ctx, "l1_2")
	require.NoError(t, err)
	assert.Equal(t, []*model.Trip{{ID: "t2", LineID: "l1_2"}}, trips)

	stopTimes, err := s.StopTimesByLine(ctx, "l1_1")
	require.NoError(t, err)
	assert.Equal(t, []*model.StopTime{
		{TripID: "t1", StopID: "s1", StopSequence: 1, Arrival: "08:00:00", Departure: "08:01:00"},
		{TripID: "t1", StopID: "s2", StopSequence: 2, Arrival: "08:10:00", Departure: "08:11:00"},
	}, stopTimes)

	tripStops, err := s.TripStops(ctx, "t2")
	require.NoError(t, err)
	require.Equal(t, 2, len(tripStops))
	assert.Equal(t, "s3", tripStops[0].ID)
	assert.Equal(t, "s1", tripStops[1].ID)

	lineIDs, err := s.LineIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"l1_1": true, "l1_2": true}, lineIDs)

	tripIDs, err := s.TripIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"t1": true, "t2": true}, tripIDs)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Counts{Stops: 3, Lines: 2, Trips: 2, StopTimes: 4}, counts)
}

func testUpsertDimensions(t *testing.T, sb StorageBuilder) {
	s, err := sb()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	writeFixture(t, s)

	// Rewriting updates in place
	require.NoError(t, s.WriteStops(ctx, []*model.Stop{
		{ID: "s1", Name: "Renamed", Lat: 21.5, Lon: 105.5, Category: "bus"},
	}))
	require.NoError(t, s.WriteLines(ctx, []*model.Line{
		{ID: "l1_1", ShortName: "1A", LongName: "Line 1", Category: model.LineCategoryTrain, Fare: 9000, Forward: true},
	}))
	require.NoError(t, s.WriteTrips(ctx, []*model.Trip{
		{ID: "t1", LineID: "l1_2"},
	}))

	stops, err := s.Stops(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, len(stops))
	assert.Equal(t, &model.Stop{ID: "s1", Name: "Renamed", Lat: 21.5, Lon: 105.5, Category: "bus"}, stops[0])

	lines, err := s.Lines(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, len(lines))
	assert.Equal(t, "1A", lines[0].ShortName)
	assert.Equal(t, model.LineCategoryTrain, lines[0].Category)
	assert.Equal(t, 9000, lines[0].Fare)

	trips, err := s.TripsByLine(ctx, "l1_2")
	require.NoError(t, err)
	assert.Equal(t, 2, len(trips))

	// Duplicate IDs in one batch: last one wins
	require.NoError(t, s.WriteStops(ctx, []*model.Stop{
		{ID: "s9", Name: "First", Lat: 1, Lon: 1, Category: "bus"},
		{ID: "s9", Name: "Second", Lat: 2, Lon: 2, Category: "bus"},
	}))
	stops, err = s.Stops(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, len(stops))
	assert.Equal(t, "Second", stops[3].Name)
}

func testStopTimesSkipDuplicates(t *testing.T, sb StorageBuilder) {
	s, err := sb()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	writeFixture(t, s)

	// Same key as an existing row, plus one new row
	n, err := s.WriteStopTimes(ctx, []*model.StopTime{
		{TripID: "t1", StopID: "s1", StopSequence: 1, Arrival: "10:00:00", Departure: "10:00:00"},
		{TripID: "t1", StopID: "s3", StopSequence: 3, Arrival: "08:20:00", Departure: "08:20:00"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Existing row was not touched
	stopTimes, err := s.StopTimesByLine(ctx, "l1_1")
	require.NoError(t, err)
	require.Equal(t, 3, len(stopTimes))
	assert.Equal(t, "08:00:00", stopTimes[0].Arrival)
	assert.Equal(t, "s3", stopTimes[2].StopID)

	// Writing it all again inserts nothing
	n, err = s.WriteStopTimes(ctx, stopTimes)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testConcurrentStopTimes(t *testing.T, sb StorageBuilder) {
	s, err := sb()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	writeFixture(t, s)

	// Overlapping batches written concurrently: each key lands once
	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := []*model.StopTime{}
			for i := 10; i < 60; i++ {
				batch = append(batch, &model.StopTime{
					TripID:       "t1",
					StopID:       "s1",
					StopSequence: uint32(i),
					Arrival:      "12:00:00",
					Departure:    "12:00:00",
				})
			}
			n, err := s.WriteStopTimes(ctx, batch)
			assert.NoError(t, err)
			mu.Lock()
			inserted += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, inserted)
	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 54, counts.StopTimes)
}

func testDeleteLine(t *testing.T, sb StorageBuilder) {
	s, err := sb()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	writeFixture(t, s)

	require.NoError(t, s.DeleteLine(ctx, "l1_2"))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Counts{Stops: 3, Lines: 1, Trips: 1, StopTimes: 2}, counts)

	stopTimes, err := s.StopTimesByLine(ctx, "l1_2")
	require.NoError(t, err)
	assert.Equal(t, 0, len(stopTimes))

	// Unknown line is a no-op
	require.NoError(t, s.DeleteLine(ctx, "nope"))
}

func testTruncate(t *testing.T, sb StorageBuilder) {
	s, err := sb()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	writeFixture(t, s)
	require.NoError(t, s.WriteImportRun(ctx, &storage.ImportRun{
		ID:        "run",
		Source:    "feed",
		StartedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:    storage.ImportCompleted,
	}))

	require.NoError(t, s.Truncate(ctx))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Counts{}, counts)

	runs, err := s.ListImportRuns(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, len(runs))
}

func testNearbyStops(t *testing.T, sb StorageBuilder) {
	s, err := sb()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	writeFixture(t, s)

	nearby, err := s.NearbyStops(ctx, 21.19, 105.99, 2)
	require.NoError(t, err)
	require.Equal(t, 2, len(nearby))
	assert.Equal(t, "s3", nearby[0].Stop.ID)
	assert.Equal(t, "s2", nearby[1].Stop.ID)
	assert.True(t, nearby[0].DistanceMeters < nearby[1].DistanceMeters)

	nearby, err = s.NearbyStops(ctx, 21.0, 105.8, 0)
	require.NoError(t, err)
	require.Equal(t, 3, len(nearby))
	assert.Equal(t, "s1", nearby[0].Stop.ID)
	assert.InDelta(t, 0, nearby[0].DistanceMeters, 0.001)
}

func testImportRuns(t *testing.T, sb StorageBuilder) {
	s, err := sb()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.WriteImportRun(ctx, &storage.ImportRun{
		ID:        "a",
		Source:    "/feeds/a",
		Hash:      "aaa",
		StartedAt: t0,
		Status:    storage.ImportRunning,
		Stage:     "stops",
	}))
	require.NoError(t, s.WriteImportRun(ctx, &storage.ImportRun{
		ID:        "b",
		Source:    "/feeds/b",
		StartedAt: t0.Add(time.Hour),
		Status:    storage.ImportRunning,
		Stage:     "stops",
	}))

	// Update a to completed
	require.NoError(t, s.WriteImportRun(ctx, &storage.ImportRun{
		ID:         "a",
		Source:     "/feeds/a",
		Hash:       "aaa",
		StartedAt:  t0,
		FinishedAt: t0.Add(time.Minute),
		Status:     storage.ImportCompleted,
		Stage:      "stop_times",
		Summary:    `{"ok":true}`,
	}))

	runs, err := s.ListImportRuns(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 2, len(runs))
	assert.Equal(t, "b", runs[0].ID)
	assert.True(t, runs[0].FinishedAt.IsZero())
	assert.Equal(t, "a", runs[1].ID)
	assert.Equal(t, storage.ImportCompleted, runs[1].Status)
	assert.Equal(t, "stop_times", runs[1].Stage)
	assert.Equal(t, `{"ok":true}`, runs[1].Summary)
	assert.True(t, t0.Equal(runs[1].StartedAt))
	assert.True(t, t0.Add(time.Minute).Equal(runs[1].FinishedAt))

	runs, err = s.ListImportRuns(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, len(runs))
	assert.Equal(t, "b", runs[0].ID)
}

func TestStorage(t *testing.T) {
	postgresConnStr := os.Getenv("TRANSIT_TEST_POSTGRES")

	for _, test := range []struct {
		Name string
		Test func(t *testing.T, sb StorageBuilder)
	}{
		{"InitiallyEmpty", testInitiallyEmpty},
		{"BasicReadingAndWriting", testBasicReadingAndWriting},
		{"UpsertDimensions", testUpsertDimensions},
		{"StopTimesSkipDuplicates", testStopTimesSkipDuplicates},
		{"ConcurrentStopTimes", testConcurrentStopTimes},
		{"DeleteLine", testDeleteLine},
		{"Truncate", testTruncate},
		{"NearbyStops", testNearbyStops},
		{"ImportRuns", testImportRuns},
	} {
		t.Run(fmt.Sprintf("%s memory", test.Name), func(t *testing.T) {
			test.Test(t, func() (storage.Storage, error) {
				return storage.NewMemoryStorage(), nil
			})
		})
		t.Run(fmt.Sprintf("%s SQLiteMemory", test.Name), func(t *testing.T) {
			test.Test(t, func() (storage.Storage, error) {
				return storage.NewSQLiteStorage()
			})
		})
		t.Run(fmt.Sprintf("%s SQLiteFile", test.Name), func(t *testing.T) {
			dir := t.TempDir()
			test.Test(t, func() (storage.Storage, error) {
				return storage.NewSQLiteStorage(storage.SQLiteConfig{
					OnDisk: true,
					Path:   filepath.Join(dir, "transit.db"),
				})
			})
		})
		if postgresConnStr != "" {
			t.Run(fmt.Sprintf("%s Postgres", test.Name), func(t *testing.T) {
				test.Test(t, func() (storage.Storage, error) {
					return storage.NewPSQLStorage(postgresConnStr, true)
				})
			})
		}
	}
}
