package testutil

// Helpers and configuration for tests.
//
// Tests run against the memory and sqlite backends. If
// TRANSIT_TEST_POSTGRES holds a connection string, Backends() also
// includes postgres.

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"hustbus.dev/transit/parse"
	"hustbus.dev/transit/storage"
)

const PostgresEnv = "TRANSIT_TEST_POSTGRES"

// Storage backends to run tests against.
func Backends() []string {
	backends := []string{"memory", "sqlite"}
	if os.Getenv(PostgresEnv) != "" {
		backends = append(backends, "postgres")
	}
	return backends
}

func BuildStorage(t testing.TB, backend string) storage.Storage {
	var s storage.Storage
	var err error
	switch backend {
	case "memory":
		s = storage.NewMemoryStorage()
	case "sqlite":
		s, err = storage.NewSQLiteStorage()
		require.NoError(t, err)
	case "postgres":
		s, err = storage.NewPSQLStorage(os.Getenv(PostgresEnv), true)
		require.NoError(t, err)
	}
	require.NotNil(t, s, "unknown backend %q", backend)

	t.Cleanup(func() { s.Close() })

	return s
}

// Fills in missing feed files with headers only, so that tests only
// need to provide the files they care about.
func withDefaults(files map[string][]string) map[string][]string {
	out := map[string][]string{
		"stops.txt":      {"stop_id,stop_name,stop_lat,stop_lon"},
		"routes.txt":     {"route_id,route_short_name,route_long_name,route_type"},
		"trips.txt":      {"route_id,trip_id"},
		"stop_times.txt": {"trip_id,arrival_time,departure_time,stop_id,stop_sequence"},
	}
	for name, content := range files {
		out[name] = content
	}
	return out
}

func BuildFeed(files map[string][]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for filename, content := range withDefaults(files) {
		fsys[filename] = &fstest.MapFile{Data: []byte(strings.Join(content, "\n"))}
	}
	return fsys
}

func BuildZip(
	t testing.TB,
	files map[string][]string,
) []byte {

	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, content := range withDefaults(files) {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(content, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// Imports files into a fresh storage of the given backend.
func LoadFeed(
	t testing.TB,
	backend string,
	files map[string][]string,
) storage.Storage {
	s := BuildStorage(t, backend)

	_, err := parse.ParseStatic(context.Background(), s, BuildFeed(files), parse.Options{})
	require.NoError(t, err)

	return s
}
