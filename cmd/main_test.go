package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hustbus.dev/transit/config"
)

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"Api-Key: secret", " Accept :application/zip", "X-Empty:"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Api-Key": "secret",
		"Accept":  "application/zip",
		"X-Empty": "",
	}, headers)

	_, err = parseHeaders([]string{"no-colon"})
	assert.Error(t, err)
}

func TestOpenStorage(t *testing.T) {
	cfg = &config.Config{
		Storage: config.StorageConfig{Backend: "memory"},
	}
	t.Cleanup(func() { cfg = nil })

	s, err := openStorage()
	require.NoError(t, err)
	defer s.Close()

	counts, err := s.Counts(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Stops)
}
