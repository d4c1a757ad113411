package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := New(Options{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	log.Info().Msg("hidden")
	log.Warn().Str("component", "worker").Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"component":"worker"`)
	assert.Contains(t, buf.String(), `"message":"shown"`)
}

func TestNewEmptyLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := New(Options{Format: "json"}, &buf)
	require.NoError(t, err)

	log.Debug().Msg("debug")
	log.Info().Msg("info")
	assert.NotContains(t, buf.String(), `"message":"debug"`)
	assert.Contains(t, buf.String(), `"message":"info"`)
}

func TestNewBadLevel(t *testing.T) {
	_, _, err := New(Options{Level: "loud"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "worker.log")
	var buf bytes.Buffer
	log, closer, err := New(Options{Level: "info", Format: "console", File: path}, &buf)
	require.NoError(t, err)

	log.Info().Msg("to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"to both"`)
	assert.Contains(t, buf.String(), "to both")
}
