package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "worker-0", c.WorkerID)
	assert.Equal(t, 50052, c.WorkerPort)
	assert.Equal(t, 9090, c.MetricsPort)
	assert.Equal(t, ExecutorSimulation, c.ExecutorType)
	assert.Equal(t, 5*time.Millisecond, c.SimLatency)
	assert.Equal(t, 0, c.InputBatchAxis)
	assert.False(t, c.EagerSetup)
	assert.Equal(t, "console", c.LogFormat)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("WORKER_ID", "gpu-3")
	t.Setenv("WORKER_PORT", "6000")
	t.Setenv("EXECUTOR_TYPE", "square")
	t.Setenv("SIM_LATENCY", "20ms")
	t.Setenv("OUTPUT_BATCH_AXIS", "-1")
	t.Setenv("EAGER_SETUP", "true")

	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "gpu-3", c.WorkerID)
	assert.Equal(t, 6000, c.WorkerPort)
	assert.Equal(t, ExecutorSquare, c.ExecutorType)
	assert.Equal(t, 20*time.Millisecond, c.SimLatency)
	assert.Equal(t, -1, c.OutputBatchAxis)
	assert.True(t, c.EagerSetup)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker_id: from-file\nexecutor_type: echo\nbroadcast_interval: 1s\n"), 0o600))
	t.Setenv("EXECUTOR_TYPE", "square")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", c.WorkerID)
	assert.Equal(t, ExecutorSquare, c.ExecutorType)
	assert.Equal(t, time.Second, c.BroadcastInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			WorkerID:          "w",
			WorkerPort:        1,
			MetricsPort:       2,
			ExecutorType:      ExecutorEcho,
			BroadcastInterval: time.Second,
			LogFormat:         "json",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty id", mutate: func(c *Config) { c.WorkerID = "" }},
		{name: "port range", mutate: func(c *Config) { c.MetricsPort = 70000 }},
		{name: "executor", mutate: func(c *Config) { c.ExecutorType = "onnx" }},
		{name: "axis", mutate: func(c *Config) { c.InputBatchAxis = -2 }},
		{name: "interval", mutate: func(c *Config) { c.BroadcastInterval = 0 }},
		{name: "log format", mutate: func(c *Config) { c.LogFormat = "xml" }},
	}

	c := base()
	require.NoError(t, c.Validate())

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(&c)
			require.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}
}
