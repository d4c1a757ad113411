package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Executor types understood by the worker.
const (
	ExecutorSimulation = "simulation"
	ExecutorSquare     = "square"
	ExecutorEcho       = "echo"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration for the worker service.
type Config struct {
	WorkerID    string `mapstructure:"worker_id" yaml:"worker_id"`
	WorkerPort  int    `mapstructure:"worker_port" yaml:"worker_port"`
	MetricsPort int    `mapstructure:"metrics_port" yaml:"metrics_port"`

	// Runner
	ExecutorType    string        `mapstructure:"executor_type" yaml:"executor_type"` // "simulation", "square" or "echo"
	SimLatency      time.Duration `mapstructure:"sim_latency" yaml:"sim_latency"`
	InputBatchAxis  int           `mapstructure:"input_batch_axis" yaml:"input_batch_axis"`   // -1 means no axis
	OutputBatchAxis int           `mapstructure:"output_batch_axis" yaml:"output_batch_axis"` // -1 means no axis
	EagerSetup      bool          `mapstructure:"eager_setup" yaml:"eager_setup"`

	BroadcastInterval time.Duration `mapstructure:"broadcast_interval" yaml:"broadcast_interval"`

	// Logging
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"` // "console" or "json"
	LogFile   string `mapstructure:"log_file" yaml:"log_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("worker_id", "worker-0")
	v.SetDefault("worker_port", 50052)
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("executor_type", ExecutorSimulation)
	v.SetDefault("sim_latency", 5*time.Millisecond)
	v.SetDefault("input_batch_axis", 0)
	v.SetDefault("output_batch_axis", 0)
	v.SetDefault("eager_setup", false)
	v.SetDefault("broadcast_interval", 500*time.Millisecond)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("log_file", "")
}

// Load reads configuration with the following precedence (highest first):
//  1. Environment variables (WORKER_ID, WORKER_PORT, EXECUTOR_TYPE, ...)
//  2. The YAML file at path, when path is not empty
//  3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.WorkerID == "" {
		return fmt.Errorf("%w: worker_id is empty", ErrInvalid)
	}
	for name, port := range map[string]int{"worker_port": c.WorkerPort, "metrics_port": c.MetricsPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%w: %s %d out of range", ErrInvalid, name, port)
		}
	}
	if !slices.Contains([]string{ExecutorSimulation, ExecutorSquare, ExecutorEcho}, c.ExecutorType) {
		return fmt.Errorf("%w: unknown executor_type %q", ErrInvalid, c.ExecutorType)
	}
	if c.InputBatchAxis < -1 || c.OutputBatchAxis < -1 {
		return fmt.Errorf("%w: batch axes must be >= -1", ErrInvalid)
	}
	if c.BroadcastInterval <= 0 {
		return fmt.Errorf("%w: broadcast_interval must be positive", ErrInvalid)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalid, c.LogFormat)
	}
	return nil
}
