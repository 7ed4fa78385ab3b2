// Package config loads the application configuration from an optional YAML
// file with environment-variable overrides (MYX_ prefix).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
	Pipeline PipelineConfig `yaml:"pipeline" envconfig:"PIPELINE"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/myx.log"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DatasetsDir string `yaml:"datasets_dir" envconfig:"DATASETS_DIR" default:"datasets"`
	FlowsDir    string `yaml:"flows_dir" envconfig:"FLOWS_DIR" default:"flows"`
	LogsDir     string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// PipelineConfig contains processing defaults
type PipelineConfig struct {
	// Workers bounds how many partitions are processed concurrently within
	// one step. Partitions share no state, so any value >= 1 is safe.
	Workers int `yaml:"workers" envconfig:"WORKERS" default:"4"`
	// MinWindow is the smallest incremental delta worth reprocessing.
	MinWindow time.Duration `yaml:"min_window" envconfig:"MIN_WINDOW" default:"1h"`
	// OmitEmptyBuckets drops all-null aggregation rows instead of emitting
	// them with null metrics.
	OmitEmptyBuckets bool `yaml:"omit_empty_buckets" envconfig:"OMIT_EMPTY_BUCKETS" default:"false"`
}

// Load reads the YAML file if present, then applies environment overrides.
func Load(configFile string) (*Config, error) {
	var cfg Config

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := envconfig.Process("MYX", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration, used when no file and no
// environment overrides exist.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "console"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/myx.log"
	}
	if c.Paths.DatasetsDir == "" {
		c.Paths.DatasetsDir = "datasets"
	}
	if c.Paths.FlowsDir == "" {
		c.Paths.FlowsDir = "flows"
	}
	if c.Paths.LogsDir == "" {
		c.Paths.LogsDir = "logs"
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.MinWindow == 0 {
		c.Pipeline.MinWindow = time.Hour
	}
}

func (c *Config) validate() error {
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.MinWindow < 0 {
		return fmt.Errorf("pipeline.min_window must not be negative, got %s", c.Pipeline.MinWindow)
	}
	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("logging.output must be console, file or both, got %q", c.Logging.Output)
	}
	return nil
}
