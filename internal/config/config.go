package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the config-hub configuration
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Types   TypesConfig   `yaml:"types"`
	Runner  RunnerConfig  `yaml:"runner"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig locates the on-disk data.
type StorageConfig struct {
	Root    string `yaml:"root"`     // base directory for stores
	JobsDir string `yaml:"jobs_dir"` // flat job directory, relative to root
}

// TypesConfig locates the configuration-type registry file.
type TypesConfig struct {
	File string `yaml:"file"`
}

// RunnerConfig contains execution service connection settings
type RunnerConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// JobsConfig tunes the background worker pool.
type JobsConfig struct {
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables in the config
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Set defaults
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "data"
	}
	if cfg.Storage.JobsDir == "" {
		cfg.Storage.JobsDir = "jobs"
	}
	if cfg.Types.File == "" {
		cfg.Types.File = "configs/types.yaml"
	}
	if cfg.Runner.Timeout == 0 {
		cfg.Runner.Timeout = 30 * time.Second
	}
	if cfg.Jobs.Workers == 0 {
		cfg.Jobs.Workers = 2
	}
	if cfg.Jobs.QueueSize == 0 {
		cfg.Jobs.QueueSize = 64
	}
	if cfg.Jobs.SweepInterval == 0 {
		cfg.Jobs.SweepInterval = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	return &cfg, nil
}
