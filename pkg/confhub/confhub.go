// Package confhub provides an embeddable configuration hub: git-backed typed
// configuration stores plus a job lifecycle reconciled against an external
// execution service.
package confhub

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/lei/config-hub/internal/config"
	"github.com/lei/config-hub/internal/executor/runner"
	"github.com/lei/config-hub/internal/jobs"
	"github.com/lei/config-hub/internal/registry"
	"github.com/lei/config-hub/internal/store"
	"github.com/lei/config-hub/pkg/logger"
)

// App is the root object wiring every component together. It is constructed
// once at process start and passed by reference; there are no package-level
// singletons anywhere in the module.
type App struct {
	config   *Config
	logger   *logger.Logger
	registry *registry.Registry
	stores   map[string]*store.Store
	manager  *jobs.Manager
}

// Config holds the configuration for an App.
type Config struct {
	// Storage configuration
	Storage StorageConfig

	// Types declares the known configuration types
	Types map[string]registry.TypeInfo

	// Runner configures the external execution service client
	Runner RunnerConfig

	// Jobs tunes the background worker pool
	Jobs JobsConfig

	// Logging configuration
	Logging LoggingConfig
}

// StorageConfig holds on-disk layout configuration.
type StorageConfig struct {
	Root    string
	JobsDir string
}

// RunnerConfig holds execution service configuration.
type RunnerConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// JobsConfig holds worker pool configuration.
type JobsConfig struct {
	Workers       int
	QueueSize     int
	SweepInterval time.Duration
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

// New creates a new App instance with the provided configuration.
func New(cfg *Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if len(cfg.Types) == 0 {
		return nil, fmt.Errorf("at least one configuration type is required")
	}

	appLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	reg := registry.New(cfg.Types)

	// One git-backed store per configuration type. Relative repository paths
	// resolve against the storage root.
	stores := make(map[string]*store.Store, len(cfg.Types))
	for _, key := range reg.Keys() {
		info, _ := reg.Get(key)
		path := info.Repository.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Storage.Root, path)
		}
		st, err := store.Open(key, path, appLogger)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", key, err)
		}
		stores[key] = st
	}

	jobsDir := cfg.Storage.JobsDir
	if jobsDir == "" {
		jobsDir = "jobs"
	}
	if !filepath.IsAbs(jobsDir) {
		jobsDir = filepath.Join(cfg.Storage.Root, jobsDir)
	}
	jobStore, err := jobs.OpenStore(jobsDir, appLogger)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	exec, err := runner.NewAdapter(&runner.Config{
		URL:     cfg.Runner.URL,
		Token:   cfg.Runner.Token,
		Timeout: cfg.Runner.Timeout,
	}, appLogger)
	if err != nil {
		return nil, fmt.Errorf("initialize runner client: %w", err)
	}
	appLogger.Info("initialized runner client", "url", cfg.Runner.URL)

	manager := jobs.NewManager(stores, reg, jobStore, exec, jobs.Options{
		Workers:       cfg.Jobs.Workers,
		QueueSize:     cfg.Jobs.QueueSize,
		SweepInterval: cfg.Jobs.SweepInterval,
	}, appLogger)

	return &App{
		config:   cfg,
		logger:   appLogger,
		registry: reg,
		stores:   stores,
		manager:  manager,
	}, nil
}

// Start runs the background workers and the reconciliation sweep.
// This is a blocking call that returns when the context is cancelled.
func (a *App) Start(ctx context.Context) error {
	a.manager.Run(ctx)
	a.logger.Info("config hub stopped")
	return nil
}

// Store returns the store for a configuration type.
func (a *App) Store(configType string) (*store.Store, bool) {
	st, ok := a.stores[configType]
	return st, ok
}

// Jobs returns the job lifecycle manager for direct programmatic access.
func (a *App) Jobs() *jobs.Manager {
	return a.manager
}

// Registry returns the configuration type registry.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Logger returns the application logger.
func (a *App) Logger() *logger.Logger {
	return a.logger
}

// NewFromFile creates an App from a yaml configuration file plus the types
// file it references. This mirrors the behavior of the standalone daemon.
func NewFromFile(path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	reg, err := registry.Load(cfg.Types.File)
	if err != nil {
		return nil, fmt.Errorf("load types: %w", err)
	}

	types := make(map[string]registry.TypeInfo)
	for _, key := range reg.Keys() {
		info, _ := reg.Get(key)
		types[key] = info
	}

	return New(&Config{
		Storage: StorageConfig{
			Root:    cfg.Storage.Root,
			JobsDir: cfg.Storage.JobsDir,
		},
		Types: types,
		Runner: RunnerConfig{
			URL:     cfg.Runner.URL,
			Token:   cfg.Runner.Token,
			Timeout: cfg.Runner.Timeout,
		},
		Jobs: JobsConfig{
			Workers:       cfg.Jobs.Workers,
			QueueSize:     cfg.Jobs.QueueSize,
			SweepInterval: cfg.Jobs.SweepInterval,
		},
		Logging: LoggingConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		},
	})
}
