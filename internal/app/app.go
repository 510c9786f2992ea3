// Package app provides the application lifecycle management for the propsync
// binaries: dependency wiring, the worker loop, and graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/immoflow/propsync/internal/cms"
	"github.com/immoflow/propsync/internal/config"
	"github.com/immoflow/propsync/internal/database"
	"github.com/immoflow/propsync/internal/dicts"
	"github.com/immoflow/propsync/internal/logger"
	"github.com/immoflow/propsync/internal/metrics"
	"github.com/immoflow/propsync/internal/pipeline"
	redisclient "github.com/immoflow/propsync/internal/redis"
	"github.com/immoflow/propsync/internal/source"
	"github.com/immoflow/propsync/internal/staging"
)

const (
	// DefaultShutdownTimeout is the default timeout for graceful shutdown
	DefaultShutdownTimeout = 30 * time.Second

	pingTimeout    = 5 * time.Second
	preloadTimeout = 30 * time.Second
)

// App represents the propsync application with all its dependencies
type App struct {
	config      *config.Config
	logger      logger.Logger
	redisClient redis.UniversalClient
	tracker     *metrics.Tracker
	db          *sqlx.DB // nil when postgres is disabled
	runs        *database.Repository
	service     *pipeline.Service
	version     string
	configPath  string
}

// Options contains configuration for creating a new App
type Options struct {
	ConfigPath string
	Version    string
}

// New creates a new App instance with all dependencies initialized
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	appLogger = appLogger.With(
		logger.String("service", "propsync"),
		logger.String("version", opts.Version),
	)

	redisClient, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		_ = appLogger.Sync()
		return nil, err
	}

	collections := make([]string, 0, len(pipeline.AllKinds()))
	for _, kind := range pipeline.AllKinds() {
		collections = append(collections, kind.CollectionKey())
	}
	tracker := metrics.NewTracker(redisClient, collections, appLogger)

	app := &App{
		config:      cfg,
		logger:      appLogger,
		redisClient: redisClient,
		tracker:     tracker,
		version:     opts.Version,
		configPath:  opts.ConfigPath,
	}

	if err := app.initDatabase(); err != nil {
		app.closeOnInitFailure()
		return nil, err
	}
	if err := app.initPipeline(); err != nil {
		app.closeOnInitFailure()
		return nil, err
	}

	return app, nil
}

// initDatabase connects the optional run-history database and ensures its
// schema exists.
func (a *App) initDatabase() error {
	if !a.config.Postgres.Enabled {
		a.logger.Info("Run history database disabled")
		return nil
	}

	db, err := database.NewPostgresConnection(database.Config{
		Host:         a.config.Postgres.Host,
		Port:         a.config.Postgres.Port,
		User:         a.config.Postgres.User,
		Password:     a.config.Postgres.Password,
		DBName:       a.config.Postgres.DBName,
		SSLMode:      a.config.Postgres.SSLMode,
		MaxOpenConns: a.config.Postgres.MaxOpenConns,
		MaxIdleConns: a.config.Postgres.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}

	repo := database.NewRepository(db)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := repo.Migrate(ctx); err != nil {
		_ = database.Close(db)
		return fmt.Errorf("migrate run history schema: %w", err)
	}

	a.db = db
	a.runs = repo
	return nil
}

// initPipeline wires the provider, staging and CMS clients into the
// reconciliation service.
func (a *App) initPipeline() error {
	sourceClient, err := source.NewClient(a.config.Source, a.logger)
	if err != nil {
		return fmt.Errorf("create source client: %w", err)
	}

	stagingClient, err := staging.NewClient(a.config.Staging, a.logger)
	if err != nil {
		return fmt.Errorf("create staging client: %w", err)
	}

	cmsClient, err := cms.NewClient(a.config.CMS, a.logger)
	if err != nil {
		return fmt.Errorf("create cms client: %w", err)
	}

	resolver := dicts.NewResolver(sourceClient, a.logger)

	// Warm the dictionary tables up front. A failed preload is not fatal;
	// the resolver retries per lookup.
	ctx, cancel := context.WithTimeout(context.Background(), preloadTimeout)
	defer cancel()
	if err := resolver.Preload(ctx,
		dicts.Types, dicts.Subtypes, dicts.Statuses, dicts.States,
		dicts.Heating, dicts.Facilities, dicts.Environments, dicts.Layouts,
		dicts.Technicals,
	); err != nil {
		a.logger.Warn("Dictionary preload incomplete", logger.Error(err))
	}

	reader := source.NewReader(sourceClient, a.config.Sync.PageSize, a.config.Sync.MaxPages, a.logger)

	opts := pipeline.Options{
		Config:      a.config.Sync,
		Collections: a.config.CMS.Collections,
		Reader:      reader,
		Feed:        sourceClient,
		Staging:     stagingClient,
		Target:      cmsClient,
		Dicts:       resolver,
		Mapper:      staging.NewMapper(resolver, a.logger),
		Tracker:     a.tracker,
		Logger:      a.logger,
	}
	if a.runs != nil {
		opts.Runs = a.runs
	}

	service, err := pipeline.NewService(opts)
	if err != nil {
		return fmt.Errorf("create pipeline service: %w", err)
	}
	a.service = service
	return nil
}

func (a *App) closeOnInitFailure() {
	if a.db != nil {
		_ = database.Close(a.db)
	}
	_ = a.redisClient.Close()
	_ = a.logger.Sync()
}

// Run starts the sync worker and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	workerErr := make(chan error, 1)

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	go func() {
		a.logger.Info("Starting sync worker",
			logger.String("config_path", a.configPath),
			logger.Bool("debug", a.config.Debug),
			logger.Duration("interval", a.config.Sync.Interval),
		)
		workerErr <- a.service.Run(workerCtx)
	}()

	return a.waitForShutdown(workerCancel, workerErr)
}

// SyncOne stages and republishes a single record by its source id.
func (a *App) SyncOne(ctx context.Context, sourceID int) error {
	run, err := a.service.SyncOne(ctx, sourceID)
	if err != nil {
		return err
	}
	a.logger.Info("Single-record sync complete",
		logger.String("run_id", run.RunID),
		logger.Int("created", run.Created),
		logger.Int("updated", run.Updated),
		logger.Int("errors", run.Errors),
	)
	return nil
}

// waitForShutdown handles graceful shutdown. On a signal the worker context
// is cancelled; the in-flight record finishes and the pass stops between
// records, never mid-sweep.
func (a *App) waitForShutdown(workerCancel context.CancelFunc, workerErr chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var shutdownErr error

	select {
	case sig := <-sigChan:
		a.logger.Info("Shutting down gracefully",
			logger.String("signal", sig.String()),
		)
		workerCancel()
		a.waitForWorker(workerErr)

	case err := <-workerErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("Worker error", logger.Error(err))
			shutdownErr = err
		}
	}

	a.logger.Info("Service stopped")
	return shutdownErr
}

// waitForWorker waits for the worker goroutine to finish
func (a *App) waitForWorker(workerErr chan error) {
	err := <-workerErr
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Worker error", logger.Error(err))
	} else {
		a.logger.Info("Worker stopped")
	}
}

// Close cleans up resources
func (a *App) Close() error {
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warn("Failed to close database", logger.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", logger.Error(err))
		}
	}
	return a.logger.Sync()
}

// Config returns the loaded configuration
func (a *App) Config() *config.Config {
	return a.config
}

// Logger returns the application logger
func (a *App) Logger() logger.Logger {
	return a.logger
}

// Tracker returns the metrics tracker
func (a *App) Tracker() *metrics.Tracker {
	return a.tracker
}

// Runs returns the run-history repository, or nil when postgres is disabled
func (a *App) Runs() *database.Repository {
	return a.runs
}

// Redis returns the shared Redis client
func (a *App) Redis() redis.UniversalClient {
	return a.redisClient
}
