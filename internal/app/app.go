// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/publisher/pubsub"
	"github.com/JakeFAU/sitecrawler/internal/results"
	"github.com/JakeFAU/sitecrawler/internal/state"
	"github.com/JakeFAU/sitecrawler/internal/state/postgres"
	"github.com/JakeFAU/sitecrawler/internal/state/sqlite"
	"github.com/JakeFAU/sitecrawler/internal/storage"
	"github.com/JakeFAU/sitecrawler/internal/storage/gcs"
	"github.com/JakeFAU/sitecrawler/internal/storage/local"
)

// App holds the shared services a command needs: logger, checkpoint store,
// results writer, and completion publisher. It is built once per process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	state     crawler.StateStore
	results   *results.Writer
	publisher crawler.Publisher
	closers   []func() error

	local *local.BlobStore
	gcs   *gcs.BlobStore
}

// GetConfig returns the loaded configuration.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetStateStore returns the configured checkpoint store.
func (a *App) GetStateStore() crawler.StateStore {
	return a.state
}

// GetResultsWriter returns the results writer, or nil when output is disabled.
func (a *App) GetResultsWriter() *results.Writer {
	return a.results
}

// GetPublisher returns the completion publisher, or nil when no topic is set.
func (a *App) GetPublisher() crawler.Publisher {
	return a.publisher
}

// New creates the services selected by cfg. It fails fast if any backend
// cannot be initialized and releases whatever was opened before the failure.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	a.logger.Info("Initializing application services...")

	store, err := a.newStateStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize state store: %w", err)
	}
	a.state = store

	switch a.cfg.Output.Backend {
	case config.BackendNone:
		a.logger.Info("Results output disabled")
	default:
		blobs, err := a.blobStore(ctx, a.cfg.Output.Backend)
		if err != nil {
			return fmt.Errorf("failed to initialize results output: %w", err)
		}
		a.results = results.NewWriter(blobs, a.cfg.Output.Path)
	}

	if a.cfg.PubSub.Topic != "" {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to initialize publisher: %w", err)
		}
		pub := pubsub.New(client)
		a.closers = append(a.closers, pub.Close)
		a.publisher = pub
		a.logger.Info("Publishing completion events", zap.String("topic", a.cfg.PubSub.Topic))
	}

	a.logger.Info("Application services initialized successfully.")
	return nil
}

func (a *App) newStateStore(ctx context.Context) (crawler.StateStore, error) {
	switch a.cfg.State.Backend {
	case config.BackendNone:
		a.logger.Info("Using in-memory state; the run cannot be resumed")
		return state.NewMemoryStore(), nil
	case config.BackendPostgres:
		a.logger.Info("Using Postgres state store", zap.String("table", a.cfg.State.Postgres.Table))
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      a.cfg.State.Postgres.DSN,
			Table:    a.cfg.State.Postgres.Table,
			Key:      a.cfg.State.Key,
			MaxConns: a.cfg.State.Postgres.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		return store, nil
	case config.BackendSQLite:
		a.logger.Info("Using SQLite state store", zap.String("path", a.cfg.State.SQLite.Path))
		store, err := sqlite.Open(ctx, a.cfg.State.SQLite.Path, a.cfg.State.Key)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		blobs, err := a.blobStore(ctx, a.cfg.State.Backend)
		if err != nil {
			return nil, err
		}
		a.logger.Info("Using blob state store",
			zap.String("backend", a.cfg.State.Backend),
			zap.String("key", a.cfg.State.Key),
		)
		return state.NewBlobStore(blobs, a.cfg.State.Key)
	}
}

// blobStore returns the shared local or GCS store, opening it on first use.
func (a *App) blobStore(ctx context.Context, backend string) (storage.BlobStore, error) {
	switch backend {
	case config.BackendFile:
		if a.local == nil {
			store, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
			if err != nil {
				return nil, err
			}
			a.local = store
		}
		return a.local, nil
	case config.BackendGCS:
		if a.gcs == nil {
			store, err := gcs.Open(ctx, gcs.Config{
				Bucket: a.cfg.Storage.GCSBucket,
				Prefix: a.cfg.Storage.GCSPrefix,
			})
			if err != nil {
				return nil, err
			}
			a.gcs = store
			a.closers = append(a.closers, store.Close)
		}
		return a.gcs, nil
	default:
		return nil, fmt.Errorf("unknown blob backend: %s", backend)
	}
}

// Close shuts down all services in reverse order of creation. It is called
// by a Cobra hook after the command finishes execution.
func (a *App) Close() {
	a.logger.Info("Shutting down application services...")
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	// Best-effort flush; stderr sync fails on some platforms.
	_ = a.logger.Sync()
}
