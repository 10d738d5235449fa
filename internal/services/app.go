package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/documentpreview/internal/cache"
	"github.com/Lllllllleong/documentpreview/internal/config"
	"github.com/Lllllllleong/documentpreview/internal/converter"
	"github.com/Lllllllleong/documentpreview/internal/gcp"
	"github.com/Lllllllleong/documentpreview/internal/lock"
	"github.com/Lllllllleong/documentpreview/internal/sources"
)

// App holds every component of the preview service, built once per process.
type App struct {
	Config      *config.Config
	Store       cache.Store
	Coordinator *Coordinator
	Sweeper     *Sweeper
	Preview     *PreviewService

	closers []func() error
}

// NewApp builds the service from cfg. Cloud clients are only created for the
// backends cfg selects.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	var storageClient *storage.Client
	if cfg.Cache.Bucket != "" || cfg.Source.Bucket != "" {
		client, err := gcp.NewStorageClient(ctx)
		if err != nil {
			return nil, err
		}
		storageClient = client
		app.closers = append(app.closers, client.Close)
	}

	if cfg.Cache.Bucket != "" {
		app.Store = cache.NewGCSStore(storageClient, cfg.Cache.Bucket, cfg.Cache.Prefix)
		slog.Info("Using GCS preview cache.", "bucket", cfg.Cache.Bucket, "prefix", cfg.Cache.Prefix)
	} else {
		store, err := cache.NewFSStore(cfg.Cache.Dir)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Store = store
		slog.Info("Using filesystem preview cache.", "dir", cfg.Cache.Dir)
	}

	var fetcher sources.Fetcher
	if cfg.Source.Bucket != "" {
		fetcher = sources.NewGCSFetcher(storageClient, cfg.Source.Bucket, cfg.Source.MaxBytes)
	} else {
		fetcher = sources.NewDirFetcher(cfg.Source.Dir, cfg.Source.MaxBytes)
	}

	engine := converter.New(converter.Config{
		Binary:         cfg.Converter.Binary,
		Timeout:        cfg.Converter.Timeout,
		ScratchDir:     cfg.Converter.ScratchDir,
		Serialize:      cfg.Converter.Serialize,
		ValidateOutput: cfg.Converter.ValidateOutput,
		Optimize:       cfg.Converter.Optimize,
	})

	var coordOpts []CoordinatorOption
	var sweepOpts []SweeperOption

	if cfg.Redis.URL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, client.Close)
		coordOpts = append(coordOpts, WithLocker(lock.NewRedisLocker(client, lock.RedisOptions{
			Expiry:     cfg.LockExpiry(),
			RetryDelay: cfg.Redis.RetryDelay,
			Wait:       cfg.LockExpiry(),
		})))
	}

	if cfg.Ledger.Enabled {
		client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.Ledger.DatabaseID)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, client.Close)
		ledger := NewFirestoreLedger(client, cfg.Ledger.Collection)
		coordOpts = append(coordOpts, WithRecorder(ledger))
		sweepOpts = append(sweepOpts, WithForgetter(ledger))
	}

	app.Coordinator = NewCoordinator(app.Store, engine, cfg.ConversionSlots(), coordOpts...)
	sweepOpts = append(sweepOpts, WithActivity(app.Coordinator), WithWorkers(cfg.Sweeper.Workers))
	app.Sweeper = NewSweeper(app.Store, sweepOpts...)
	app.Preview = NewPreviewService(fetcher, app.Coordinator, app.Store, cfg.BaseURL)

	slog.Info("Preview service initialized.",
		"maxConcurrent", cfg.ConversionSlots(),
		"serialize", cfg.Converter.Serialize,
		"converter", cfg.Converter.Binary,
		"timeout", cfg.Converter.Timeout.String(),
		"crossInstanceLock", cfg.Redis.URL != "",
		"ledger", cfg.Ledger.Enabled)
	return app, nil
}

// Close releases the cloud clients.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close clients: %w", err)
	}
	return nil
}
