// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/zipcrawler/internal/api"
	"github.com/JakeFAU/zipcrawler/internal/config"
	"github.com/JakeFAU/zipcrawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/zipcrawler/internal/fetcher/colly"
	"github.com/JakeFAU/zipcrawler/internal/pipeline"
	"github.com/JakeFAU/zipcrawler/internal/storage/gcs"
	"github.com/JakeFAU/zipcrawler/internal/storage/local"
	"github.com/JakeFAU/zipcrawler/internal/storage/memory"
	"github.com/JakeFAU/zipcrawler/internal/storage/postgres"
	redisstore "github.com/JakeFAU/zipcrawler/internal/storage/redis"
	"github.com/JakeFAU/zipcrawler/internal/useragent"
	"github.com/JakeFAU/zipcrawler/internal/worker"
)

// App holds the shared services built from configuration. It is created once
// per command and closed when the command returns.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	redis   *redis.Client
	archive crawler.BlobStore
	records *postgres.RecordStore
	closers []func() error
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	gcsOptions []option.ClientOption
}

// WithGCSClientOptions passes client options to the GCS archive client.
func WithGCSClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) {
		o.gcsOptions = append(o.gcsOptions, opts...)
	}
}

// New creates the App from cfg. It fails fast when a configured backend
// cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: logger}
	logger.Info("initializing application services",
		zap.String("results", cfg.Results.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
	)

	if err := a.initResults(ctx); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	if err := a.initArchive(ctx, o); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	if err := a.initRecords(ctx); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	return a, nil
}

func (a *App) initResults(ctx context.Context) error {
	switch a.cfg.Results.Backend {
	case "", "memory":
		return nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: a.cfg.Results.RedisAddr})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", a.cfg.Results.RedisAddr, err)
		}
		a.redis = client
		return nil
	default:
		return fmt.Errorf("unknown results backend: %s", a.cfg.Results.Backend)
	}
}

func (a *App) initArchive(ctx context.Context, o options) error {
	switch a.cfg.Archive.Backend {
	case "", "none":
		return nil
	case "local":
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.Dir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.archive = store
		return nil
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.GCSBucket}, o.gcsOptions...)
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.archive = store
		return nil
	default:
		return fmt.Errorf("unknown archive backend: %s", a.cfg.Archive.Backend)
	}
}

func (a *App) initRecords(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		return nil
	}
	store, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("init record store: %w", err)
	}
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	if err := store.EnsureTable(ctx); err != nil {
		return fmt.Errorf("init record store: %w", err)
	}
	a.records = store
	return nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Archive returns the raw page archive, or nil when archiving is off.
func (a *App) Archive() crawler.BlobStore {
	return a.archive
}

// Records returns the record store, or nil when no database is configured.
func (a *App) Records() crawler.RecordStore {
	if a.records == nil {
		return nil
	}
	return a.records
}

// ResultStores returns the factory for per-run raw result stores.
func (a *App) ResultStores() pipeline.StoreFactory {
	if a.redis == nil {
		return func(string) (crawler.ResultStore, error) {
			return memory.NewResultStore(), nil
		}
	}
	return func(runID string) (crawler.ResultStore, error) {
		return redisstore.NewResultStore(a.redis, a.cfg.Results.KeyPrefix, runID), nil
	}
}

// Checks returns readiness checks for the configured backends.
func (a *App) Checks() map[string]api.Check {
	checks := map[string]api.Check{}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}
	}
	if a.records != nil {
		checks["postgres"] = a.records.Ping
	}
	return checks
}

// NewPipeline builds a Pipeline from the configured fetcher, decorator and
// stores.
func (a *App) NewPipeline() (*pipeline.Pipeline, error) {
	fetch := a.cfg.Fetch
	fetcher := collyfetcher.New(collyfetcher.Config{
		RespectRobots:       fetch.RespectRobots,
		ConnectTimeout:      fetch.ConnectTimeout(),
		ReadTimeout:         fetch.ReadTimeout(),
		InsecureSkipVerify:  fetch.InsecureSkipVerify,
		MaxIdleConnsPerHost: a.cfg.Pool.Size,
	})
	var uaOpts []useragent.Option
	if len(fetch.BrowserFamilies) > 0 {
		uaOpts = append(uaOpts, useragent.WithFamilies(fetch.BrowserFamilies...))
	}
	p, err := pipeline.New(pipeline.Config{
		PoolSize:      a.cfg.Pool.Size,
		QueueCapacity: a.cfg.Pool.QueueCapacity,
		Worker: worker.Config{
			TimeoutCooldown:     fetch.Cooldown(),
			ProgressLogInterval: a.cfg.Pool.ProgressLogInterval,
		},
		ArchivePrefix: a.cfg.Archive.Prefix,
	}, pipeline.Deps{
		Fetcher:   fetcher,
		Decorator: useragent.New(uaOpts...),
		NewStore:  a.ResultStores(),
		Archive:   a.archive,
		Records:   a.Records(),
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return p, nil
}

// Close shuts down every service in reverse order of creation and flushes
// the logger.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	// Sync fails on stdout/stderr on some platforms; nothing to act on.
	_ = a.logger.Sync()
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
		return err
	}
	return nil
}
