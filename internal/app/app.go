// Package app assembles the scrape pipeline from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maltedev/mercari-scraper/internal/browser"
	"github.com/maltedev/mercari-scraper/internal/collector"
	"github.com/maltedev/mercari-scraper/internal/config"
	"github.com/maltedev/mercari-scraper/internal/database"
	"github.com/maltedev/mercari-scraper/internal/events"
	"github.com/maltedev/mercari-scraper/internal/extract"
	"github.com/maltedev/mercari-scraper/internal/jobs"
	"github.com/maltedev/mercari-scraper/internal/metrics"
	"github.com/maltedev/mercari-scraper/internal/orchestrator"
	"github.com/maltedev/mercari-scraper/internal/ratelimit"
	"github.com/maltedev/mercari-scraper/internal/storage"
	"github.com/maltedev/mercari-scraper/internal/storage/badger"
	"github.com/maltedev/mercari-scraper/internal/validation"
)

type App struct {
	Config       *config.Config
	Site         *config.Site
	Metrics      *metrics.Metrics
	Orchestrator *orchestrator.Orchestrator
	Jobs         jobs.Store
	// DB is set only for the postgres storage backend.
	DB *database.DB

	closers []func() error
	logger  *slog.Logger
}

// New builds the storage backend, the extraction stack and the
// orchestrator described by cfg. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	site, err := config.LoadSite(cfg.SiteFile)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Site:    site,
		Metrics: metrics.New(),
		Jobs:    jobs.NewMemoryStore(),
		logger:  logger.With("component", "app"),
	}

	sink, err := a.openStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	launcher, err := browser.LauncherFor(cfg.Browser.Backend)
	if err != nil {
		a.Close()
		return nil, err
	}

	ex, err := extract.NewExtractor(site.Extract, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build extractor: %w", err)
	}

	a.Orchestrator, err = orchestrator.New(orchestrator.Deps{
		Launcher:  launcher,
		Browser:   cfg.BrowserOptions(),
		Collector: collector.New(a.collectorConfig(), nil, logger),
		Extractor: ex,
		Validator: validation.New(site.Extract.UnknownName, site.Extract.ZeroPriceText),
		Sink:      sink,
	}, logger,
		orchestrator.WithLimiter(ratelimit.NewAdaptiveRateLimiter(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitMax)),
		orchestrator.WithMetrics(a.Metrics),
		orchestrator.WithScreenshotDir(cfg.Scraper.ScreenshotDir),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.logger.Info("pipeline ready",
		"browser", cfg.Browser.Backend,
		"storage", cfg.Storage.Backend,
		"site", site.BaseURL)
	return a, nil
}

func (a *App) collectorConfig() collector.Config {
	cc := collector.DefaultConfig()
	cc.LinkSelectors = a.Site.LinkSelectors
	cc.NextPageSelectors = a.Site.NextPageSelectors
	cc.ScrollCycles = a.Config.Scraper.ScrollCycles
	cc.ScrollDelay = a.Config.Scraper.ScrollDelay
	cc.MaxRetries = a.Config.Scraper.MaxRetries
	cc.RetryDelay = a.Config.Scraper.RetryDelay
	cc.MaxPages = a.Config.Scraper.MaxPages
	return cc
}

func (a *App) openStorage(ctx context.Context) (*storage.UpsertSink, error) {
	cfg := a.Config

	switch cfg.Storage.Backend {
	case config.StorageMemory:
		return storage.NewUpsertSink(storage.NewMemoryStore(), a.logger), nil

	case config.StorageFile:
		fs, err := storage.NewFileStore(cfg.Storage.FilePath)
		if err != nil {
			return nil, err
		}
		return storage.NewUpsertSink(fs, a.logger), nil

	case config.StorageBadger:
		bs, err := badger.Open(cfg.Storage.BadgerDir)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, bs.Close)
		return storage.NewUpsertSink(bs, a.logger), nil

	case config.StoragePostgres:
		db, err := database.New(ctx, cfg.DatabaseConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
		a.DB = db
		a.Jobs = database.NewJobStore(db)

		publisher := events.NewPublisher(db, cfg.Redis.Stream, a.logger)
		return storage.NewUpsertSink(database.NewProductStore(db), a.logger, storage.WithNotifier(publisher)), nil
	}

	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// Close releases storage handles in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
