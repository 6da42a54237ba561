package commands

import (
	"context"
	"fmt"

	"github.com/spherical/page-pipeline/internal/archive"
	"github.com/spherical/page-pipeline/internal/cache"
	"github.com/spherical/page-pipeline/internal/config"
	"github.com/spherical/page-pipeline/internal/layout"
	"github.com/spherical/page-pipeline/internal/llm"
	"github.com/spherical/page-pipeline/internal/observability"
	"github.com/spherical/page-pipeline/internal/orchestrator"
	"github.com/spherical/page-pipeline/internal/pdf"
	"github.com/spherical/page-pipeline/internal/pipeline"
	"github.com/spherical/page-pipeline/internal/prompt"
	"github.com/spherical/page-pipeline/internal/storage"
)

// app holds the services built from configuration for one command run.
type app struct {
	store        *storage.SQLStore
	cache        cache.Client
	prompts      *prompt.Provider
	layout       *layout.Layout
	orchestrator *orchestrator.Orchestrator
}

// openStore connects to the database and applies migrations.
func openStore(ctx context.Context, cfg *config.Config) (*storage.SQLStore, error) {
	store, err := storage.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	return store, nil
}

// newApp wires the record store, cache, prompt provider and orchestrator.
// listeners receive page progress from every run.
func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger, listeners ...pipeline.Listener) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	cacheClient, err := cache.New(cfg.Cache, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create cache client: %w", err)
	}

	prompts := prompt.NewProvider(store, cacheClient, cfg.Cache.TTL, logger)
	if err := prompts.EnsureDefaults(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not store default prompts")
	}

	lay := layout.New(cfg.Paths)
	listeners = append(listeners, orchestrator.NewProgressPublisher(cacheClient, logger))

	orch := orchestrator.New(orchestrator.Deps{
		Store: store,
		Rasterizer: pdf.NewConverter(
			pdf.WithDPI(cfg.Rasterizer.DPI),
			pdf.WithQuality(cfg.Rasterizer.Quality),
			pdf.WithLogger(logger),
		),
		OCR:       llm.NewOCRClient(cfg.OCR, llm.WithLogger(logger)),
		Translate: llm.NewTranslateClient(cfg.Translate, llm.WithLogger(logger)),
		Prompts:   prompts,
		Layout:    lay,
		Packager:  archive.NewPackager(archive.NewZipBuilder(), logger),
	},
		orchestrator.WithConcurrency(cfg.OCR.MaxConcurrency, cfg.Translate.MaxConcurrency),
		orchestrator.WithPersistRetry(cfg.Pipeline.PersistRetries, cfg.Pipeline.PersistBackoff),
		orchestrator.WithMaxConcurrentTasks(cfg.Pipeline.MaxConcurrentTasks),
		orchestrator.WithKeepImages(cfg.Pipeline.KeepImages),
		orchestrator.WithListener(listeners...),
		orchestrator.WithLogger(logger),
	)

	return &app{
		store:        store,
		cache:        cacheClient,
		prompts:      prompts,
		layout:       lay,
		orchestrator: orch,
	}, nil
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close cache client")
	}
	if err := a.store.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close database")
	}
}
