// Package bootstrap wires configuration into the running application.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ivankoval/vault-inbox/internal/config"
	"github.com/ivankoval/vault-inbox/internal/core/ports"
	"github.com/ivankoval/vault-inbox/internal/core/usecase"
	"github.com/ivankoval/vault-inbox/internal/infrastructure/aiservice"
	"github.com/ivankoval/vault-inbox/internal/infrastructure/extractor"
	natsfeed "github.com/ivankoval/vault-inbox/internal/infrastructure/feed/nats"
	"github.com/ivankoval/vault-inbox/internal/infrastructure/repository/postgres"
	"github.com/ivankoval/vault-inbox/internal/infrastructure/resilience"
	"github.com/ivankoval/vault-inbox/internal/infrastructure/vault"
	"github.com/ivankoval/vault-inbox/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Store   *vault.Store
	Records *usecase.RecordManager
	Queue   *usecase.Queue
	Runner  *usecase.Runner
	Inbox   *usecase.Inbox
	Feed    ports.EventFeed

	RecordStore     ports.RecordStore
	PipelineMetrics *metrics.PipelineMetrics

	closeFn func()
}

// New wires the full pipeline. The api process uses NewGatewayDeps
// instead; it does not need the vault, AI client, or workers.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewRecordRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig(), logger)
	feed, err := natsfeed.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsfeed.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init event feed: %w", err)
	}

	store := vault.NewStore(cfg.VaultPath)
	templates := vault.NewTemplates(store, cfg.TemplatesPath)
	pipelineMetrics := metrics.NewPipelineMetrics("inboxd")

	ai := aiservice.New(aiservice.Options{
		BaseURL:      cfg.AIBaseURL,
		APIKey:       cfg.AIAPIKey,
		TextTimeout:  cfg.AITextTimeout,
		AudioTimeout: cfg.AIAudioTimeout,
		RateLimitRPS: cfg.AIRateLimitRPS,
		Observer:     pipelineMetrics,
	}, executor)

	extractors := []ports.Extractor{
		extractor.NewMarkdown(store),
		extractor.NewPDF(store, cfg.PDFMaxPages),
		extractor.NewImage(store, ai),
		extractor.NewAudio(store, ai),
		extractor.NewSpreadsheet(store),
	}

	records := usecase.NewRecordManager(repo, logger)
	queue := usecase.NewQueue()
	runner := usecase.NewRunner(usecase.RunnerConfig{
		IgnoreFolders:      cfg.IgnoreFolders,
		DefaultDestination: cfg.DefaultDestination,
		AttachmentsFolder:  cfg.AttachmentsPath,
		TagScoreThreshold:  cfg.TagScoreThreshold,
		ClassifyEnabled:    cfg.ClassifyEnabled,
		RenameEnabled:      cfg.RenameEnabled,
		MaxAttempts:        cfg.PipelineMaxAttempts,
	}, queue, records, ai, store, templates, extractors, pipelineMetrics, logger)
	inbox := usecase.NewInbox(queue, records, runner, cfg.PipelineWorkers, logger)

	return &App{
		Config:          cfg,
		Logger:          logger,
		Store:           store,
		Records:         records,
		Queue:           queue,
		Runner:          runner,
		Inbox:           inbox,
		Feed:            feed,
		RecordStore:     repo,
		PipelineMetrics: pipelineMetrics,
		closeFn: func() {
			feed.Close()
			_ = db.Close()
		},
	}, nil
}

// GatewayDeps is the slim wiring for the api process: records store
// plus event feed, no pipeline.
type GatewayDeps struct {
	RecordStore ports.RecordStore
	Feed        ports.EventFeed
	VaultStore  *vault.Store

	closeFn func()
}

func NewGatewayDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (*GatewayDeps, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewRecordRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	feed, err := natsfeed.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsfeed.Options{
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig(), logger),
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init event feed: %w", err)
	}

	return &GatewayDeps{
		RecordStore: repo,
		Feed:        feed,
		VaultStore:  vault.NewStore(cfg.VaultPath),
		closeFn: func() {
			feed.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func (g *GatewayDeps) Close() {
	if g.closeFn != nil {
		g.closeFn()
	}
}

// RunRetention prunes terminal records per the configured limits.
// A zero limit disables that dimension.
func (a *App) RunRetention(ctx context.Context) {
	if a.Config.RetentionMaxAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -a.Config.RetentionMaxAgeDays)
		deleted, err := a.RecordStore.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			a.Logger.Error("retention sweep by age failed", "error", err)
		} else if deleted > 0 {
			a.Logger.Info("retention sweep by age", "deleted", deleted)
		}
	}
	if a.Config.RetentionMaxRecords > 0 {
		deleted, err := a.RecordStore.TrimToCount(ctx, a.Config.RetentionMaxRecords)
		if err != nil {
			a.Logger.Error("retention sweep by count failed", "error", err)
		} else if deleted > 0 {
			a.Logger.Info("retention sweep by count", "deleted", deleted)
		}
	}
}
