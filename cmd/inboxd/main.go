package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ivankoval/vault-inbox/internal/bootstrap"
	"github.com/ivankoval/vault-inbox/internal/config"
	"github.com/ivankoval/vault-inbox/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.Setup("inboxd", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Records.Load(ctx, app.Store); err != nil {
		logger.Error("load records failed", "error", err)
		os.Exit(1)
	}

	app.Inbox.Start(ctx)
	defer app.Inbox.Stop()

	scanBacklog(ctx, app)
	app.RunRetention(ctx)
	go backlogLoop(ctx, app)

	go func() {
		if err := app.Feed.SubscribeFileDiscovered(ctx, func(handlerCtx context.Context, path string) error {
			app.Inbox.EnqueueFiles(handlerCtx, []string{path})
			return nil
		}); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("file discovered subscription ended", "error", err)
		}
	}()
	go func() {
		if err := app.Feed.SubscribeRequeue(ctx, func(handlerCtx context.Context, id string) error {
			return app.Inbox.Requeue(handlerCtx, id)
		}); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("requeue subscription ended", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.PipelineMetrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", "error", err)
	}
}

// scanBacklog enqueues every file already sitting in the inbox folder,
// catching anything that arrived while the daemon was down or whose
// notification got lost.
func scanBacklog(ctx context.Context, app *bootstrap.App) {
	files, err := app.Store.ListFiles(ctx, app.Config.InboxPath)
	if err != nil {
		app.Logger.Error("backlog scan failed", "error", err)
		return
	}
	if enqueued := app.Inbox.EnqueueFiles(ctx, files); enqueued > 0 {
		app.Logger.Info("backlog scan", "found", len(files), "enqueued", enqueued)
	}
}

func backlogLoop(ctx context.Context, app *bootstrap.App) {
	interval := app.Config.BacklogScanInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scanBacklog(ctx, app)
			app.RunRetention(ctx)
		}
	}
}
