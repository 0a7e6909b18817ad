package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/case-documents/internal/adapters/http"
	"github.com/kirillkom/case-documents/internal/bootstrap"
	"github.com/kirillkom/case-documents/internal/config"
	"github.com/kirillkom/case-documents/internal/core/usecase"
	"github.com/kirillkom/case-documents/internal/infrastructure/catalog"
	"github.com/kirillkom/case-documents/internal/observability/logging"
	"github.com/kirillkom/case-documents/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, httpMetrics.Engine())
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if cfg.TemplateCatalogPath != "" {
		created, err := app.Registry.SeedCatalog(ctx, catalog.NewFile(cfg.TemplateCatalogPath))
		if err != nil {
			logger.Error("template_catalog_seed_failed", "path", cfg.TemplateCatalogPath, "error", err)
			os.Exit(1)
		}
		logger.Info("template_catalog_seeded", "path", cfg.TemplateCatalogPath, "created", created)
	}

	templateSync := usecase.NewTemplateCacheSync(app.Templates)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if err := app.Queue.WatchDocumentEvents(ctx, templateSync.HandleEvent); err != nil {
			logger.Error("template_watch_failed", "error", err)
		}
	}()

	router := httpadapter.NewRouter(cfg, app.Registry, app.Documents, app.Overview).
		WithMetrics(httpMetrics).
		Handler()
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		logger.Error("api_listen_failed", "addr", server.Addr, "error", err)
		os.Exit(1)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr, "max_connections", cfg.APIMaxConnections)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.APIShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
	<-watchDone
}
