package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/case-documents/internal/bootstrap"
	"github.com/kirillkom/case-documents/internal/config"
	"github.com/kirillkom/case-documents/internal/core/domain"
	"github.com/kirillkom/case-documents/internal/core/usecase"
	"github.com/kirillkom/case-documents/internal/observability/logging"
	"github.com/kirillkom/case-documents/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, workerMetrics.Engine())
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	refresher := usecase.NewOverviewRefresher(app.Overview, workerMetrics)

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "queue_group", cfg.NATSQueueGroup)
	err = app.Queue.SubscribeDocumentEvents(ctx, func(handlerCtx context.Context, event domain.DocumentEvent) error {
		workerMetrics.StartEvent()
		workerMetrics.ObserveEventLag("worker", time.Since(event.OccurredAt))
		start := time.Now()

		refreshCtx, cancel := context.WithTimeout(handlerCtx, cfg.OverviewTimeout+5*time.Second)
		defer cancel()
		err := refresher.HandleEvent(refreshCtx, event)

		workerMetrics.FinishEvent("worker", string(event.Type), time.Since(start), err)
		return err
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
	}
}
