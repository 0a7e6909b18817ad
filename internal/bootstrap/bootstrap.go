package bootstrap

import (
	"context"
	"fmt"

	"github.com/kirillkom/case-documents/internal/config"
	"github.com/kirillkom/case-documents/internal/core/domain"
	"github.com/kirillkom/case-documents/internal/core/ports"
	"github.com/kirillkom/case-documents/internal/core/usecase"
	"github.com/kirillkom/case-documents/internal/infrastructure/cache"
	"github.com/kirillkom/case-documents/internal/infrastructure/queue/nats"
	"github.com/kirillkom/case-documents/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/case-documents/internal/infrastructure/resilience"
	"github.com/kirillkom/case-documents/internal/observability/metrics"
)

type App struct {
	Config config.Config

	Queue     *nats.Queue
	Templates *cache.TemplateCache

	Registry  *usecase.RegistryService
	Documents *usecase.DocumentService
	Overview  *usecase.OverviewService

	closeFn func()
}

// New wires storage, messaging and use cases. engine may be nil.
func New(ctx context.Context, cfg config.Config, engine *metrics.EngineMetrics) (*App, error) {
	policy, err := oneTimePolicy(cfg.OneTimeReplacePolicy)
	if err != nil {
		return nil, err
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	instances := postgres.NewDocumentRepository(db)
	if err := instances.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	executor := resilience.NewExecutor(resilienceConfig(cfg))
	var recorder ports.EngineRecorder
	if engine != nil {
		executor = executor.WithStateObserver(engine.ObserveBreaker)
		recorder = engine
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		QueueGroup:         cfg.NATSQueueGroup,
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init event queue: %w", err)
	}

	templates := cache.NewTemplateCache(postgres.NewTemplateRepository(db), cfg.TemplateCacheTTL)
	entities := postgres.NewResilientEntityDirectory(postgres.NewEntityDirectory(db), executor)

	registry := usecase.NewRegistryService(templates, queue)
	documents := usecase.NewDocumentService(instances, templates, entities, queue, usecase.DocumentServiceOptions{
		OneTimePolicy: policy,
		Recorder:      recorder,
	})
	overview := usecase.NewOverviewService(postgres.NewSnapshotRepository(db), recorder, cfg.OverviewTimeout)

	return &App{
		Config:    cfg,
		Queue:     queue,
		Templates: templates,
		Registry:  registry,
		Documents: documents,
		Overview:  overview,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func oneTimePolicy(raw string) (domain.OneTimeReplacePolicy, error) {
	switch policy := domain.OneTimeReplacePolicy(raw); policy {
	case "", domain.OneTimeOverwrite:
		return domain.OneTimeOverwrite, nil
	case domain.OneTimeReject:
		return policy, nil
	default:
		return "", fmt.Errorf("ONE_TIME_REPLACE_POLICY: unknown value %q", raw)
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	return resilience.DefaultConfig().WithLimits(cfg.ResilienceMaxRetries, cfg.ResilienceBreaker)
}
