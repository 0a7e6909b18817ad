package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/case-documents/internal/core/domain"
	"github.com/kirillkom/case-documents/internal/core/ports"
)

// OverviewRefresher recomputes the overview of the case a committed mutation touched.
type OverviewRefresher struct {
	overview ports.CaseOverviewer
	gauge    ports.CompletenessGauge
}

func NewOverviewRefresher(overview ports.CaseOverviewer, gauge ports.CompletenessGauge) *OverviewRefresher {
	return &OverviewRefresher{
		overview: overview,
		gauge:    gauge,
	}
}

func (uc *OverviewRefresher) HandleEvent(ctx context.Context, event domain.DocumentEvent) error {
	if !event.AffectsCase() {
		return nil
	}

	overview, err := uc.overview.GetCaseOverview(ctx, event.CaseID)
	if err != nil {
		if domain.IsKind(err, domain.ErrCaseNotFound) {
			if uc.gauge != nil {
				uc.gauge.ForgetCase(event.CaseID)
			}
			return nil
		}
		return fmt.Errorf("refresh overview case_id=%s: %w", event.CaseID, err)
	}
	if uc.gauge != nil {
		uc.gauge.SetCaseMissing(event.CaseID, overview.MissingRequiredDocuments)
	}
	return nil
}

// TemplateCacheSync evicts cached templates changed by any process. Every API
// process runs one on a broadcast subscription.
type TemplateCacheSync struct {
	invalidator ports.TemplateInvalidator
}

func NewTemplateCacheSync(invalidator ports.TemplateInvalidator) *TemplateCacheSync {
	return &TemplateCacheSync{invalidator: invalidator}
}

func (uc *TemplateCacheSync) HandleEvent(_ context.Context, event domain.DocumentEvent) error {
	switch event.Type {
	case domain.EventTemplateUpdated, domain.EventTemplateDeleted:
		if event.TemplateID == "" {
			return fmt.Errorf("%s event without template id", event.Type)
		}
		uc.invalidator.Invalidate(event.TemplateID)
	}
	return nil
}
