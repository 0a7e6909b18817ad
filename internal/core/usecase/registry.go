package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/case-documents/internal/core/domain"
	"github.com/kirillkom/case-documents/internal/core/ports"
)

type RegistryService struct {
	repo   ports.TemplateRepository
	events eventSink
	now    func() time.Time
}

func NewRegistryService(repo ports.TemplateRepository, events ports.EventPublisher) *RegistryService {
	return &RegistryService{
		repo:   repo,
		events: eventSink{pub: events},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (uc *RegistryService) CreateTemplate(ctx context.Context, in domain.TemplateInput) (*domain.Template, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := uc.now()
	tmpl := &domain.Template{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyInput(tmpl, in)

	if err := uc.repo.CreateTemplate(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	uc.events.publish(ctx, domain.DocumentEvent{Type: domain.EventTemplateCreated, TemplateID: tmpl.ID, OccurredAt: now})
	return tmpl, nil
}

func (uc *RegistryService) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.Invalid("template_id", "must not be empty")
	}
	return uc.repo.GetTemplate(ctx, id)
}

func (uc *RegistryService) ListTemplates(ctx context.Context, filter domain.TemplateFilter) ([]domain.Template, error) {
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, domain.Invalid("category", "unknown value %q", filter.Category)
	}
	if filter.TargetKind != "" && !filter.TargetKind.Valid() {
		return nil, domain.Invalid("target_kind", "unknown value %q", filter.TargetKind)
	}
	return uc.repo.ListTemplates(ctx, filter)
}

func (uc *RegistryService) UpdateTemplate(ctx context.Context, id string, patch domain.TemplatePatch) (*domain.Template, error) {
	current, err := uc.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}

	in := patch.Apply(current.Input()).Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	updated := *current
	applyInput(&updated, in)
	updated.UpdatedAt = uc.now()

	if err := uc.repo.UpdateTemplate(ctx, &updated); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	uc.events.publish(ctx, domain.DocumentEvent{Type: domain.EventTemplateUpdated, TemplateID: id, OccurredAt: updated.UpdatedAt})
	return &updated, nil
}

func (uc *RegistryService) DeleteTemplate(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.Invalid("template_id", "must not be empty")
	}
	if err := uc.repo.DeleteTemplate(ctx, id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	uc.events.publish(ctx, domain.DocumentEvent{Type: domain.EventTemplateDeleted, TemplateID: id, OccurredAt: uc.now()})
	return nil
}

// SeedCatalog creates catalog templates that are not yet registered.
// Existing templates are matched by display name and category and left untouched.
func (uc *RegistryService) SeedCatalog(ctx context.Context, catalog ports.TemplateCatalog) (int, error) {
	inputs, err := catalog.Templates(ctx)
	if err != nil {
		return 0, fmt.Errorf("load template catalog: %w", err)
	}
	existing, err := uc.repo.ListTemplates(ctx, domain.TemplateFilter{})
	if err != nil {
		return 0, fmt.Errorf("list templates: %w", err)
	}

	seen := make(map[string]struct{}, len(existing))
	for _, tmpl := range existing {
		seen[templateKey(tmpl.DisplayName, tmpl.Category)] = struct{}{}
	}

	created := 0
	for _, in := range inputs {
		in = in.Normalize()
		key := templateKey(in.DisplayName, in.Category)
		if _, ok := seen[key]; ok {
			continue
		}
		if _, err := uc.CreateTemplate(ctx, in); err != nil {
			if domain.IsKind(err, domain.ErrDuplicateTemplate) {
				continue
			}
			return created, fmt.Errorf("seed template %q: %w", in.DisplayName, err)
		}
		seen[key] = struct{}{}
		created++
	}
	return created, nil
}

func applyInput(tmpl *domain.Template, in domain.TemplateInput) {
	tmpl.DisplayName = in.DisplayName
	tmpl.Category = in.Category
	tmpl.Issuer = in.Issuer
	tmpl.TargetKind = in.TargetKind
	tmpl.Lifecycle = in.Lifecycle
	tmpl.IsRecurring = in.Lifecycle == domain.LifecycleRecurring
	tmpl.Frequency = in.Frequency
	tmpl.RequiredFor = in.RequiredFor
	if tmpl.RequiredFor == nil {
		tmpl.RequiredFor = []domain.RequiredForTag{}
	}
}

func templateKey(name string, category domain.Category) string {
	return strings.ToLower(strings.TrimSpace(name)) + "\x00" + string(category)
}
