package ports

import (
	"context"
	"time"

	"github.com/kirillkom/case-documents/internal/core/domain"
)

// TemplateRepository persists document-type templates and their required-for rules.
type TemplateRepository interface {
	CreateTemplate(ctx context.Context, tmpl *domain.Template) error
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
	ListTemplates(ctx context.Context, filter domain.TemplateFilter) ([]domain.Template, error)
	// UpdateTemplate fails with domain.ErrTemplateInUse when it changes the target
	// kind or lifecycle of a template any instance references.
	UpdateTemplate(ctx context.Context, tmpl *domain.Template) error
	// DeleteTemplate fails with domain.ErrTemplateInUse while any instance references id.
	DeleteTemplate(ctx context.Context, id string) error
}

// InstanceRepository persists document instances and their version history.
type InstanceRepository interface {
	CreateInstance(ctx context.Context, inst *domain.Instance) error
	GetInstance(ctx context.Context, id string) (*domain.Instance, error)
	ListInstances(ctx context.Context, caseID string, filter domain.InstanceFilter) ([]domain.Instance, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, at time.Time) error
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	SetLinkage(ctx context.Context, link domain.Linkage) (*domain.Instance, error)
	OverwriteFile(ctx context.Context, op domain.FileOverwrite) (*domain.Instance, error)
	// SwapVersion archives the current head and installs a new file reference in one
	// atomic step. It fails with domain.ErrConcurrentModification when the stored
	// version or template differs from op.ExpectedVersion or op.ExpectedTemplateID.
	SwapVersion(ctx context.Context, op domain.VersionSwap) (*domain.Instance, *domain.VersionRecord, error)
	ListVersions(ctx context.Context, instanceID string) ([]domain.VersionRecord, error)
	DeleteInstance(ctx context.Context, id string) error
}

// EntityDirectory answers existence questions owned by the entity CRUD services.
type EntityDirectory interface {
	EntityExists(ctx context.Context, kind domain.TargetKind, id string) (bool, error)
	ListEntities(ctx context.Context, caseID string, kind domain.TargetKind) ([]domain.EntityRef, error)
	CaseTags(ctx context.Context, caseID string) ([]domain.RequiredForTag, error)
}

// SnapshotReader loads every row a case overview needs from one consistent read.
type SnapshotReader interface {
	LoadCaseSnapshot(ctx context.Context, caseID string) (*domain.CaseSnapshot, error)
}

// EventPublisher announces committed mutations.
type EventPublisher interface {
	PublishDocumentEvent(ctx context.Context, event domain.DocumentEvent) error
}

// EventSubscriber consumes committed mutations.
type EventSubscriber interface {
	SubscribeDocumentEvents(ctx context.Context, handler func(context.Context, domain.DocumentEvent) error) error
}

// EngineRecorder observes engine outcomes for metrics.
type EngineRecorder interface {
	RecordReplace(outcome domain.ReplaceOutcome, err error)
	RecordClassify(err error)
	RecordOverview(duration time.Duration, missing int, err error)
}

// TemplateCatalog supplies templates to seed the registry with.
type TemplateCatalog interface {
	Templates(ctx context.Context) ([]domain.TemplateInput, error)
}

// CompletenessGauge tracks the last computed missing count per case.
type CompletenessGauge interface {
	SetCaseMissing(caseID string, missing int)
	ForgetCase(caseID string)
}

// TemplateInvalidator drops cached state for one template.
type TemplateInvalidator interface {
	Invalidate(templateID string)
}
