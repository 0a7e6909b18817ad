package ports

import (
	"context"

	"github.com/kirillkom/case-documents/internal/core/domain"
)

// TemplateRegistry is the inbound contract for document-type templates.
type TemplateRegistry interface {
	CreateTemplate(ctx context.Context, in domain.TemplateInput) (*domain.Template, error)
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
	ListTemplates(ctx context.Context, filter domain.TemplateFilter) ([]domain.Template, error)
	UpdateTemplate(ctx context.Context, id string, patch domain.TemplatePatch) (*domain.Template, error)
	DeleteTemplate(ctx context.Context, id string) error
}

// DocumentManager is the inbound contract for case documents, their linkage and versions.
type DocumentManager interface {
	CreateInstance(ctx context.Context, in domain.CreateInstanceInput) (*domain.Instance, error)
	GetInstance(ctx context.Context, id string) (*domain.Instance, error)
	ListCaseInstances(ctx context.Context, caseID string, filter domain.InstanceFilter) ([]domain.Instance, error)
	ClassifyInstance(ctx context.Context, in domain.ClassifyInput) (*domain.Instance, error)
	ReplaceFileReference(ctx context.Context, in domain.ReplaceFileInput) (*domain.ReplaceResult, error)
	GetVersionHistory(ctx context.Context, instanceID string) ([]domain.VersionRecord, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus) (*domain.Instance, error)
	MarkProcessed(ctx context.Context, id string) (*domain.Instance, error)
	DeleteInstance(ctx context.Context, id string) error
	BulkCreateInstances(ctx context.Context, caseID string, fileRefs []string, uploadedBy *string) (*domain.BulkResult, error)
	BulkClassify(ctx context.Context, items []domain.ClassifyInput) (*domain.BulkResult, error)
}

// CaseOverviewer is the inbound read model for completeness snapshots.
type CaseOverviewer interface {
	GetCaseOverview(ctx context.Context, caseID string) (*domain.CaseOverview, error)
}
