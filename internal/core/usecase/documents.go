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

type DocumentServiceOptions struct {
	OneTimePolicy domain.OneTimeReplacePolicy
	Recorder      ports.EngineRecorder
}

// DocumentService owns document instances: creation, target linkage and the
// version chain of their file reference.
type DocumentService struct {
	instances ports.InstanceRepository
	templates ports.TemplateRepository
	entities  ports.EntityDirectory
	events    eventSink
	recorder  ports.EngineRecorder
	oneTime   domain.OneTimeReplacePolicy
	now       func() time.Time
}

func NewDocumentService(
	instances ports.InstanceRepository,
	templates ports.TemplateRepository,
	entities ports.EntityDirectory,
	events ports.EventPublisher,
	options DocumentServiceOptions,
) *DocumentService {
	policy := options.OneTimePolicy
	if policy == "" {
		policy = domain.OneTimeOverwrite
	}
	var recorder ports.EngineRecorder = noopRecorder{}
	if options.Recorder != nil {
		recorder = options.Recorder
	}
	return &DocumentService{
		instances: instances,
		templates: templates,
		entities:  entities,
		events:    eventSink{pub: events},
		recorder:  recorder,
		oneTime:   policy,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (uc *DocumentService) CreateInstance(ctx context.Context, in domain.CreateInstanceInput) (*domain.Instance, error) {
	if strings.TrimSpace(in.CaseID) == "" {
		return nil, domain.Invalid("case_id", "must not be empty")
	}
	if strings.TrimSpace(in.FileRef) == "" {
		return nil, domain.Invalid("file_ref", "must not be empty")
	}
	status := in.Status
	if status == "" {
		status = domain.StatusPending
	}
	if !status.Valid() {
		return nil, domain.Invalid("status", "unknown value %q", status)
	}
	if in.Target != nil && in.TemplateID == nil {
		return nil, domain.Invalid("target", "requires template_id")
	}

	exists, err := uc.entities.EntityExists(ctx, domain.TargetCase, in.CaseID)
	if err != nil {
		return nil, fmt.Errorf("lookup case: %w", err)
	}
	if !exists {
		return nil, domain.WrapError(domain.ErrCaseNotFound, "create instance", fmt.Errorf("case_id=%s", in.CaseID))
	}

	now := uc.now()
	inst := &domain.Instance{
		ID:               uuid.NewString(),
		CaseID:           in.CaseID,
		Status:           status,
		Marker:           domain.MarkerUnidentified,
		FileRef:          in.FileRef,
		FileUploadedAt:   now,
		FileUploadedBy:   in.UploadedBy,
		VersionNumber:    1,
		IsCurrentVersion: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if in.TemplateID != nil {
		tmpl, err := uc.loadTemplate(ctx, *in.TemplateID)
		if err != nil {
			return nil, err
		}
		templateID := tmpl.ID
		inst.TemplateID = &templateID
		if in.Target != nil {
			target, err := uc.resolveTarget(ctx, tmpl, *in.Target)
			if err != nil {
				return nil, err
			}
			inst.Target = &target
			inst.Marker = domain.MarkerIdentified
		}
	}

	if err := uc.instances.CreateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	uc.events.publish(ctx, domain.DocumentEvent{
		Type:          domain.EventDocumentCreated,
		CaseID:        inst.CaseID,
		InstanceID:    inst.ID,
		TemplateID:    deref(inst.TemplateID),
		VersionNumber: inst.VersionNumber,
		OccurredAt:    now,
	})
	return inst, nil
}

func (uc *DocumentService) GetInstance(ctx context.Context, id string) (*domain.Instance, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.Invalid("instance_id", "must not be empty")
	}
	return uc.instances.GetInstance(ctx, id)
}

func (uc *DocumentService) ListCaseInstances(ctx context.Context, caseID string, filter domain.InstanceFilter) ([]domain.Instance, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, domain.Invalid("case_id", "must not be empty")
	}
	if filter.State != "" && !filter.State.Valid() {
		return nil, domain.Invalid("state", "unknown value %q", filter.State)
	}
	filter.TemplateID = strings.TrimSpace(filter.TemplateID)
	if filter.Target != nil {
		if err := filter.Target.Validate(); err != nil {
			return nil, err
		}
	}
	return uc.instances.ListInstances(ctx, caseID, filter)
}

// ClassifyInstance links an instance to a template and a target entity. Template and
// target are written together; on any failure the instance keeps its prior state.
func (uc *DocumentService) ClassifyInstance(ctx context.Context, in domain.ClassifyInput) (*domain.Instance, error) {
	inst, err := uc.classify(ctx, in)
	uc.recorder.RecordClassify(err)
	return inst, err
}

func (uc *DocumentService) classify(ctx context.Context, in domain.ClassifyInput) (*domain.Instance, error) {
	if strings.TrimSpace(in.InstanceID) == "" {
		return nil, domain.Invalid("instance_id", "must not be empty")
	}
	if strings.TrimSpace(in.TemplateID) == "" {
		return nil, domain.Invalid("template_id", "must not be empty")
	}

	current, err := uc.instances.GetInstance(ctx, in.InstanceID)
	if err != nil {
		return nil, err
	}
	tmpl, err := uc.loadTemplate(ctx, in.TemplateID)
	if err != nil {
		return nil, err
	}
	target, err := uc.resolveTarget(ctx, tmpl, in.Target)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	inst, err := uc.instances.SetLinkage(ctx, domain.Linkage{
		InstanceID: current.ID,
		TemplateID: tmpl.ID,
		Target:     target,
		At:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("set linkage: %w", err)
	}
	uc.events.publish(ctx, domain.DocumentEvent{
		Type:          domain.EventDocumentClassified,
		CaseID:        inst.CaseID,
		InstanceID:    inst.ID,
		TemplateID:    tmpl.ID,
		VersionNumber: inst.VersionNumber,
		OccurredAt:    now,
	})
	return inst, nil
}

// ReplaceFileReference installs a new file reference on an instance. Whether the
// superseded reference is archived depends on the lifecycle of its template.
func (uc *DocumentService) ReplaceFileReference(ctx context.Context, in domain.ReplaceFileInput) (*domain.ReplaceResult, error) {
	res, err := uc.replace(ctx, in)
	outcome := domain.ReplaceOutcome("")
	if res != nil {
		outcome = res.Outcome
	}
	uc.recorder.RecordReplace(outcome, err)
	if err != nil {
		return nil, err
	}
	if res.Outcome != domain.OutcomeUnchanged {
		uc.events.publish(ctx, domain.DocumentEvent{
			Type:          domain.EventDocumentFileReplaced,
			CaseID:        res.Instance.CaseID,
			InstanceID:    res.Instance.ID,
			TemplateID:    deref(res.Instance.TemplateID),
			VersionNumber: res.Instance.VersionNumber,
			OccurredAt:    res.Instance.UpdatedAt,
		})
	}
	return res, nil
}

func (uc *DocumentService) replace(ctx context.Context, in domain.ReplaceFileInput) (*domain.ReplaceResult, error) {
	if strings.TrimSpace(in.InstanceID) == "" {
		return nil, domain.Invalid("instance_id", "must not be empty")
	}
	if strings.TrimSpace(in.FileRef) == "" {
		return nil, domain.Invalid("file_ref", "must not be empty")
	}
	if in.LifecycleHint != "" && !in.LifecycleHint.Valid() {
		return nil, domain.Invalid("lifecycle_hint", "unknown value %q", in.LifecycleHint)
	}

	inst, err := uc.instances.GetInstance(ctx, in.InstanceID)
	if err != nil {
		return nil, err
	}

	if inst.TemplateID == nil {
		if in.LifecycleHint != "" {
			return nil, domain.WrapError(domain.ErrTemplateMismatch, "replace file",
				fmt.Errorf("instance %s is unclassified, hint=%s", inst.ID, in.LifecycleHint))
		}
		return uc.overwrite(ctx, inst, in)
	}

	tmpl, err := uc.loadTemplate(ctx, *inst.TemplateID)
	if err != nil {
		return nil, err
	}
	if in.LifecycleHint != "" && in.LifecycleHint != tmpl.Lifecycle {
		return nil, domain.WrapError(domain.ErrTemplateMismatch, "replace file",
			fmt.Errorf("hint=%s stored=%s", in.LifecycleHint, tmpl.Lifecycle))
	}

	switch tmpl.Lifecycle {
	case domain.LifecycleOneTime:
		if uc.oneTime == domain.OneTimeReject {
			return nil, domain.WrapError(domain.ErrOneTimeReplace, "replace file", fmt.Errorf("instance %s", inst.ID))
		}
		return uc.overwrite(ctx, inst, in)
	case domain.LifecycleUpdatable:
		return uc.version(ctx, inst, in)
	case domain.LifecycleRecurring:
		return nil, domain.WrapError(domain.ErrRecurringReplace, "replace file",
			fmt.Errorf("create a new instance per period for template %s", tmpl.ID))
	default:
		return nil, fmt.Errorf("replace file: unsupported lifecycle %q", tmpl.Lifecycle)
	}
}

func (uc *DocumentService) overwrite(ctx context.Context, inst *domain.Instance, in domain.ReplaceFileInput) (*domain.ReplaceResult, error) {
	if inst.FileRef == in.FileRef {
		return &domain.ReplaceResult{Instance: inst, Outcome: domain.OutcomeUnchanged}, nil
	}
	updated, err := uc.instances.OverwriteFile(ctx, domain.FileOverwrite{
		InstanceID:         inst.ID,
		ExpectedVersion:    inst.VersionNumber,
		ExpectedTemplateID: inst.TemplateID,
		NewFileRef:         in.FileRef,
		UploadedBy:         in.UploadedBy,
		At:                 uc.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("overwrite file reference: %w", err)
	}
	return &domain.ReplaceResult{Instance: updated, Outcome: domain.OutcomeOverwritten}, nil
}

func (uc *DocumentService) version(ctx context.Context, inst *domain.Instance, in domain.ReplaceFileInput) (*domain.ReplaceResult, error) {
	if inst.FileRef == in.FileRef {
		return &domain.ReplaceResult{Instance: inst, Outcome: domain.OutcomeUnchanged}, nil
	}
	updated, archived, err := uc.instances.SwapVersion(ctx, domain.VersionSwap{
		InstanceID:         inst.ID,
		ExpectedVersion:    inst.VersionNumber,
		ExpectedTemplateID: inst.TemplateID,
		NewFileRef:         in.FileRef,
		UploadedBy:         in.UploadedBy,
		At:                 uc.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("archive version %d: %w", inst.VersionNumber, err)
	}
	return &domain.ReplaceResult{Instance: updated, Outcome: domain.OutcomeVersioned, Archived: archived}, nil
}

func (uc *DocumentService) GetVersionHistory(ctx context.Context, instanceID string) ([]domain.VersionRecord, error) {
	if _, err := uc.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	records, err := uc.instances.ListVersions(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return records, nil
}

func (uc *DocumentService) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus) (*domain.Instance, error) {
	if !status.Valid() {
		return nil, domain.Invalid("status", "unknown value %q", status)
	}
	if _, err := uc.GetInstance(ctx, id); err != nil {
		return nil, err
	}
	now := uc.now()
	if err := uc.instances.UpdateStatus(ctx, id, status, now); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	inst, err := uc.instances.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	uc.events.publish(ctx, domain.DocumentEvent{
		Type:       domain.EventDocumentStatus,
		CaseID:     inst.CaseID,
		InstanceID: inst.ID,
		OccurredAt: now,
	})
	return inst, nil
}

// MarkProcessed records that a linked instance passed the caller's review gate.
func (uc *DocumentService) MarkProcessed(ctx context.Context, id string) (*domain.Instance, error) {
	inst, err := uc.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inst.Linked() {
		return nil, domain.WrapError(domain.ErrInvalidOperation, "mark processed",
			fmt.Errorf("instance %s needs template and target first", id))
	}
	now := uc.now()
	if err := uc.instances.MarkProcessed(ctx, id, now); err != nil {
		return nil, fmt.Errorf("mark processed: %w", err)
	}
	inst, err = uc.instances.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	uc.events.publish(ctx, domain.DocumentEvent{
		Type:       domain.EventDocumentStatus,
		CaseID:     inst.CaseID,
		InstanceID: inst.ID,
		OccurredAt: now,
	})
	return inst, nil
}

// DeleteInstance removes an instance together with its version history.
func (uc *DocumentService) DeleteInstance(ctx context.Context, id string) error {
	inst, err := uc.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	if err := uc.instances.DeleteInstance(ctx, id); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	uc.events.publish(ctx, domain.DocumentEvent{
		Type:       domain.EventDocumentDeleted,
		CaseID:     inst.CaseID,
		InstanceID: inst.ID,
		OccurredAt: uc.now(),
	})
	return nil
}

// BulkCreateInstances registers one unclassified instance per file reference.
// Items fail independently.
func (uc *DocumentService) BulkCreateInstances(ctx context.Context, caseID string, fileRefs []string, uploadedBy *string) (*domain.BulkResult, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, domain.Invalid("case_id", "must not be empty")
	}
	if len(fileRefs) == 0 {
		return nil, domain.Invalid("file_refs", "must not be empty")
	}

	out := &domain.BulkResult{CaseID: caseID, Items: make([]domain.BulkItemResult, 0, len(fileRefs))}
	for i, ref := range fileRefs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		inst, err := uc.CreateInstance(ctx, domain.CreateInstanceInput{
			CaseID:     caseID,
			FileRef:    ref,
			UploadedBy: uploadedBy,
		})
		out.Add(i, ref, inst, err)
		if domain.IsKind(err, domain.ErrCaseNotFound) {
			return out, err
		}
	}
	return out, nil
}

// BulkClassify classifies each item in its own transaction and reports per-item errors.
func (uc *DocumentService) BulkClassify(ctx context.Context, items []domain.ClassifyInput) (*domain.BulkResult, error) {
	if len(items) == 0 {
		return nil, domain.Invalid("items", "must not be empty")
	}
	out := &domain.BulkResult{Items: make([]domain.BulkItemResult, 0, len(items))}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		inst, err := uc.ClassifyInstance(ctx, item)
		out.Add(i, item.InstanceID, inst, err)
	}
	return out, nil
}

func (uc *DocumentService) loadTemplate(ctx context.Context, id string) (*domain.Template, error) {
	tmpl, err := uc.templates.GetTemplate(ctx, id)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load template: %w", err)
	}
	return tmpl, nil
}

// resolveTarget checks that target fits the template and exists in its owning collection.
func (uc *DocumentService) resolveTarget(ctx context.Context, tmpl *domain.Template, target domain.Target) (domain.Target, error) {
	target.ID = strings.TrimSpace(target.ID)
	if err := target.Validate(); err != nil {
		return domain.Target{}, err
	}
	if target.Kind != tmpl.TargetKind {
		return domain.Target{}, domain.WrapError(domain.ErrTargetKindMismatch, "resolve target",
			fmt.Errorf("template %s expects %s, got %s", tmpl.ID, tmpl.TargetKind, target.Kind))
	}
	exists, err := uc.entities.EntityExists(ctx, target.Kind, target.ID)
	if err != nil {
		return domain.Target{}, fmt.Errorf("lookup target entity: %w", err)
	}
	if !exists {
		return domain.Target{}, domain.WrapError(domain.ErrTargetEntityNotFound, "resolve target",
			fmt.Errorf("%s id=%s", target.Kind, target.ID))
	}
	return target, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
