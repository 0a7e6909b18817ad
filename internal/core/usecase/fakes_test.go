package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/case-documents/internal/core/domain"
)

type templateRepoFake struct {
	mu        sync.Mutex
	templates map[string]domain.Template
	inUse     map[string]bool
	createErr error
	getErr    error
}

func newTemplateRepoFake(templates ...domain.Template) *templateRepoFake {
	f := &templateRepoFake{templates: map[string]domain.Template{}, inUse: map[string]bool{}}
	for _, tmpl := range templates {
		f.templates[tmpl.ID] = tmpl
	}
	return f
}

func (f *templateRepoFake) CreateTemplate(_ context.Context, tmpl *domain.Template) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.templates {
		if templateKey(existing.DisplayName, existing.Category) == templateKey(tmpl.DisplayName, tmpl.Category) {
			return domain.ErrDuplicateTemplate
		}
	}
	f.templates[tmpl.ID] = *tmpl
	return nil
}

func (f *templateRepoFake) GetTemplate(_ context.Context, id string) (*domain.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	tmpl, ok := f.templates[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrTemplateNotFound, "get template", fmt.Errorf("id=%s", id))
	}
	return &tmpl, nil
}

func (f *templateRepoFake) ListTemplates(_ context.Context, filter domain.TemplateFilter) ([]domain.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Template, 0, len(f.templates))
	for _, tmpl := range f.templates {
		if filter.Category != "" && tmpl.Category != filter.Category {
			continue
		}
		if filter.TargetKind != "" && tmpl.TargetKind != filter.TargetKind {
			continue
		}
		out = append(out, tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

func (f *templateRepoFake) UpdateTemplate(_ context.Context, tmpl *domain.Template) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.templates[tmpl.ID]
	if !ok {
		return domain.ErrTemplateNotFound
	}
	if f.inUse[tmpl.ID] && (stored.TargetKind != tmpl.TargetKind || stored.Lifecycle != tmpl.Lifecycle) {
		return domain.WrapError(domain.ErrTemplateInUse, "update template", fmt.Errorf("id=%s", tmpl.ID))
	}
	f.templates[tmpl.ID] = *tmpl
	return nil
}

func (f *templateRepoFake) DeleteTemplate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.templates[id]; !ok {
		return domain.ErrTemplateNotFound
	}
	if f.inUse[id] {
		return domain.WrapError(domain.ErrTemplateInUse, "delete template", fmt.Errorf("id=%s", id))
	}
	delete(f.templates, id)
	return nil
}

// instanceRepoFake keeps a version chain per instance. Swaps compare the stored
// version with the expected one the way the postgres row lock does.
type instanceRepoFake struct {
	mu        sync.Mutex
	instances map[string]domain.Instance
	versions  map[string][]domain.VersionRecord
	onGet     func()
	linkErr   error
	swaps     int
	overwrite int
}

func newInstanceRepoFake() *instanceRepoFake {
	return &instanceRepoFake{
		instances: map[string]domain.Instance{},
		versions:  map[string][]domain.VersionRecord{},
	}
}

func (f *instanceRepoFake) CreateInstance(_ context.Context, inst *domain.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[inst.ID] = *inst
	return nil
}

func (f *instanceRepoFake) GetInstance(_ context.Context, id string) (*domain.Instance, error) {
	f.mu.Lock()
	inst, ok := f.instances[id]
	hook := f.onGet
	f.mu.Unlock()
	if !ok {
		return nil, domain.WrapError(domain.ErrInstanceNotFound, "get instance", fmt.Errorf("id=%s", id))
	}
	if hook != nil {
		hook()
	}
	return &inst, nil
}

func (f *instanceRepoFake) ListInstances(_ context.Context, caseID string, filter domain.InstanceFilter) ([]domain.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Instance, 0)
	for _, inst := range f.instances {
		if inst.CaseID != caseID {
			continue
		}
		if filter.State != "" && inst.State() != filter.State {
			continue
		}
		if filter.TemplateID != "" && (inst.TemplateID == nil || *inst.TemplateID != filter.TemplateID) {
			continue
		}
		if filter.Target != nil && (inst.Target == nil || *inst.Target != *filter.Target) {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *instanceRepoFake) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return domain.ErrInstanceNotFound
	}
	inst.Status = status
	inst.ReviewedAt = &at
	inst.UpdatedAt = at
	f.instances[id] = inst
	return nil
}

func (f *instanceRepoFake) MarkProcessed(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return domain.ErrInstanceNotFound
	}
	inst.Marker = domain.MarkerProcessed
	inst.UpdatedAt = at
	f.instances[id] = inst
	return nil
}

func (f *instanceRepoFake) SetLinkage(_ context.Context, link domain.Linkage) (*domain.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	inst, ok := f.instances[link.InstanceID]
	if !ok {
		return nil, domain.ErrInstanceNotFound
	}
	templateID := link.TemplateID
	target := link.Target
	inst.TemplateID = &templateID
	inst.Target = &target
	if inst.Marker != domain.MarkerProcessed {
		inst.Marker = domain.MarkerIdentified
	}
	inst.UpdatedAt = link.At
	f.instances[inst.ID] = inst
	return &inst, nil
}

func (f *instanceRepoFake) OverwriteFile(_ context.Context, op domain.FileOverwrite) (*domain.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[op.InstanceID]
	if !ok {
		return nil, domain.ErrInstanceNotFound
	}
	if inst.VersionNumber != op.ExpectedVersion || !domain.SameTemplate(inst.TemplateID, op.ExpectedTemplateID) {
		return nil, domain.ErrConcurrentModification
	}
	inst.FileRef = op.NewFileRef
	inst.FileUploadedAt = op.At
	inst.FileUploadedBy = op.UploadedBy
	inst.UpdatedAt = op.At
	f.instances[inst.ID] = inst
	f.overwrite++
	return &inst, nil
}

func (f *instanceRepoFake) SwapVersion(_ context.Context, op domain.VersionSwap) (*domain.Instance, *domain.VersionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[op.InstanceID]
	if !ok {
		return nil, nil, domain.ErrInstanceNotFound
	}
	if inst.VersionNumber != op.ExpectedVersion {
		return nil, nil, domain.WrapError(domain.ErrConcurrentModification, "swap version",
			fmt.Errorf("expected %d, stored %d", op.ExpectedVersion, inst.VersionNumber))
	}
	if !domain.SameTemplate(inst.TemplateID, op.ExpectedTemplateID) {
		return nil, nil, domain.WrapError(domain.ErrConcurrentModification, "swap version",
			fmt.Errorf("instance %s reclassified", inst.ID))
	}
	record := domain.VersionRecord{
		InstanceID:    inst.ID,
		VersionNumber: inst.VersionNumber,
		FileRef:       inst.FileRef,
		UploadedAt:    inst.FileUploadedAt,
		UploadedBy:    inst.FileUploadedBy,
		ArchivedAt:    op.At,
	}
	f.versions[inst.ID] = append(f.versions[inst.ID], record)
	inst.FileRef = op.NewFileRef
	inst.FileUploadedAt = op.At
	inst.FileUploadedBy = op.UploadedBy
	inst.VersionNumber++
	inst.UpdatedAt = op.At
	f.instances[inst.ID] = inst
	f.swaps++
	return &inst, &record, nil
}

func (f *instanceRepoFake) ListVersions(_ context.Context, instanceID string) ([]domain.VersionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.VersionRecord(nil), f.versions[instanceID]...), nil
}

func (f *instanceRepoFake) DeleteInstance(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.instances[id]; !ok {
		return domain.ErrInstanceNotFound
	}
	delete(f.instances, id)
	delete(f.versions, id)
	return nil
}

type entityDirectoryFake struct {
	entities map[domain.TargetKind]map[string]bool
	err      error
}

func newEntityDirectoryFake() *entityDirectoryFake {
	return &entityDirectoryFake{entities: map[domain.TargetKind]map[string]bool{}}
}

func (f *entityDirectoryFake) add(kind domain.TargetKind, ids ...string) *entityDirectoryFake {
	if f.entities[kind] == nil {
		f.entities[kind] = map[string]bool{}
	}
	for _, id := range ids {
		f.entities[kind][id] = true
	}
	return f
}

func (f *entityDirectoryFake) EntityExists(_ context.Context, kind domain.TargetKind, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.entities[kind][id], nil
}

func (f *entityDirectoryFake) ListEntities(context.Context, string, domain.TargetKind) ([]domain.EntityRef, error) {
	return nil, errors.New("not implemented")
}

func (f *entityDirectoryFake) CaseTags(context.Context, string) ([]domain.RequiredForTag, error) {
	return nil, errors.New("not implemented")
}

type publisherFake struct {
	mu     sync.Mutex
	events []domain.DocumentEvent
	err    error
}

func (f *publisherFake) PublishDocumentEvent(_ context.Context, event domain.DocumentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *publisherFake) types() []domain.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type recorderFake struct {
	mu       sync.Mutex
	replaces []domain.ReplaceOutcome
	failures int
	missing  []int
}

func (f *recorderFake) RecordReplace(outcome domain.ReplaceOutcome, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.failures++
		return
	}
	f.replaces = append(f.replaces, outcome)
}

func (f *recorderFake) RecordClassify(err error) {
	if err != nil {
		f.mu.Lock()
		f.failures++
		f.mu.Unlock()
	}
}

func (f *recorderFake) RecordOverview(_ time.Duration, missing int, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing = append(f.missing, missing)
}

func ptr[T any](v T) *T { return &v }

func testTemplate(id, name string, kind domain.TargetKind, lifecycle domain.Lifecycle, tags ...domain.RequiredForTag) domain.Template {
	tmpl := domain.Template{
		ID:          id,
		DisplayName: name,
		Category:    domain.CategoryOther,
		TargetKind:  kind,
		Lifecycle:   lifecycle,
		IsRecurring: lifecycle == domain.LifecycleRecurring,
		RequiredFor: tags,
	}
	if lifecycle == domain.LifecycleRecurring {
		tmpl.Frequency = ptr(domain.FrequencyMonthly)
	}
	if tmpl.RequiredFor == nil {
		tmpl.RequiredFor = []domain.RequiredForTag{}
	}
	return tmpl
}
