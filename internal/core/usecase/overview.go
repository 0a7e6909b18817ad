package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/case-documents/internal/core/domain"
	"github.com/kirillkom/case-documents/internal/core/ports"
)

// OverviewService computes completeness snapshots. It never mutates state.
type OverviewService struct {
	source   ports.SnapshotReader
	recorder ports.EngineRecorder
	timeout  time.Duration
	now      func() time.Time
}

func NewOverviewService(source ports.SnapshotReader, recorder ports.EngineRecorder, timeout time.Duration) *OverviewService {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &OverviewService{
		source:   source,
		recorder: recorder,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (uc *OverviewService) GetCaseOverview(ctx context.Context, caseID string) (*domain.CaseOverview, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, domain.Invalid("case_id", "must not be empty")
	}
	if uc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.timeout)
		defer cancel()
	}

	start := time.Now()
	overview, err := uc.compute(ctx, caseID)
	missing := 0
	if overview != nil {
		missing = overview.MissingRequiredDocuments
	}
	uc.recorder.RecordOverview(time.Since(start), missing, err)
	return overview, err
}

func (uc *OverviewService) compute(ctx context.Context, caseID string) (*domain.CaseOverview, error) {
	snapshot, err := uc.source.LoadCaseSnapshot(ctx, caseID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load case snapshot: %w", err)
	}
	return BuildOverview(snapshot, uc.now()), nil
}

// BuildOverview joins a snapshot into a completeness report.
//
// Missing documents are the anti-join of (applicable templates x existing entities
// of the template's target kind) against current-version instances carrying the
// same template and target.
func BuildOverview(snapshot *domain.CaseSnapshot, now time.Time) *domain.CaseOverview {
	out := &domain.CaseOverview{
		CaseID:       snapshot.CaseID,
		GeneratedAt:  now,
		Tags:         snapshot.Tags,
		EntityCounts: make(map[domain.TargetKind]int, len(domain.EntityKinds)),
		Documents: domain.DocumentCounts{
			ByStatus:   map[domain.DocumentStatus]int{},
			ByTemplate: map[string]int{},
		},
		IncompleteEntities: []domain.IncompleteEntity{},
		Entities:           []domain.EntityDocuments{},
	}
	if out.Tags == nil {
		out.Tags = []domain.RequiredForTag{}
	}

	for _, kind := range domain.EntityKinds {
		out.EntityCounts[kind] = 0
	}
	// The case is the single entity for case-level templates.
	entitiesByKind := map[domain.TargetKind][]domain.EntityRef{
		domain.TargetCase: {{Kind: domain.TargetCase, ID: snapshot.CaseID}},
	}
	for _, entity := range snapshot.Entities {
		if entity.Kind == domain.TargetCase {
			continue
		}
		entitiesByKind[entity.Kind] = append(entitiesByKind[entity.Kind], entity)
		out.EntityCounts[entity.Kind]++
	}

	templateNames := make(map[string]string, len(snapshot.Templates))
	for _, tmpl := range snapshot.Templates {
		templateNames[tmpl.ID] = tmpl.DisplayName
	}

	present := make(map[string]struct{})
	linked := make(map[domain.Target][]domain.EntityDocument)
	for _, inst := range snapshot.Instances {
		countDocument(&out.Documents, inst, templateNames)
		if inst.IsCurrentVersion && inst.Linked() {
			present[linkKey(*inst.TemplateID, *inst.Target)] = struct{}{}
			linked[*inst.Target] = append(linked[*inst.Target], entityDocument(inst, templateNames))
		}
	}
	out.Entities = entityDocuments(entitiesByKind, linked)
	out.DocumentsNeedingAttention = out.Documents.Unidentified + out.Documents.Unlinked

	applicable := make([]domain.Template, 0, len(snapshot.Templates))
	for _, tmpl := range snapshot.Templates {
		if tmpl.AppliesTo(snapshot.Tags) {
			applicable = append(applicable, tmpl)
		}
	}
	sort.Slice(applicable, func(i, j int) bool {
		if applicable[i].DisplayName != applicable[j].DisplayName {
			return applicable[i].DisplayName < applicable[j].DisplayName
		}
		return applicable[i].ID < applicable[j].ID
	})

	incomplete := make(map[string]*domain.IncompleteEntity)
	order := make([]string, 0)
	for _, tmpl := range applicable {
		for _, entity := range entitiesByKind[tmpl.TargetKind] {
			if _, ok := present[linkKey(tmpl.ID, entity.Target())]; ok {
				continue
			}
			out.MissingRequiredDocuments++

			key := string(entity.Kind) + "/" + entity.ID
			entry, ok := incomplete[key]
			if !ok {
				entry = &domain.IncompleteEntity{Entity: entity}
				incomplete[key] = entry
				order = append(order, key)
			}
			entry.MissingTemplates = append(entry.MissingTemplates, domain.MissingTemplate{
				TemplateID:  tmpl.ID,
				DisplayName: tmpl.DisplayName,
			})
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	for _, key := range order {
		out.IncompleteEntities = append(out.IncompleteEntities, *incomplete[key])
	}
	return out
}

// entityDocuments lists every entity, the case first and then in report order,
// with the linked documents it carries.
func entityDocuments(entitiesByKind map[domain.TargetKind][]domain.EntityRef, linked map[domain.Target][]domain.EntityDocument) []domain.EntityDocuments {
	kinds := append([]domain.TargetKind{domain.TargetCase}, domain.EntityKinds...)
	out := make([]domain.EntityDocuments, 0)
	for _, kind := range kinds {
		entities := append([]domain.EntityRef(nil), entitiesByKind[kind]...)
		sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
		for _, entity := range entities {
			docs := linked[entity.Target()]
			sort.Slice(docs, func(i, j int) bool {
				if docs[i].DisplayName != docs[j].DisplayName {
					return docs[i].DisplayName < docs[j].DisplayName
				}
				return docs[i].InstanceID < docs[j].InstanceID
			})
			if docs == nil {
				docs = []domain.EntityDocument{}
			}
			out = append(out, domain.EntityDocuments{Entity: entity, DocumentCount: len(docs), Documents: docs})
		}
	}
	return out
}

func entityDocument(inst domain.Instance, templateNames map[string]string) domain.EntityDocument {
	name, ok := templateNames[*inst.TemplateID]
	if !ok {
		name = *inst.TemplateID
	}
	return domain.EntityDocument{
		InstanceID:    inst.ID,
		TemplateID:    *inst.TemplateID,
		DisplayName:   name,
		Status:        inst.Status,
		FileRef:       inst.FileRef,
		VersionNumber: inst.VersionNumber,
	}
}

func countDocument(counts *domain.DocumentCounts, inst domain.Instance, templateNames map[string]string) {
	counts.Total++
	switch inst.State() {
	case domain.StateUnidentified:
		counts.Unidentified++
	case domain.StateUnlinked:
		counts.Unlinked++
	case domain.StateIdentified:
		counts.Identified++
	case domain.StateProcessed:
		counts.Processed++
	}
	counts.ByStatus[inst.Status]++
	if inst.Status == domain.StatusPending {
		counts.Pending++
	}
	if inst.TemplateID != nil {
		name, ok := templateNames[*inst.TemplateID]
		if !ok {
			name = *inst.TemplateID
		}
		counts.ByTemplate[name]++
	}
}

func linkKey(templateID string, target domain.Target) string {
	return templateID + "|" + string(target.Kind) + "|" + target.ID
}
