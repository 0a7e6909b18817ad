package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/case-documents/internal/config"
	"github.com/kirillkom/case-documents/internal/core/domain"
	"github.com/kirillkom/case-documents/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/case-documents/internal/observability/metrics"
)

type templatesFake struct {
	err        error
	lastFilter domain.TemplateFilter
	lastInput  domain.TemplateInput
}

func (f *templatesFake) CreateTemplate(_ context.Context, in domain.TemplateInput) (*domain.Template, error) {
	f.lastInput = in
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Template{ID: "tpl-1", DisplayName: in.DisplayName, Category: in.Category, TargetKind: in.TargetKind, Lifecycle: in.Lifecycle}, nil
}

func (f *templatesFake) GetTemplate(_ context.Context, id string) (*domain.Template, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Template{ID: id, DisplayName: "Passport"}, nil
}

func (f *templatesFake) ListTemplates(_ context.Context, filter domain.TemplateFilter) ([]domain.Template, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Template{{ID: "tpl-1", DisplayName: "Passport"}}, nil
}

func (f *templatesFake) UpdateTemplate(_ context.Context, id string, _ domain.TemplatePatch) (*domain.Template, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Template{ID: id}, nil
}

func (f *templatesFake) DeleteTemplate(context.Context, string) error {
	return f.err
}

type documentsFake struct {
	err          error
	lastClassify domain.ClassifyInput
	lastReplace  domain.ReplaceFileInput
	lastCreate   domain.CreateInstanceInput
	lastFilter   domain.InstanceFilter
}

func (f *documentsFake) instance(id string) *domain.Instance {
	return &domain.Instance{ID: id, CaseID: "case-1", Status: domain.StatusPending, Marker: domain.MarkerUnidentified, VersionNumber: 1, IsCurrentVersion: true}
}

func (f *documentsFake) CreateInstance(_ context.Context, in domain.CreateInstanceInput) (*domain.Instance, error) {
	f.lastCreate = in
	if f.err != nil {
		return nil, f.err
	}
	return f.instance("doc-1"), nil
}

func (f *documentsFake) GetInstance(_ context.Context, id string) (*domain.Instance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.instance(id), nil
}

func (f *documentsFake) ListCaseInstances(_ context.Context, _ string, filter domain.InstanceFilter) ([]domain.Instance, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Instance{*f.instance("doc-1")}, nil
}

func (f *documentsFake) ClassifyInstance(_ context.Context, in domain.ClassifyInput) (*domain.Instance, error) {
	f.lastClassify = in
	if f.err != nil {
		return nil, f.err
	}
	inst := f.instance(in.InstanceID)
	inst.TemplateID = &in.TemplateID
	inst.Target = &in.Target
	inst.Marker = domain.MarkerIdentified
	return inst, nil
}

func (f *documentsFake) ReplaceFileReference(_ context.Context, in domain.ReplaceFileInput) (*domain.ReplaceResult, error) {
	f.lastReplace = in
	if f.err != nil {
		return nil, f.err
	}
	inst := f.instance(in.InstanceID)
	inst.FileRef = in.FileRef
	inst.VersionNumber = 2
	return &domain.ReplaceResult{Instance: inst, Outcome: domain.OutcomeVersioned}, nil
}

func (f *documentsFake) GetVersionHistory(_ context.Context, id string) ([]domain.VersionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.VersionRecord{{InstanceID: id, VersionNumber: 1, FileRef: "s3://old"}}, nil
}

func (f *documentsFake) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus) (*domain.Instance, error) {
	if f.err != nil {
		return nil, f.err
	}
	inst := f.instance(id)
	inst.Status = status
	return inst, nil
}

func (f *documentsFake) MarkProcessed(_ context.Context, id string) (*domain.Instance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.instance(id), nil
}

func (f *documentsFake) DeleteInstance(context.Context, string) error {
	return f.err
}

func (f *documentsFake) BulkCreateInstances(_ context.Context, caseID string, refs []string, _ *string) (*domain.BulkResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := &domain.BulkResult{CaseID: caseID}
	for i, ref := range refs {
		out.Add(i, ref, f.instance(fmt.Sprintf("doc-%d", i)), nil)
	}
	return out, nil
}

func (f *documentsFake) BulkClassify(_ context.Context, items []domain.ClassifyInput) (*domain.BulkResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := &domain.BulkResult{}
	for i, item := range items {
		out.Add(i, item.InstanceID, nil, domain.ErrTargetEntityNotFound)
	}
	return out, nil
}

type overviewFake struct {
	err error
}

func (f overviewFake) GetCaseOverview(_ context.Context, caseID string) (*domain.CaseOverview, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CaseOverview{
		CaseID:                   caseID,
		GeneratedAt:              time.Unix(0, 0).UTC(),
		Tags:                     []domain.RequiredForTag{domain.RequiredForAll},
		EntityCounts:             map[domain.TargetKind]int{domain.TargetPerson: 1},
		Documents:                domain.DocumentCounts{ByStatus: map[domain.DocumentStatus]int{}, ByTemplate: map[string]int{}},
		MissingRequiredDocuments: 1,
		IncompleteEntities: []domain.IncompleteEntity{{
			Entity:           domain.EntityRef{Kind: domain.TargetPerson, ID: "p-1"},
			MissingTemplates: []domain.MissingTemplate{{TemplateID: "tpl-1", DisplayName: "Passport"}},
		}},
	}, nil
}

func newTestHandler(cfg config.Config) http.Handler {
	return NewRouter(cfg, &templatesFake{}, &documentsFake{}, overviewFake{}).Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestHealthzEndpoint(t *testing.T) {
	res := doJSON(t, newTestHandler(config.Config{}), http.MethodGet, "/healthz", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestCreateTemplate(t *testing.T) {
	templates := &templatesFake{}
	handler := NewRouter(config.Config{}, templates, &documentsFake{}, overviewFake{}).Handler()

	res := doJSON(t, handler, http.MethodPost, "/v1/templates", map[string]any{
		"display_name": "Bank statement",
		"category":     "financial",
		"target_kind":  "bank_account",
		"lifecycle":    "recurring",
		"frequency":    "monthly",
		"required_for": []string{"all"},
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if templates.lastInput.Frequency == nil || *templates.lastInput.Frequency != domain.FrequencyMonthly {
		t.Fatalf("expected frequency to reach the registry, got %+v", templates.lastInput)
	}
}

func TestCreateTemplateRejectsUnknownEnumBeforeHandler(t *testing.T) {
	templates := &templatesFake{}
	handler := NewRouter(config.Config{}, templates, &documentsFake{}, overviewFake{}).Handler()

	res := doJSON(t, handler, http.MethodPost, "/v1/templates", map[string]any{
		"display_name": "Bank statement",
		"category":     "financial",
		"target_kind":  "spaceship",
		"lifecycle":    "updatable",
	})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if templates.lastInput.DisplayName != "" {
		t.Fatalf("handler must not run for invalid requests")
	}
}

func TestListTemplatesBindsFilters(t *testing.T) {
	templates := &templatesFake{}
	handler := NewRouter(config.Config{}, templates, &documentsFake{}, overviewFake{}).Handler()

	res := doJSON(t, handler, http.MethodGet, "/v1/templates?category=financial&target_kind=loan", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if templates.lastFilter.Category != domain.CategoryFinancial || templates.lastFilter.TargetKind != domain.TargetLoan {
		t.Fatalf("unexpected filter: %+v", templates.lastFilter)
	}

	res = doJSON(t, handler, http.MethodGet, "/v1/templates?category=groceries", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown category, got %d", res.Code)
	}
}

func TestDomainErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", domain.Invalid("frequency", "required for recurring templates"), http.StatusBadRequest, "validation_error"},
		{"template in use", domain.WrapError(domain.ErrTemplateInUse, "delete template", errors.New("2 documents")), http.StatusConflict, "template_in_use"},
		{"not found", domain.WrapError(domain.ErrTemplateNotFound, "get template", errors.New("id=x")), http.StatusNotFound, "not_found"},
		{"temporary", domain.WrapError(domain.ErrTemporary, "entities.exists", errors.New("conn reset")), http.StatusServiceUnavailable, "temporarily_unavailable"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewRouter(config.Config{}, &templatesFake{err: tc.err}, &documentsFake{}, overviewFake{}).Handler()
			res := doJSON(t, handler, http.MethodDelete, "/v1/templates/tpl-1", nil)
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, res.Code)
			}
			var body errorResponse
			if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body.Code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, body.Code)
			}
			if body.RequestID == "" {
				t.Fatalf("expected request id in error body")
			}
		})
	}
}

func TestClassifyDocument(t *testing.T) {
	docs := &documentsFake{}
	handler := NewRouter(config.Config{}, &templatesFake{}, docs, overviewFake{}).Handler()

	res := doJSON(t, handler, http.MethodPost, "/v1/documents/doc-7/classify", map[string]any{
		"template_id": "tpl-1",
		"target":      map[string]string{"kind": "person", "id": "p-1"},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if docs.lastClassify.InstanceID != "doc-7" || docs.lastClassify.Target.Kind != domain.TargetPerson {
		t.Fatalf("unexpected classify input: %+v", docs.lastClassify)
	}
}

func TestClassifyDocumentErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.WrapError(domain.ErrTargetKindMismatch, "classify", errors.New("want person")), http.StatusBadRequest, "target_kind_mismatch"},
		{domain.WrapError(domain.ErrTargetEntityNotFound, "classify", errors.New("person/p-9")), http.StatusNotFound, "target_entity_not_found"},
	}
	for _, tc := range cases {
		handler := NewRouter(config.Config{}, &templatesFake{}, &documentsFake{err: tc.err}, overviewFake{}).Handler()
		res := doJSON(t, handler, http.MethodPost, "/v1/documents/doc-7/classify", map[string]any{
			"template_id": "tpl-1",
			"target":      map[string]string{"kind": "person", "id": "p-9"},
		})
		if res.Code != tc.status {
			t.Fatalf("expected %d, got %d", tc.status, res.Code)
		}
		if !strings.Contains(res.Body.String(), tc.code) {
			t.Fatalf("expected code %q in %s", tc.code, res.Body.String())
		}
	}
}

func TestReplaceDocumentFile(t *testing.T) {
	docs := &documentsFake{}
	handler := NewRouter(config.Config{}, &templatesFake{}, docs, overviewFake{}).Handler()

	res := doJSON(t, handler, http.MethodPut, "/v1/documents/doc-1/file", map[string]any{
		"file_ref":       "s3://bucket/new.pdf",
		"lifecycle_hint": "updatable",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var result domain.ReplaceResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Outcome != domain.OutcomeVersioned || docs.lastReplace.LifecycleHint != domain.LifecycleUpdatable {
		t.Fatalf("unexpected replace result %+v / input %+v", result, docs.lastReplace)
	}
}

func TestReplaceDocumentFileConflicts(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.WrapError(domain.ErrConcurrentModification, "swap version", errors.New("expected 1")), http.StatusConflict},
		{domain.WrapError(domain.ErrRecurringReplace, "replace file", errors.New("doc-1")), http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		handler := NewRouter(config.Config{}, &templatesFake{}, &documentsFake{err: tc.err}, overviewFake{}).Handler()
		res := doJSON(t, handler, http.MethodPut, "/v1/documents/doc-1/file", map[string]any{"file_ref": "s3://x"})
		if res.Code != tc.status {
			t.Fatalf("expected %d, got %d", tc.status, res.Code)
		}
	}
}

func TestListCaseDocumentsStateFilter(t *testing.T) {
	docs := &documentsFake{}
	handler := NewRouter(config.Config{}, &templatesFake{}, docs, overviewFake{}).Handler()

	res := doJSON(t, handler, http.MethodGet, "/v1/cases/case-1/documents?state=unlinked", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if docs.lastFilter.State != domain.StateUnlinked {
		t.Fatalf("expected unlinked filter, got %+v", docs.lastFilter)
	}
}

func TestListCaseDocumentsTemplateAndTargetFilter(t *testing.T) {
	docs := &documentsFake{}
	handler := NewRouter(config.Config{}, &templatesFake{}, docs, overviewFake{}).Handler()

	res := doJSON(t, handler, http.MethodGet, "/v1/cases/case-1/documents?template_id=tpl-1&target_kind=person&target_id=p-1", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	got := docs.lastFilter
	if got.TemplateID != "tpl-1" || got.Target == nil || *got.Target != (domain.Target{Kind: domain.TargetPerson, ID: "p-1"}) {
		t.Fatalf("unexpected filter: %+v", got)
	}

	res = doJSON(t, handler, http.MethodGet, "/v1/cases/case-1/documents?target_kind=person", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for target kind without id, got %d", res.Code)
	}
	res = doJSON(t, handler, http.MethodGet, "/v1/cases/case-1/documents?target_kind=boat&target_id=x", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown target kind, got %d", res.Code)
	}
}

func TestBulkEndpointsEnforceItemLimit(t *testing.T) {
	handler := newTestHandler(config.Config{BulkMaxItems: 2})

	res := doJSON(t, handler, http.MethodPost, "/v1/cases/case-1/documents/bulk", map[string]any{
		"file_refs": []string{"a", "b", "c"},
	})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 above bulk limit, got %d", res.Code)
	}

	res = doJSON(t, handler, http.MethodPost, "/v1/documents/classify/bulk", map[string]any{
		"items": []map[string]any{{
			"instance_id": "doc-1",
			"template_id": "tpl-1",
			"target":      map[string]string{"kind": "person", "id": "p-1"},
		}},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var result domain.BulkResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Failed != 1 || result.Items[0].Error == "" {
		t.Fatalf("expected per-item failure, got %+v", result)
	}
}

func TestCaseOverviewJSONAndWorkbook(t *testing.T) {
	handler := newTestHandler(config.Config{})

	res := doJSON(t, handler, http.MethodGet, "/v1/cases/case-1/overview", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var overview domain.CaseOverview
	if err := json.NewDecoder(res.Body).Decode(&overview); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if overview.MissingRequiredDocuments != 1 || len(overview.IncompleteEntities) != 1 {
		t.Fatalf("unexpected overview: %+v", overview)
	}

	res = doJSON(t, handler, http.MethodGet, "/v1/cases/case-1/overview.xlsx", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if res.Header().Get("Content-Type") != xlsx.ContentType {
		t.Fatalf("unexpected content type %q", res.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(res.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected zip payload")
	}
}

func TestCaseOverviewNotFound(t *testing.T) {
	handler := NewRouter(config.Config{}, &templatesFake{}, &documentsFake{}, overviewFake{
		err: domain.WrapError(domain.ErrCaseNotFound, "load snapshot", errors.New("case_id=missing")),
	}).Handler()

	res := doJSON(t, handler, http.MethodGet, "/v1/cases/missing/overview", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler := NewRouter(config.Config{}, &templatesFake{}, &documentsFake{}, overviewFake{}).
		WithMetrics(metrics.NewHTTPServerMetrics("api")).
		Handler()

	_ = doJSON(t, handler, http.MethodGet, "/v1/documents/doc-1", nil)
	res := doJSON(t, handler, http.MethodGet, "/metrics", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `path="/v1/documents/{document_id}"`) {
		t.Fatalf("expected normalized path label in metrics output")
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	res := doJSON(t, newTestHandler(config.Config{}), http.MethodGet, "/v1/nothing-here", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}
