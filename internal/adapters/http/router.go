package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"
	"golang.org/x/time/rate"

	"github.com/kirillkom/case-documents/internal/config"
	"github.com/kirillkom/case-documents/internal/core/domain"
	"github.com/kirillkom/case-documents/internal/core/ports"
	"github.com/kirillkom/case-documents/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/case-documents/internal/observability/metrics"
)

const maxBodyBytes = 1 << 20

type Router struct {
	templates ports.TemplateRegistry
	documents ports.DocumentManager
	overview  ports.CaseOverviewer

	metrics   *metrics.HTTPServerMetrics
	validator *requestValidator

	limiter          *rate.Limiter
	maxInFlight      int
	backpressureWait time.Duration
	requestTimeout   time.Duration
	bulkMaxItems     int
}

func NewRouter(
	cfg config.Config,
	templates ports.TemplateRegistry,
	documents ports.DocumentManager,
	overview ports.CaseOverviewer,
) *Router {
	rt := &Router{
		templates:        templates,
		documents:        documents,
		overview:         overview,
		validator:        mustRequestValidator(),
		maxInFlight:      cfg.APIMaxInFlight,
		backpressureWait: cfg.APIBackpressureWait,
		requestTimeout:   cfg.APIRequestTimeout,
		bulkMaxItems:     cfg.BulkMaxItems,
	}
	if cfg.APIRateLimitRPS > 0 {
		burst := cfg.APIRateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		rt.limiter = rate.NewLimiter(rate.Limit(cfg.APIRateLimitRPS), burst)
	}
	if rt.bulkMaxItems <= 0 {
		rt.bulkMaxItems = 200
	}
	return rt
}

// WithMetrics exposes /metrics and records request metrics.
func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /v1/templates", rt.listTemplates)
	api.HandleFunc("POST /v1/templates", rt.createTemplate)
	api.HandleFunc("GET /v1/templates/{id}", rt.getTemplate)
	api.HandleFunc("PATCH /v1/templates/{id}", rt.updateTemplate)
	api.HandleFunc("DELETE /v1/templates/{id}", rt.deleteTemplate)

	api.HandleFunc("GET /v1/cases/{id}/documents", rt.listCaseDocuments)
	api.HandleFunc("POST /v1/cases/{id}/documents", rt.createDocument)
	api.HandleFunc("POST /v1/cases/{id}/documents/bulk", rt.bulkCreateDocuments)
	api.HandleFunc("GET /v1/cases/{id}/overview", rt.getCaseOverview)
	api.HandleFunc("GET /v1/cases/{id}/overview.xlsx", rt.exportCaseOverview)

	api.HandleFunc("POST /v1/documents/classify/bulk", rt.bulkClassifyDocuments)
	api.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	api.HandleFunc("DELETE /v1/documents/{id}", rt.deleteDocument)
	api.HandleFunc("PUT /v1/documents/{id}/status", rt.updateDocumentStatus)
	api.HandleFunc("POST /v1/documents/{id}/processed", rt.markDocumentProcessed)
	api.HandleFunc("POST /v1/documents/{id}/classify", rt.classifyDocument)
	api.HandleFunc("PUT /v1/documents/{id}/file", rt.replaceDocumentFile)
	api.HandleFunc("GET /v1/documents/{id}/versions", rt.getDocumentVersions)

	var v1 http.Handler = api
	if rt.requestTimeout > 0 {
		v1 = http.TimeoutHandler(v1, rt.requestTimeout, `{"error":"request timed out","code":"timeout"}`)
	}
	v1 = rt.validator.middleware(v1)
	v1 = backpressureMiddleware(v1, rt.maxInFlight, rt.backpressureWait)
	v1 = rateLimitMiddleware(v1, rt.limiter)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", v1)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) listTemplates(w http.ResponseWriter, r *http.Request) {
	var category, targetKind string
	if err := runtime.BindQueryParameter("form", true, false, "category", r.URL.Query(), &category); err != nil {
		rt.writeBadRequest(w, r, err)
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "target_kind", r.URL.Query(), &targetKind); err != nil {
		rt.writeBadRequest(w, r, err)
		return
	}

	templates, err := rt.templates.ListTemplates(r.Context(), domain.TemplateFilter{
		Category:   domain.Category(category),
		TargetKind: domain.TargetKind(targetKind),
	})
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (rt *Router) createTemplate(w http.ResponseWriter, r *http.Request) {
	var in domain.TemplateInput
	if !rt.decode(w, r, &in) {
		return
	}
	tmpl, err := rt.templates.CreateTemplate(r.Context(), in)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

func (rt *Router) getTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := rt.templates.GetTemplate(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (rt *Router) updateTemplate(w http.ResponseWriter, r *http.Request) {
	var patch domain.TemplatePatch
	if !rt.decode(w, r, &patch) {
		return
	}
	tmpl, err := rt.templates.UpdateTemplate(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (rt *Router) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := rt.templates.DeleteTemplate(r.Context(), r.PathValue("id")); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) listCaseDocuments(w http.ResponseWriter, r *http.Request) {
	var state, templateID, targetKind, targetID string
	for name, dest := range map[string]*string{
		"state":       &state,
		"template_id": &templateID,
		"target_kind": &targetKind,
		"target_id":   &targetID,
	} {
		if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), dest); err != nil {
			rt.writeBadRequest(w, r, err)
			return
		}
	}
	filter := domain.InstanceFilter{
		State:      domain.ClassificationState(state),
		TemplateID: templateID,
	}
	if targetKind != "" || targetID != "" {
		if targetKind == "" || targetID == "" {
			rt.writeError(w, r, domain.Invalid("target", "target_kind and target_id are given together"))
			return
		}
		filter.Target = &domain.Target{Kind: domain.TargetKind(targetKind), ID: targetID}
	}
	docs, err := rt.documents.ListCaseInstances(r.Context(), r.PathValue("id"), filter)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) createDocument(w http.ResponseWriter, r *http.Request) {
	var in domain.CreateInstanceInput
	if !rt.decode(w, r, &in) {
		return
	}
	in.CaseID = r.PathValue("id")

	inst, err := rt.documents.CreateInstance(r.Context(), in)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (rt *Router) bulkCreateDocuments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileRefs   []string `json:"file_refs"`
		UploadedBy *string  `json:"uploaded_by"`
	}
	if !rt.decode(w, r, &req) {
		return
	}
	if len(req.FileRefs) > rt.bulkMaxItems {
		rt.writeError(w, r, domain.Invalid("file_refs", "at most %d items per request", rt.bulkMaxItems))
		return
	}

	result, err := rt.documents.BulkCreateInstances(r.Context(), r.PathValue("id"), req.FileRefs, req.UploadedBy)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) bulkClassifyDocuments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []domain.ClassifyInput `json:"items"`
	}
	if !rt.decode(w, r, &req) {
		return
	}
	if len(req.Items) > rt.bulkMaxItems {
		rt.writeError(w, r, domain.Invalid("items", "at most %d items per request", rt.bulkMaxItems))
		return
	}

	result, err := rt.documents.BulkClassify(r.Context(), req.Items)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	inst, err := rt.documents.GetInstance(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := rt.documents.DeleteInstance(r.Context(), r.PathValue("id")); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) updateDocumentStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status domain.DocumentStatus `json:"status"`
	}
	if !rt.decode(w, r, &req) {
		return
	}
	inst, err := rt.documents.UpdateStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (rt *Router) markDocumentProcessed(w http.ResponseWriter, r *http.Request) {
	inst, err := rt.documents.MarkProcessed(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (rt *Router) classifyDocument(w http.ResponseWriter, r *http.Request) {
	var in domain.ClassifyInput
	if !rt.decode(w, r, &in) {
		return
	}
	in.InstanceID = r.PathValue("id")

	inst, err := rt.documents.ClassifyInstance(r.Context(), in)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (rt *Router) replaceDocumentFile(w http.ResponseWriter, r *http.Request) {
	var in domain.ReplaceFileInput
	if !rt.decode(w, r, &in) {
		return
	}
	in.InstanceID = r.PathValue("id")

	result, err := rt.documents.ReplaceFileReference(r.Context(), in)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) getDocumentVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := rt.documents.GetVersionHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (rt *Router) getCaseOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := rt.overview.GetCaseOverview(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (rt *Router) exportCaseOverview(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")
	overview, err := rt.overview.GetCaseOverview(r.Context(), caseID)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := xlsx.WriteOverview(&buf, overview); err != nil {
		rt.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsx.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="case-`+sanitizeFilename(caseID)+`-overview.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func (rt *Router) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		rt.writeBadRequest(w, r, err)
		return false
	}
	return true
}

func (rt *Router) writeBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:     "invalid request: " + err.Error(),
		Code:      "invalid_request",
		RequestID: requestIDFromContext(r.Context()),
	})
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	}
	if errors.Is(err, domain.ErrConcurrentModification) {
		w.Header().Set("Retry-After", "0")
	}
	writeJSON(w, status, errorResponse{
		Error:     message,
		Code:      errorCode(err),
		RequestID: requestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
