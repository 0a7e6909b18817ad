package domain

import "time"

// CaseOverview is a point-in-time completeness snapshot of one case.
type CaseOverview struct {
	CaseID                    string             `json:"case_id"`
	GeneratedAt               time.Time          `json:"generated_at"`
	Tags                      []RequiredForTag   `json:"tags"`
	EntityCounts              map[TargetKind]int `json:"entity_counts"`
	Documents                 DocumentCounts     `json:"documents"`
	DocumentsNeedingAttention int                `json:"documents_needing_attention"`
	MissingRequiredDocuments  int                `json:"missing_required_documents"`
	IncompleteEntities        []IncompleteEntity `json:"incomplete_entities"`
	Entities                  []EntityDocuments  `json:"entities"`
}

type DocumentCounts struct {
	Total        int                    `json:"total"`
	Unidentified int                    `json:"unidentified"`
	Unlinked     int                    `json:"unlinked"`
	Identified   int                    `json:"identified"`
	Processed    int                    `json:"processed"`
	Pending      int                    `json:"pending"`
	ByStatus     map[DocumentStatus]int `json:"by_status"`
	ByTemplate   map[string]int         `json:"by_template"`
}

// IncompleteEntity is an entity missing at least one applicable required template.
type IncompleteEntity struct {
	Entity           EntityRef         `json:"entity"`
	MissingTemplates []MissingTemplate `json:"missing_templates"`
}

// EntityDocuments lists the current documents linked to one entity. Every
// entity of the case appears, with or without documents.
type EntityDocuments struct {
	Entity        EntityRef        `json:"entity"`
	DocumentCount int              `json:"document_count"`
	Documents     []EntityDocument `json:"documents"`
}

type EntityDocument struct {
	InstanceID    string         `json:"instance_id"`
	TemplateID    string         `json:"template_id"`
	DisplayName   string         `json:"display_name"`
	Status        DocumentStatus `json:"status"`
	FileRef       string         `json:"file_ref"`
	VersionNumber int            `json:"version_number"`
}

type MissingTemplate struct {
	TemplateID  string `json:"template_id"`
	DisplayName string `json:"display_name"`
}

func (e IncompleteEntity) MissingNames() []string {
	out := make([]string, 0, len(e.MissingTemplates))
	for _, m := range e.MissingTemplates {
		out = append(out, m.DisplayName)
	}
	return out
}

// CaseSnapshot is every row the overview joins, read at one point in time.
type CaseSnapshot struct {
	CaseID    string
	Tags      []RequiredForTag
	Entities  []EntityRef
	Templates []Template
	Instances []Instance
}
