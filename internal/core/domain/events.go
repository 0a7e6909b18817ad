package domain

import "time"

type EventType string

const (
	EventTemplateCreated      EventType = "template.created"
	EventTemplateUpdated      EventType = "template.updated"
	EventTemplateDeleted      EventType = "template.deleted"
	EventDocumentCreated      EventType = "document.created"
	EventDocumentClassified   EventType = "document.classified"
	EventDocumentFileReplaced EventType = "document.file_replaced"
	EventDocumentStatus       EventType = "document.status_changed"
	EventDocumentDeleted      EventType = "document.deleted"
)

// DocumentEvent is published after a mutation commits.
type DocumentEvent struct {
	Type          EventType `json:"type"`
	CaseID        string    `json:"case_id,omitempty"`
	InstanceID    string    `json:"instance_id,omitempty"`
	TemplateID    string    `json:"template_id,omitempty"`
	VersionNumber int       `json:"version_number,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// AffectsCase reports whether the event can change a case overview.
func (e DocumentEvent) AffectsCase() bool {
	return e.CaseID != ""
}
