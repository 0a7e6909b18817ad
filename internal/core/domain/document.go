package domain

import "time"

// DocumentStatus is the business review status, independent of versioning.
type DocumentStatus string

const (
	StatusPending  DocumentStatus = "pending"
	StatusReceived DocumentStatus = "received"
	StatusApproved DocumentStatus = "approved"
	StatusRejected DocumentStatus = "rejected"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusReceived, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// ProcessingMarker tracks classification progress of an instance.
type ProcessingMarker string

const (
	MarkerUnidentified ProcessingMarker = "unidentified"
	MarkerIdentified   ProcessingMarker = "identified"
	MarkerProcessed    ProcessingMarker = "processed"
)

// ClassificationState is the derived view used for listings and counts.
type ClassificationState string

const (
	StateUnidentified ClassificationState = "unidentified"
	StateUnlinked     ClassificationState = "unlinked"
	StateIdentified   ClassificationState = "identified"
	StateProcessed    ClassificationState = "processed"
)

func (s ClassificationState) Valid() bool {
	switch s {
	case StateUnidentified, StateUnlinked, StateIdentified, StateProcessed:
		return true
	}
	return false
}

// Instance is the head of a document's version chain. Superseded file
// references live in VersionRecord rows, never in sibling instances.
type Instance struct {
	ID               string           `json:"id"`
	CaseID           string           `json:"case_id"`
	TemplateID       *string          `json:"template_id,omitempty"`
	Target           *Target          `json:"target,omitempty"`
	Status           DocumentStatus   `json:"status"`
	Marker           ProcessingMarker `json:"processing_marker"`
	FileRef          string           `json:"file_ref"`
	FileUploadedAt   time.Time        `json:"file_uploaded_at"`
	FileUploadedBy   *string          `json:"file_uploaded_by,omitempty"`
	VersionNumber    int              `json:"version_number"`
	IsCurrentVersion bool             `json:"is_current_version"`
	ReviewedAt       *time.Time       `json:"reviewed_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

func (i Instance) Classified() bool { return i.TemplateID != nil }

func (i Instance) Linked() bool { return i.TemplateID != nil && i.Target != nil }

func (i Instance) State() ClassificationState {
	switch {
	case i.TemplateID == nil:
		return StateUnidentified
	case i.Target == nil:
		return StateUnlinked
	case i.Marker == MarkerProcessed:
		return StateProcessed
	default:
		return StateIdentified
	}
}

// VersionRecord is an archived, immutable file reference of an instance.
type VersionRecord struct {
	InstanceID    string    `json:"instance_id"`
	VersionNumber int       `json:"version_number"`
	FileRef       string    `json:"file_ref"`
	UploadedAt    time.Time `json:"uploaded_at"`
	UploadedBy    *string   `json:"uploaded_by,omitempty"`
	ArchivedAt    time.Time `json:"archived_at"`
}

// VersionSwap archives the head described by Expected* and installs NewFileRef.
// The store rejects it with ErrConcurrentModification when the head moved or was
// reclassified since the lifecycle decision was made.
type VersionSwap struct {
	InstanceID         string
	ExpectedVersion    int
	ExpectedTemplateID *string
	NewFileRef         string
	UploadedBy         *string
	At                 time.Time
}

// FileOverwrite replaces the head file reference without history.
type FileOverwrite struct {
	InstanceID         string
	ExpectedVersion    int
	ExpectedTemplateID *string
	NewFileRef         string
	UploadedBy         *string
	At                 time.Time
}

// Linkage writes template and target together.
type Linkage struct {
	InstanceID string
	TemplateID string
	Target     Target
	At         time.Time
}

// InstanceFilter narrows a case listing. Zero fields match everything.
type InstanceFilter struct {
	State      ClassificationState
	TemplateID string
	Target     *Target
}

// SameTemplate reports whether two optional template ids name the same template.
func SameTemplate(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// OneTimeReplacePolicy decides what replacing a one_time document does.
type OneTimeReplacePolicy string

const (
	OneTimeOverwrite OneTimeReplacePolicy = "overwrite"
	OneTimeReject    OneTimeReplacePolicy = "reject"
)

type CreateInstanceInput struct {
	CaseID     string         `json:"case_id"`
	TemplateID *string        `json:"template_id,omitempty"`
	Target     *Target        `json:"target,omitempty"`
	FileRef    string         `json:"file_ref"`
	Status     DocumentStatus `json:"status,omitempty"`
	UploadedBy *string        `json:"uploaded_by,omitempty"`
}

type ReplaceFileInput struct {
	InstanceID    string    `json:"instance_id"`
	FileRef       string    `json:"file_ref"`
	LifecycleHint Lifecycle `json:"lifecycle_hint,omitempty"`
	UploadedBy    *string   `json:"uploaded_by,omitempty"`
}

type ClassifyInput struct {
	InstanceID string `json:"instance_id"`
	TemplateID string `json:"template_id"`
	Target     Target `json:"target"`
}

// ReplaceOutcome reports what a file replacement did.
type ReplaceOutcome string

const (
	OutcomeOverwritten ReplaceOutcome = "overwritten"
	OutcomeVersioned   ReplaceOutcome = "versioned"
	OutcomeUnchanged   ReplaceOutcome = "unchanged"
)

type ReplaceResult struct {
	Instance *Instance      `json:"instance"`
	Outcome  ReplaceOutcome `json:"outcome"`
	Archived *VersionRecord `json:"archived,omitempty"`
}

type BulkItemResult struct {
	Index    int       `json:"index"`
	Key      string    `json:"key"`
	Instance *Instance `json:"instance,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type BulkResult struct {
	CaseID    string           `json:"case_id,omitempty"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Items     []BulkItemResult `json:"items"`
}

func (r *BulkResult) Add(index int, key string, inst *Instance, err error) {
	item := BulkItemResult{Index: index, Key: key}
	if err != nil {
		item.Error = err.Error()
		r.Failed++
	} else {
		item.Instance = inst
		r.Succeeded++
	}
	r.Items = append(r.Items, item)
}
