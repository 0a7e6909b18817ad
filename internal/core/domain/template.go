package domain

import (
	"slices"
	"strings"
	"time"
)

type Category string

const (
	CategoryIdentification Category = "identification"
	CategoryFinancial      Category = "financial"
	CategoryProperty       Category = "property"
	CategoryEmployment     Category = "employment"
	CategoryTax            Category = "tax"
	CategoryInsurance      Category = "insurance"
	CategoryLegal          Category = "legal"
	CategoryOther          Category = "other"
)

var categories = []Category{
	CategoryIdentification, CategoryFinancial, CategoryProperty, CategoryEmployment,
	CategoryTax, CategoryInsurance, CategoryLegal, CategoryOther,
}

func (c Category) Valid() bool { return slices.Contains(categories, c) }

type Lifecycle string

const (
	LifecycleOneTime   Lifecycle = "one_time"
	LifecycleUpdatable Lifecycle = "updatable"
	LifecycleRecurring Lifecycle = "recurring"
)

func (l Lifecycle) Valid() bool {
	switch l {
	case LifecycleOneTime, LifecycleUpdatable, LifecycleRecurring:
		return true
	}
	return false
}

type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	}
	return false
}

// RequiredForTag decides which cases a template is mandatory for.
type RequiredForTag string

const (
	RequiredForAll            RequiredForTag = "all"
	RequiredForEmployees      RequiredForTag = "employees"
	RequiredForSelfEmployed   RequiredForTag = "self_employed"
	RequiredForBusinessOwners RequiredForTag = "business_owners"
)

func (t RequiredForTag) Valid() bool {
	switch t {
	case RequiredForAll, RequiredForEmployees, RequiredForSelfEmployed, RequiredForBusinessOwners:
		return true
	}
	return false
}

type Template struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"display_name"`
	Category    Category         `json:"category"`
	Issuer      string           `json:"issuer,omitempty"`
	TargetKind  TargetKind       `json:"target_kind"`
	Lifecycle   Lifecycle        `json:"lifecycle"`
	IsRecurring bool             `json:"is_recurring"`
	Frequency   *Frequency       `json:"frequency,omitempty"`
	RequiredFor []RequiredForTag `json:"required_for"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// TemplateInput carries the caller-owned fields of a template.
type TemplateInput struct {
	DisplayName string           `json:"display_name"`
	Category    Category         `json:"category"`
	Issuer      string           `json:"issuer,omitempty"`
	TargetKind  TargetKind       `json:"target_kind"`
	Lifecycle   Lifecycle        `json:"lifecycle"`
	Frequency   *Frequency       `json:"frequency,omitempty"`
	RequiredFor []RequiredForTag `json:"required_for"`
}

// TemplatePatch is a partial update. Nil fields keep the stored value.
// ClearFrequency drops a stored frequency when moving away from recurring.
type TemplatePatch struct {
	DisplayName    *string           `json:"display_name,omitempty"`
	Category       *Category         `json:"category,omitempty"`
	Issuer         *string           `json:"issuer,omitempty"`
	TargetKind     *TargetKind       `json:"target_kind,omitempty"`
	Lifecycle      *Lifecycle        `json:"lifecycle,omitempty"`
	Frequency      *Frequency        `json:"frequency,omitempty"`
	ClearFrequency bool              `json:"clear_frequency,omitempty"`
	RequiredFor    *[]RequiredForTag `json:"required_for,omitempty"`
}

type TemplateFilter struct {
	Category   Category
	TargetKind TargetKind
}

// Normalize trims text fields and de-duplicates required-for tags keeping first-seen order.
func (in TemplateInput) Normalize() TemplateInput {
	out := in
	out.DisplayName = strings.TrimSpace(in.DisplayName)
	out.Issuer = strings.TrimSpace(in.Issuer)
	out.RequiredFor = dedupeTags(in.RequiredFor)
	return out
}

// Validate enforces enum membership and the frequency/lifecycle invariant.
func (in TemplateInput) Validate() error {
	if strings.TrimSpace(in.DisplayName) == "" {
		return Invalid("display_name", "must not be empty")
	}
	if !in.Category.Valid() {
		return Invalid("category", "unknown value %q", in.Category)
	}
	if !in.TargetKind.Valid() {
		return Invalid("target_kind", "unknown value %q", in.TargetKind)
	}
	if !in.Lifecycle.Valid() {
		return Invalid("lifecycle", "unknown value %q", in.Lifecycle)
	}
	switch {
	case in.Lifecycle == LifecycleRecurring && in.Frequency == nil:
		return Invalid("frequency", "required for recurring templates")
	case in.Lifecycle != LifecycleRecurring && in.Frequency != nil:
		return Invalid("frequency", "only allowed for recurring templates")
	case in.Frequency != nil && !in.Frequency.Valid():
		return Invalid("frequency", "unknown value %q", *in.Frequency)
	}
	for _, tag := range in.RequiredFor {
		if !tag.Valid() {
			return Invalid("required_for", "unknown value %q", tag)
		}
	}
	return nil
}

// Input returns the caller-owned fields of t.
func (t Template) Input() TemplateInput {
	return TemplateInput{
		DisplayName: t.DisplayName,
		Category:    t.Category,
		Issuer:      t.Issuer,
		TargetKind:  t.TargetKind,
		Lifecycle:   t.Lifecycle,
		Frequency:   t.Frequency,
		RequiredFor: slices.Clone(t.RequiredFor),
	}
}

// Apply merges p onto in.
func (p TemplatePatch) Apply(in TemplateInput) TemplateInput {
	out := in
	if p.DisplayName != nil {
		out.DisplayName = *p.DisplayName
	}
	if p.Category != nil {
		out.Category = *p.Category
	}
	if p.Issuer != nil {
		out.Issuer = *p.Issuer
	}
	if p.TargetKind != nil {
		out.TargetKind = *p.TargetKind
	}
	if p.Lifecycle != nil {
		out.Lifecycle = *p.Lifecycle
	}
	if p.ClearFrequency {
		out.Frequency = nil
	}
	if p.Frequency != nil {
		freq := *p.Frequency
		out.Frequency = &freq
	}
	if p.RequiredFor != nil {
		out.RequiredFor = slices.Clone(*p.RequiredFor)
	}
	return out
}

// AppliesTo reports whether t is required for a case carrying tags.
// An empty required-for set is never required.
func (t Template) AppliesTo(tags []RequiredForTag) bool {
	for _, own := range t.RequiredFor {
		if own == RequiredForAll {
			return true
		}
		if slices.Contains(tags, own) {
			return true
		}
	}
	return false
}

func dedupeTags(tags []RequiredForTag) []RequiredForTag {
	out := make([]RequiredForTag, 0, len(tags))
	for _, tag := range tags {
		tag = RequiredForTag(strings.TrimSpace(string(tag)))
		if !slices.Contains(out, tag) {
			out = append(out, tag)
		}
	}
	return out
}
