package domain

import "strings"

// TargetKind is the entity family a document can be linked to.
type TargetKind string

const (
	TargetCase         TargetKind = "case"
	TargetPerson       TargetKind = "person"
	TargetCompany      TargetKind = "company"
	TargetBankAccount  TargetKind = "bank_account"
	TargetCreditCard   TargetKind = "credit_card"
	TargetLoan         TargetKind = "loan"
	TargetAsset        TargetKind = "asset"
	TargetIncomeSource TargetKind = "income_source"
)

// EntityKinds lists the kinds counted in a case overview, in report order.
var EntityKinds = []TargetKind{
	TargetPerson,
	TargetCompany,
	TargetBankAccount,
	TargetCreditCard,
	TargetLoan,
	TargetAsset,
	TargetIncomeSource,
}

func (k TargetKind) Valid() bool {
	switch k {
	case TargetCase, TargetPerson, TargetCompany, TargetBankAccount,
		TargetCreditCard, TargetLoan, TargetAsset, TargetIncomeSource:
		return true
	}
	return false
}

// Target points at one entity. Both fields are set or the target is absent.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

func (t Target) Validate() error {
	if !t.Kind.Valid() {
		return Invalid("target.kind", "unknown value %q", t.Kind)
	}
	if strings.TrimSpace(t.ID) == "" {
		return Invalid("target.id", "must not be empty")
	}
	return nil
}

// EntityRef is an entity that exists in a case.
type EntityRef struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
	Name string     `json:"name,omitempty"`
}

func (e EntityRef) Target() Target {
	return Target{Kind: e.Kind, ID: e.ID}
}
