package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Adapters map these to transport statuses.
var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("referential conflict")
	ErrInvalidOperation       = errors.New("invalid operation")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrTemporary              = errors.New("temporary failure")
)

// Specific failures. Each one wraps exactly one kind.
var (
	ErrTemplateNotFound     = fmt.Errorf("template not found: %w", ErrNotFound)
	ErrInstanceNotFound     = fmt.Errorf("document instance not found: %w", ErrNotFound)
	ErrTargetEntityNotFound = fmt.Errorf("target entity not found: %w", ErrNotFound)
	ErrCaseNotFound         = fmt.Errorf("case not found: %w", ErrNotFound)
	ErrTemplateInUse        = fmt.Errorf("template in use: %w", ErrConflict)
	ErrDuplicateTemplate    = fmt.Errorf("template with same display name and category exists: %w", ErrConflict)
	ErrTargetKindMismatch   = fmt.Errorf("target kind mismatch: %w", ErrValidation)
	ErrTemplateMismatch     = fmt.Errorf("lifecycle hint does not match template: %w", ErrValidation)
	ErrRecurringReplace     = fmt.Errorf("recurring documents are not replaced in place: %w", ErrInvalidOperation)
	ErrOneTimeReplace       = fmt.Errorf("one-time documents are not replaceable: %w", ErrInvalidOperation)
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// Invalid builds an ErrValidation error for a single field.
func Invalid(field, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %w", field, fmt.Sprintf(format, args...), ErrValidation)
}
