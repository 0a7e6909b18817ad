package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/case-documents/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrValidation):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrConflict):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrConcurrentModification):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrInvalidOperation):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is a stable machine-readable name for the error kind.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrTemplateInUse):
		return "template_in_use"
	case errors.Is(err, domain.ErrTargetKindMismatch):
		return "target_kind_mismatch"
	case errors.Is(err, domain.ErrTargetEntityNotFound):
		return "target_entity_not_found"
	case errors.Is(err, domain.ErrTemplateMismatch):
		return "template_mismatch"
	case errors.Is(err, domain.ErrRecurringReplace):
		return "invalid_operation_for_recurring_document"
	case domain.IsKind(err, domain.ErrValidation):
		return "validation_error"
	case domain.IsKind(err, domain.ErrNotFound):
		return "not_found"
	case domain.IsKind(err, domain.ErrConflict):
		return "referential_conflict"
	case domain.IsKind(err, domain.ErrConcurrentModification):
		return "concurrent_modification"
	case domain.IsKind(err, domain.ErrInvalidOperation):
		return "invalid_operation"
	case domain.IsKind(err, domain.ErrTemporary):
		return "temporarily_unavailable"
	default:
		return "internal_error"
	}
}
