package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/kirillkom/case-documents/internal/core/domain"
	"github.com/kirillkom/case-documents/internal/core/ports"
	"github.com/kirillkom/case-documents/internal/infrastructure/resilience"
)

// ResilientEntityDirectory guards entity lookups with retry and a circuit breaker.
// Lookups hit tables owned by other services, so their outages stay isolated.
type ResilientEntityDirectory struct {
	next     ports.EntityDirectory
	executor *resilience.Executor
}

func NewResilientEntityDirectory(next ports.EntityDirectory, executor *resilience.Executor) *ResilientEntityDirectory {
	return &ResilientEntityDirectory{next: next, executor: executor}
}

func (d *ResilientEntityDirectory) EntityExists(ctx context.Context, kind domain.TargetKind, id string) (bool, error) {
	ok, err := resilience.Call(ctx, d.executor, "entities.exists", func(ctx context.Context) (bool, error) {
		return d.next.EntityExists(ctx, kind, id)
	}, classifyPostgresError)
	return ok, wrapTemporaryIfNeeded("entity exists", err)
}

func (d *ResilientEntityDirectory) ListEntities(ctx context.Context, caseID string, kind domain.TargetKind) ([]domain.EntityRef, error) {
	refs, err := resilience.Call(ctx, d.executor, "entities.list", func(ctx context.Context) ([]domain.EntityRef, error) {
		return d.next.ListEntities(ctx, caseID, kind)
	}, classifyPostgresError)
	return refs, wrapTemporaryIfNeeded("list entities", err)
}

func (d *ResilientEntityDirectory) CaseTags(ctx context.Context, caseID string) ([]domain.RequiredForTag, error) {
	tags, err := resilience.Call(ctx, d.executor, "entities.case_tags", func(ctx context.Context) ([]domain.RequiredForTag, error) {
		return d.next.CaseTags(ctx, caseID)
	}, classifyPostgresError)
	return tags, wrapTemporaryIfNeeded("case tags", err)
}

func classifyPostgresError(err error) resilience.ErrorClassification {
	return resilience.Classify(err, storeUnavailable, nil)
}

// storeUnavailable covers broken connections, serialization conflicts, 08xxx
// connection exceptions and 57P0x operator intervention (shutdown, restart).
func storeUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || isSerializationFailure(err) {
		return true
	}
	if code := pgCode(err); strings.HasPrefix(code, "08") || strings.HasPrefix(code, "57P0") {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	return resilience.WrapTemporary(operation, err, classifyPostgresError)
}
