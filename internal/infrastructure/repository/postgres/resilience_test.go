package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/case-documents/internal/core/domain"
	"github.com/kirillkom/case-documents/internal/infrastructure/resilience"
)

type flakyDirectory struct {
	failures int
	calls    int
	err      error
}

func (d *flakyDirectory) EntityExists(context.Context, domain.TargetKind, string) (bool, error) {
	d.calls++
	if d.calls <= d.failures {
		return false, d.err
	}
	return true, nil
}

func (d *flakyDirectory) ListEntities(context.Context, string, domain.TargetKind) ([]domain.EntityRef, error) {
	return nil, d.err
}

func (d *flakyDirectory) CaseTags(context.Context, string) ([]domain.RequiredForTag, error) {
	return []domain.RequiredForTag{domain.RequiredForEmployees}, nil
}

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})
}

func TestResilientEntityDirectoryRetriesBadConn(t *testing.T) {
	next := &flakyDirectory{failures: 2, err: driver.ErrBadConn}
	dir := NewResilientEntityDirectory(next, testExecutor())

	ok, err := dir.EntityExists(context.Background(), domain.TargetPerson, "p-1")
	if err != nil || !ok {
		t.Fatalf("expected success after retries, got %v %v", ok, err)
	}
	if next.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", next.calls)
	}
}

func TestResilientEntityDirectoryMarksExhaustedRetriesTemporary(t *testing.T) {
	next := &flakyDirectory{failures: 10, err: &pgconn.PgError{Code: "08006"}}
	dir := NewResilientEntityDirectory(next, testExecutor())

	_, err := dir.EntityExists(context.Background(), domain.TargetPerson, "p-1")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestResilientEntityDirectoryKeepsPermanentErrors(t *testing.T) {
	next := &flakyDirectory{failures: 10, err: errors.New("syntax error")}
	dir := NewResilientEntityDirectory(next, testExecutor())

	_, err := dir.ListEntities(context.Background(), "case-1", "")
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	tags, err := dir.CaseTags(context.Background(), "case-1")
	if err != nil || len(tags) != 1 {
		t.Fatalf("unexpected tags %v %v", tags, err)
	}
}
