package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/case-documents/internal/core/domain"
)

// SnapshotRepository loads overview inputs inside one REPEATABLE READ READ ONLY
// transaction so every count comes from the same point in time.
type SnapshotRepository struct {
	db *sql.DB
}

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) LoadCaseSnapshot(ctx context.Context, caseID string) (*domain.CaseSnapshot, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM cases WHERE id = $1)`, caseID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("lookup case: %w", err)
	}
	if !exists {
		return nil, domain.WrapError(domain.ErrCaseNotFound, "load case snapshot", fmt.Errorf("case_id=%s", caseID))
	}

	snapshot := &domain.CaseSnapshot{CaseID: caseID}
	if snapshot.Tags, err = caseTags(ctx, tx, caseID); err != nil {
		return nil, err
	}
	if snapshot.Entities, err = listEntities(ctx, tx, caseID, ""); err != nil {
		return nil, err
	}
	if snapshot.Templates, err = listTemplates(ctx, tx, domain.TemplateFilter{}); err != nil {
		return nil, err
	}
	snapshot.Instances, err = queryInstances(ctx, tx, `SELECT `+instanceColumns+`
FROM case_documents
WHERE case_id = $1
ORDER BY created_at, id`, caseID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snapshot tx: %w", err)
	}
	return snapshot, nil
}
