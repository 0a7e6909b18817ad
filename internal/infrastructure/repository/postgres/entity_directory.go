package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/case-documents/internal/core/domain"
)

// EntityDirectory reads the case and entity tables owned by the entity CRUD services.
type EntityDirectory struct {
	db *sql.DB
}

func NewEntityDirectory(db *sql.DB) *EntityDirectory {
	return &EntityDirectory{db: db}
}

func (r *EntityDirectory) EntityExists(ctx context.Context, kind domain.TargetKind, id string) (bool, error) {
	var exists bool
	var err error
	if kind == domain.TargetCase {
		err = r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM cases WHERE id = $1)`, id).Scan(&exists)
	} else {
		err = r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM case_entities WHERE kind = $1 AND id = $2)`, string(kind), id).Scan(&exists)
	}
	if err != nil {
		return false, fmt.Errorf("entity exists %s: %w", kind, err)
	}
	return exists, nil
}

func (r *EntityDirectory) ListEntities(ctx context.Context, caseID string, kind domain.TargetKind) ([]domain.EntityRef, error) {
	return listEntities(ctx, r.db, caseID, kind)
}

func (r *EntityDirectory) CaseTags(ctx context.Context, caseID string) ([]domain.RequiredForTag, error) {
	return caseTags(ctx, r.db, caseID)
}

func listEntities(ctx context.Context, q queryer, caseID string, kind domain.TargetKind) ([]domain.EntityRef, error) {
	rows, err := q.QueryContext(ctx, `
SELECT kind, id, name
FROM case_entities
WHERE case_id = $1 AND ($2 = '' OR kind = $2)
ORDER BY kind, id
`, caseID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	out := make([]domain.EntityRef, 0)
	for rows.Next() {
		var ref domain.EntityRef
		var refKind string
		if err := rows.Scan(&refKind, &ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		ref.Kind = domain.TargetKind(refKind)
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

func caseTags(ctx context.Context, q queryer, caseID string) ([]domain.RequiredForTag, error) {
	rows, err := q.QueryContext(ctx, `SELECT tag FROM case_requirement_tags WHERE case_id = $1 ORDER BY tag`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list case tags: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RequiredForTag, 0)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan case tag: %w", err)
		}
		out = append(out, domain.RequiredForTag(tag))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate case tags: %w", err)
	}
	return out, nil
}
