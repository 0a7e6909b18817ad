package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/case-documents/internal/core/domain"
)

type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateSelect = `
SELECT t.id, t.display_name, t.category, t.issuer, t.target_kind, t.lifecycle, t.is_recurring, t.frequency,
	COALESCE((SELECT json_agg(r.tag ORDER BY r.tag) FROM unique_doc_type_required_for r WHERE r.doc_type_id = t.id), '[]'::json),
	t.created_at, t.updated_at
FROM unique_doc_types t
`

func (r *TemplateRepository) CreateTemplate(ctx context.Context, tmpl *domain.Template) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin template tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO unique_doc_types (id, display_name, category, issuer, target_kind, lifecycle, is_recurring, frequency, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, tmpl.ID, tmpl.DisplayName, string(tmpl.Category), tmpl.Issuer, string(tmpl.TargetKind), string(tmpl.Lifecycle),
		tmpl.IsRecurring, frequencyValue(tmpl.Frequency), tmpl.CreatedAt, tmpl.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrDuplicateTemplate, "insert template", fmt.Errorf("display_name=%s", tmpl.DisplayName))
		}
		return fmt.Errorf("insert template: %w", err)
	}
	if err := insertRequiredFor(ctx, tx, tmpl.ID, tmpl.RequiredFor); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit template tx: %w", err)
	}
	return nil
}

func (r *TemplateRepository) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	row := r.db.QueryRowContext(ctx, templateSelect+"WHERE t.id = $1", id)
	tmpl, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrTemplateNotFound, "get template", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &tmpl, nil
}

func (r *TemplateRepository) ListTemplates(ctx context.Context, filter domain.TemplateFilter) ([]domain.Template, error) {
	return listTemplates(ctx, r.db, filter)
}

// UpdateTemplate locks the template row. Linking an instance takes a key-share
// lock on it, so the reference count stays valid until commit.
func (r *TemplateRepository) UpdateTemplate(ctx context.Context, tmpl *domain.Template) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin template tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var storedKind, storedLifecycle string
	err = tx.QueryRowContext(ctx, `SELECT target_kind, lifecycle FROM unique_doc_types WHERE id = $1 FOR UPDATE`, tmpl.ID).
		Scan(&storedKind, &storedLifecycle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WrapError(domain.ErrTemplateNotFound, "update template", fmt.Errorf("id=%s", tmpl.ID))
		}
		return fmt.Errorf("lock template: %w", err)
	}
	if storedKind != string(tmpl.TargetKind) || storedLifecycle != string(tmpl.Lifecycle) {
		var refs int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM case_documents WHERE doc_type_id = $1`, tmpl.ID).Scan(&refs); err != nil {
			return fmt.Errorf("count template references: %w", err)
		}
		if refs > 0 {
			return domain.WrapError(domain.ErrTemplateInUse, "update template",
				fmt.Errorf("id=%s references=%d: target_kind and lifecycle are fixed while referenced", tmpl.ID, refs))
		}
	}

	result, err := tx.ExecContext(ctx, `
UPDATE unique_doc_types
SET display_name = $2, category = $3, issuer = $4, target_kind = $5, lifecycle = $6, is_recurring = $7, frequency = $8, updated_at = $9
WHERE id = $1
`, tmpl.ID, tmpl.DisplayName, string(tmpl.Category), tmpl.Issuer, string(tmpl.TargetKind), string(tmpl.Lifecycle),
		tmpl.IsRecurring, frequencyValue(tmpl.Frequency), tmpl.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrDuplicateTemplate, "update template", fmt.Errorf("display_name=%s", tmpl.DisplayName))
		}
		return fmt.Errorf("update template: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update template rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrTemplateNotFound, "update template", fmt.Errorf("id=%s", tmpl.ID))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM unique_doc_type_required_for WHERE doc_type_id = $1`, tmpl.ID); err != nil {
		return fmt.Errorf("clear required-for: %w", err)
	}
	if err := insertRequiredFor(ctx, tx, tmpl.ID, tmpl.RequiredFor); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit template tx: %w", err)
	}
	return nil
}

// DeleteTemplate locks the template row so no instance can reference it between
// the reference count and the delete.
func (r *TemplateRepository) DeleteTemplate(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin template tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM unique_doc_types WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WrapError(domain.ErrTemplateNotFound, "delete template", fmt.Errorf("id=%s", id))
		}
		return fmt.Errorf("lock template: %w", err)
	}

	var refs int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM case_documents WHERE doc_type_id = $1`, id).Scan(&refs); err != nil {
		return fmt.Errorf("count template references: %w", err)
	}
	if refs > 0 {
		return domain.WrapError(domain.ErrTemplateInUse, "delete template", fmt.Errorf("id=%s references=%d", id, refs))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM unique_doc_types WHERE id = $1`, id); err != nil {
		if isForeignKeyViolation(err) {
			return domain.WrapError(domain.ErrTemplateInUse, "delete template", err)
		}
		return fmt.Errorf("delete template: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit template tx: %w", err)
	}
	return nil
}

func listTemplates(ctx context.Context, q queryer, filter domain.TemplateFilter) ([]domain.Template, error) {
	rows, err := q.QueryContext(ctx, templateSelect+`
WHERE ($1 = '' OR t.category = $1) AND ($2 = '' OR t.target_kind = $2)
ORDER BY t.display_name, t.id
`, string(filter.Category), string(filter.TargetKind))
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Template, 0)
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return out, nil
}

func insertRequiredFor(ctx context.Context, tx *sql.Tx, templateID string, tags []domain.RequiredForTag) error {
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO unique_doc_type_required_for (doc_type_id, tag) VALUES ($1, $2)
ON CONFLICT DO NOTHING
`, templateID, string(tag)); err != nil {
			return fmt.Errorf("insert required-for %s: %w", tag, err)
		}
	}
	return nil
}

func scanTemplate(row rowScanner) (domain.Template, error) {
	var tmpl domain.Template
	var category, targetKind, lifecycle string
	var frequency sql.NullString
	var tagsRaw []byte

	err := row.Scan(
		&tmpl.ID,
		&tmpl.DisplayName,
		&category,
		&tmpl.Issuer,
		&targetKind,
		&lifecycle,
		&tmpl.IsRecurring,
		&frequency,
		&tagsRaw,
		&tmpl.CreatedAt,
		&tmpl.UpdatedAt,
	)
	if err != nil {
		return domain.Template{}, err
	}

	tmpl.Category = domain.Category(category)
	tmpl.TargetKind = domain.TargetKind(targetKind)
	tmpl.Lifecycle = domain.Lifecycle(lifecycle)
	if frequency.Valid {
		freq := domain.Frequency(frequency.String)
		tmpl.Frequency = &freq
	}
	tmpl.RequiredFor = []domain.RequiredForTag{}
	if err := json.Unmarshal(tagsRaw, &tmpl.RequiredFor); err != nil {
		return domain.Template{}, fmt.Errorf("unmarshal required-for: %w", err)
	}
	return tmpl, nil
}

func frequencyValue(f *domain.Frequency) any {
	if f == nil {
		return nil
	}
	return string(*f)
}
