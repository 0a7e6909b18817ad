package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/case-documents/internal/core/domain"
)

// DocumentRepository stores case document instances and their version history.
type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS cases (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS case_requirement_tags (
	case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
	tag TEXT NOT NULL,
	PRIMARY KEY (case_id, tag)
);

CREATE TABLE IF NOT EXISTS case_entities (
	kind TEXT NOT NULL,
	id TEXT NOT NULL,
	case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
	name TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (kind, id)
);

CREATE INDEX IF NOT EXISTS idx_case_entities_case ON case_entities(case_id, kind);

CREATE TABLE IF NOT EXISTS unique_doc_types (
	id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	category TEXT NOT NULL,
	issuer TEXT NOT NULL DEFAULT '',
	target_kind TEXT NOT NULL,
	lifecycle TEXT NOT NULL,
	is_recurring BOOLEAN NOT NULL,
	frequency TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT unique_doc_types_frequency CHECK ((lifecycle = 'recurring') = (frequency IS NOT NULL))
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_unique_doc_types_name_category
	ON unique_doc_types (lower(display_name), category);

CREATE TABLE IF NOT EXISTS unique_doc_type_required_for (
	doc_type_id TEXT NOT NULL REFERENCES unique_doc_types(id) ON DELETE CASCADE,
	tag TEXT NOT NULL,
	PRIMARY KEY (doc_type_id, tag)
);

CREATE TABLE IF NOT EXISTS case_documents (
	id TEXT PRIMARY KEY,
	case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
	doc_type_id TEXT REFERENCES unique_doc_types(id) ON DELETE RESTRICT,
	target_kind TEXT,
	target_id TEXT,
	status TEXT NOT NULL,
	processing_marker TEXT NOT NULL,
	file_ref TEXT NOT NULL,
	file_uploaded_at TIMESTAMPTZ NOT NULL,
	file_uploaded_by TEXT,
	version_number INTEGER NOT NULL DEFAULT 1,
	is_current_version BOOLEAN NOT NULL DEFAULT TRUE,
	reviewed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT case_documents_target_pair CHECK ((target_kind IS NULL) = (target_id IS NULL)),
	CONSTRAINT case_documents_target_needs_type CHECK (target_kind IS NULL OR doc_type_id IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_case_documents_case ON case_documents(case_id, created_at);
CREATE INDEX IF NOT EXISTS idx_case_documents_link
	ON case_documents(doc_type_id, target_kind, target_id) WHERE is_current_version;

CREATE TABLE IF NOT EXISTS document_version_history (
	case_document_id TEXT NOT NULL REFERENCES case_documents(id) ON DELETE CASCADE,
	version_number INTEGER NOT NULL,
	file_ref TEXT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL,
	uploaded_by TEXT,
	archived_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (case_document_id, version_number)
);
`

const instanceColumns = `id, case_id, doc_type_id, target_kind, target_id, status, processing_marker, file_ref,
	file_uploaded_at, file_uploaded_by, version_number, is_current_version, reviewed_at, created_at, updated_at`

func (r *DocumentRepository) CreateInstance(ctx context.Context, inst *domain.Instance) error {
	var targetKind, targetID *string
	if inst.Target != nil {
		kind := string(inst.Target.Kind)
		targetKind, targetID = &kind, &inst.Target.ID
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO case_documents (`+instanceColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`,
		inst.ID, inst.CaseID, inst.TemplateID, targetKind, targetID, string(inst.Status), string(inst.Marker), inst.FileRef,
		inst.FileUploadedAt, inst.FileUploadedBy, inst.VersionNumber, inst.IsCurrentVersion, inst.ReviewedAt,
		inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.WrapError(domain.ErrConflict, "insert case document", err)
		}
		return fmt.Errorf("insert case document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetInstance(ctx context.Context, id string) (*domain.Instance, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM case_documents WHERE id = $1`, id)
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrInstanceNotFound, "get case document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan case document: %w", err)
	}
	return &inst, nil
}

func (r *DocumentRepository) ListInstances(ctx context.Context, caseID string, filter domain.InstanceFilter) ([]domain.Instance, error) {
	query := `SELECT ` + instanceColumns + `
FROM case_documents
WHERE case_id = $1
`
	switch filter.State {
	case domain.StateUnidentified:
		query += "AND doc_type_id IS NULL\n"
	case domain.StateUnlinked:
		query += "AND doc_type_id IS NOT NULL AND target_id IS NULL\n"
	case domain.StateIdentified:
		query += "AND doc_type_id IS NOT NULL AND target_id IS NOT NULL AND processing_marker <> 'processed'\n"
	case domain.StateProcessed:
		query += "AND doc_type_id IS NOT NULL AND target_id IS NOT NULL AND processing_marker = 'processed'\n"
	}
	args := []any{caseID}
	if filter.TemplateID != "" {
		args = append(args, filter.TemplateID)
		query += fmt.Sprintf("AND doc_type_id = $%d\n", len(args))
	}
	if filter.Target != nil {
		args = append(args, string(filter.Target.Kind), filter.Target.ID)
		query += fmt.Sprintf("AND target_kind = $%d AND target_id = $%d\n", len(args)-1, len(args))
	}
	query += "ORDER BY created_at, id"

	return queryInstances(ctx, r.db, query, args...)
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE case_documents
SET status = $2, reviewed_at = $3, updated_at = $3
WHERE id = $1
`, id, string(status), at)
	if err != nil {
		return fmt.Errorf("update case document status: %w", err)
	}
	return requireAffected(result, "update case document status", id)
}

func (r *DocumentRepository) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE case_documents
SET processing_marker = 'processed', updated_at = $2
WHERE id = $1 AND doc_type_id IS NOT NULL AND target_id IS NOT NULL
`, id, at)
	if err != nil {
		return fmt.Errorf("mark case document processed: %w", err)
	}
	return requireAffected(result, "mark case document processed", id)
}

// SetLinkage writes template, target and marker in a single statement.
func (r *DocumentRepository) SetLinkage(ctx context.Context, link domain.Linkage) (*domain.Instance, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE case_documents
SET doc_type_id = $2,
	target_kind = $3,
	target_id = $4,
	processing_marker = CASE WHEN processing_marker = 'processed' THEN 'processed' ELSE 'identified' END,
	updated_at = $5
WHERE id = $1
RETURNING `+instanceColumns,
		link.InstanceID, link.TemplateID, string(link.Target.Kind), link.Target.ID, link.At,
	)
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrInstanceNotFound, "set linkage", fmt.Errorf("id=%s", link.InstanceID))
		}
		if isForeignKeyViolation(err) {
			return nil, domain.WrapError(domain.ErrTemplateNotFound, "set linkage", err)
		}
		return nil, fmt.Errorf("set linkage: %w", err)
	}
	return &inst, nil
}

func (r *DocumentRepository) OverwriteFile(ctx context.Context, op domain.FileOverwrite) (*domain.Instance, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin overwrite tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := lockHead(ctx, tx, op.InstanceID, op.ExpectedVersion, op.ExpectedTemplateID); err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `
UPDATE case_documents
SET file_ref = $2, file_uploaded_at = $3, file_uploaded_by = $4, updated_at = $3
WHERE id = $1
RETURNING `+instanceColumns,
		op.InstanceID, op.NewFileRef, op.At, op.UploadedBy,
	)
	inst, err := scanInstance(row)
	if err != nil {
		return nil, fmt.Errorf("overwrite file reference: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit overwrite tx: %w", err)
	}
	return &inst, nil
}

// SwapVersion archives the head row and installs the new file reference under a row lock.
func (r *DocumentRepository) SwapVersion(ctx context.Context, op domain.VersionSwap) (*domain.Instance, *domain.VersionRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin version tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	head, err := lockHead(ctx, tx, op.InstanceID, op.ExpectedVersion, op.ExpectedTemplateID)
	if err != nil {
		return nil, nil, err
	}

	record := domain.VersionRecord{
		InstanceID:    head.ID,
		VersionNumber: head.VersionNumber,
		FileRef:       head.FileRef,
		UploadedAt:    head.FileUploadedAt,
		UploadedBy:    head.FileUploadedBy,
		ArchivedAt:    op.At,
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO document_version_history (case_document_id, version_number, file_ref, uploaded_at, uploaded_by, archived_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, record.InstanceID, record.VersionNumber, record.FileRef, record.UploadedAt, record.UploadedBy, record.ArchivedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, domain.WrapError(domain.ErrConcurrentModification, "archive version", err)
		}
		return nil, nil, fmt.Errorf("archive version: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
UPDATE case_documents
SET file_ref = $2, file_uploaded_at = $3, file_uploaded_by = $4, version_number = version_number + 1, updated_at = $3
WHERE id = $1
RETURNING `+instanceColumns,
		op.InstanceID, op.NewFileRef, op.At, op.UploadedBy,
	)
	inst, err := scanInstance(row)
	if err != nil {
		return nil, nil, fmt.Errorf("advance version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return nil, nil, domain.WrapError(domain.ErrConcurrentModification, "commit version tx", err)
		}
		return nil, nil, fmt.Errorf("commit version tx: %w", err)
	}
	return &inst, &record, nil
}

func (r *DocumentRepository) ListVersions(ctx context.Context, instanceID string) ([]domain.VersionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT case_document_id, version_number, file_ref, uploaded_at, uploaded_by, archived_at
FROM document_version_history
WHERE case_document_id = $1
ORDER BY version_number ASC
`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.VersionRecord, 0)
	for rows.Next() {
		var record domain.VersionRecord
		var uploadedBy sql.NullString
		if err := rows.Scan(&record.InstanceID, &record.VersionNumber, &record.FileRef, &record.UploadedAt, &uploadedBy, &record.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		record.UploadedBy = nullableString(uploadedBy)
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return out, nil
}

// DeleteInstance removes the row; history rows go with it through ON DELETE CASCADE.
func (r *DocumentRepository) DeleteInstance(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM case_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete case document: %w", err)
	}
	return requireAffected(result, "delete case document", id)
}

// lockHead locks the instance row and checks it still carries the version and
// template the caller decided on.
func lockHead(ctx context.Context, tx *sql.Tx, id string, expectedVersion int, expectedTemplateID *string) (domain.Instance, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM case_documents WHERE id = $1 FOR UPDATE`, id)
	head, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Instance{}, domain.WrapError(domain.ErrInstanceNotFound, "lock case document", fmt.Errorf("id=%s", id))
		}
		return domain.Instance{}, fmt.Errorf("lock case document: %w", err)
	}
	if head.VersionNumber != expectedVersion {
		return domain.Instance{}, domain.WrapError(domain.ErrConcurrentModification, "lock case document",
			fmt.Errorf("id=%s expected version %d, stored %d", id, expectedVersion, head.VersionNumber))
	}
	if !domain.SameTemplate(head.TemplateID, expectedTemplateID) {
		return domain.Instance{}, domain.WrapError(domain.ErrConcurrentModification, "lock case document",
			fmt.Errorf("id=%s reclassified since read", id))
	}
	return head, nil
}

func requireAffected(result sql.Result, operation, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrInstanceNotFound, operation, fmt.Errorf("id=%s", id))
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryInstances(ctx context.Context, q queryer, query string, args ...any) ([]domain.Instance, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list case documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Instance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case document: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate case documents: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (domain.Instance, error) {
	var inst domain.Instance
	var templateID, targetKind, targetID, uploadedBy sql.NullString
	var status, marker string
	var reviewedAt sql.NullTime

	err := row.Scan(
		&inst.ID,
		&inst.CaseID,
		&templateID,
		&targetKind,
		&targetID,
		&status,
		&marker,
		&inst.FileRef,
		&inst.FileUploadedAt,
		&uploadedBy,
		&inst.VersionNumber,
		&inst.IsCurrentVersion,
		&reviewedAt,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return domain.Instance{}, err
	}

	inst.TemplateID = nullableString(templateID)
	if targetKind.Valid && targetID.Valid {
		inst.Target = &domain.Target{Kind: domain.TargetKind(targetKind.String), ID: targetID.String}
	}
	inst.Status = domain.DocumentStatus(status)
	inst.Marker = domain.ProcessingMarker(marker)
	inst.FileUploadedBy = nullableString(uploadedBy)
	if reviewedAt.Valid {
		at := reviewedAt.Time
		inst.ReviewedAt = &at
	}
	return inst, nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
