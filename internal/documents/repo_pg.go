package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const documentColumns = `id, owner_id, file_name, mime_type, storage_path, size_bytes, status,
extracted_content, error_detail, attempts, created_at, updated_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var status string
	var content sql.NullString
	var detail sql.NullString
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	if err := row.Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.FileName,
		&doc.MimeType,
		&doc.StoragePath,
		&doc.SizeBytes,
		&status,
		&content,
		&detail,
		&doc.Attempts,
		&doc.CreatedAt,
		&doc.UpdatedAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return Document{}, err
	}
	doc.Status = Status(status)
	if content.Valid {
		doc.ExtractedContent = &content.String
	}
	if detail.Valid {
		doc.ErrorDetail = &detail.String
	}
	if startedAt.Valid {
		doc.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		doc.CompletedAt = &completedAt.Time
	}
	return doc, nil
}

// statusList renders statuses as a SQL literal list. Values come from the
// Status constants only.
func statusList(statuses []Status) string {
	quoted := make([]string, len(statuses))
	for i, s := range statuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ", ")
}

// Create inserts a new pending document.
func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	if doc.ID == "" || doc.Status != StatusPending {
		return ErrInvalidInput
	}
	const query = `
INSERT INTO documents (
    id,
    owner_id,
    file_name,
    mime_type,
    storage_path,
    size_bytes,
    status,
    attempts,
    created_at,
    updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)`

	_, err := r.DB.ExecContext(
		ctx,
		query,
		doc.ID,
		doc.OwnerID,
		doc.FileName,
		doc.MimeType,
		doc.StoragePath,
		doc.SizeBytes,
		string(doc.Status),
		doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

// GetByID fetches a live document.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Document, error) {
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE id = $1 AND deleted_at IS NULL`
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// GetForOwner fetches a live document owned by ownerID.
func (r *PGRepo) GetForOwner(ctx context.Context, ownerID, id string) (Document, error) {
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL`
	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// MarkProcessing claims the document, clearing earlier results.
func (r *PGRepo) MarkProcessing(ctx context.Context, id string, at time.Time) (Document, error) {
	query := `
UPDATE documents
SET status = 'processing',
    extracted_content = NULL,
    error_detail = NULL,
    attempts = attempts + 1,
    started_at = $2,
    completed_at = NULL,
    updated_at = $2
WHERE id = $1 AND deleted_at IS NULL AND status IN (` + statusList(allowedFrom(StatusProcessing)) + `)
RETURNING ` + documentColumns

	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, id, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, r.explainMiss(ctx, id, StatusProcessing)
		}
		return Document{}, fmt.Errorf("mark processing %s: %w", id, err)
	}
	return doc, nil
}

// Complete writes extracted content if the document is still processing.
func (r *PGRepo) Complete(ctx context.Context, id, content string, at time.Time) error {
	query := `
UPDATE documents
SET status = 'completed',
    extracted_content = $2,
    error_detail = NULL,
    completed_at = $3,
    updated_at = $3
WHERE id = $1 AND deleted_at IS NULL AND status IN (` + statusList(allowedFrom(StatusCompleted)) + `)`
	return r.guardedExec(ctx, id, StatusCompleted, query, id, content, at)
}

// Fail writes the error detail if the document is still processing.
func (r *PGRepo) Fail(ctx context.Context, id, detail string, at time.Time) error {
	query := `
UPDATE documents
SET status = 'failed',
    extracted_content = NULL,
    error_detail = $2,
    completed_at = $3,
    updated_at = $3
WHERE id = $1 AND deleted_at IS NULL AND status IN (` + statusList(allowedFrom(StatusFailed)) + `)`
	return r.guardedExec(ctx, id, StatusFailed, query, id, detail, at)
}

// ListByOwner lists live documents newest first.
func (r *PGRepo) ListByOwner(ctx context.Context, ownerID string, filter ListFilter) ([]Document, error) {
	filter = filter.normalized()

	var (
		where = []string{"owner_id = $1", "deleted_at IS NULL"}
		args  = []any{ownerID}
	)
	if name := strings.TrimSpace(filter.FileName); name != "" {
		args = append(args, "%"+escapeLike(name)+"%")
		where = append(where, fmt.Sprintf("file_name ILIKE $%d", len(args)))
	}
	if mt := strings.TrimSpace(filter.MimeType); mt != "" {
		args = append(args, strings.ToLower(mt))
		where = append(where, fmt.Sprintf("lower(mime_type) = $%d", len(args)))
	}
	args = append(args, filter.Limit, filter.Offset)

	query := fmt.Sprintf(`SELECT %s
FROM documents
WHERE %s
ORDER BY created_at DESC, id DESC
LIMIT $%d OFFSET $%d`, documentColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Delete soft-deletes a document owned by ownerID.
func (r *PGRepo) Delete(ctx context.Context, ownerID, id string) error {
	const query = `
UPDATE documents
SET deleted_at = now(), updated_at = now()
WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL`
	res, err := r.DB.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStale returns stuck pending/processing documents, oldest first.
func (r *PGRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = maxListLimit
	}
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE deleted_at IS NULL AND status IN (` + statusList([]Status{StatusPending, StatusProcessing}) + `) AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2`

	rows, err := r.DB.QueryContext(ctx, query, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Touch bumps updated_at if the document is still in expected.
func (r *PGRepo) Touch(ctx context.Context, id string, expected Status, at time.Time) error {
	const query = `
UPDATE documents
SET updated_at = $3
WHERE id = $1 AND deleted_at IS NULL AND status = $2`
	res, err := r.DB.ExecContext(ctx, query, id, string(expected), at)
	if err != nil {
		return fmt.Errorf("touch document %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.currentStatus(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

func (r *PGRepo) guardedExec(ctx context.Context, id string, to Status, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set %s %s: %w", to, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return r.explainMiss(ctx, id, to)
	}
	return nil
}

// explainMiss tells a missing row apart from a row in the wrong status.
func (r *PGRepo) explainMiss(ctx context.Context, id string, to Status) error {
	current, err := r.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s -> %s: %w", current, to, ErrInvalidTransition)
}

func (r *PGRepo) currentStatus(ctx context.Context, id string) (Status, error) {
	const query = `SELECT status FROM documents WHERE id = $1 AND deleted_at IS NULL`
	var status string
	if err := r.DB.QueryRowContext(ctx, query, id).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return Status(status), nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var _ Repo = (*PGRepo)(nil)
