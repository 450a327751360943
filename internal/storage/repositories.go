package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound          = errors.New("record not found")
	ErrConflict          = errors.New("record conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DocumentRepository handles document CRUD and status transitions.
type DocumentRepository struct {
	db DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, filename, original_filename, blob_url, content_type,
	fingerprint, status, extracted_text, summary, attempts, next_retry_at,
	created_at, updated_at`

// Create inserts a new document. Status defaults to pending; the ID and
// timestamps are assigned here when unset. Unique-key collisions on
// filename or fingerprint surface as ErrConflict.
func (r *DocumentRepository) Create(ctx context.Context, doc *Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	query := `
		INSERT INTO documents (id, filename, original_filename, blob_url, content_type,
			fingerprint, status, extracted_text, summary, attempts, next_retry_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.Filename, doc.OriginalFilename, doc.BlobURL, doc.ContentType,
		doc.Fingerprint, doc.Status, doc.ExtractedText, doc.Summary,
		doc.Attempts, doc.NextRetryAt, doc.CreatedAt, doc.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetByID retrieves a document by ID.
func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByFilename retrieves a document by its object-store key.
func (r *DocumentRepository) GetByFilename(ctx context.Context, filename string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE filename = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, filename))
}

// GetByFingerprint retrieves a document by its content fingerprint.
func (r *DocumentRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE fingerprint = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, fingerprint))
}

// ListAll lists every document, newest first.
func (r *DocumentRepository) ListAll(ctx context.Context) ([]*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// ListPending lists pending documents that are due for processing, oldest
// first. A document with a future next_retry_at is not yet due.
func (r *DocumentRepository) ListPending(ctx context.Context, now time.Time) ([]*Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE status = $1 AND (next_retry_at IS NULL OR next_retry_at <= $2)
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, StatusPending, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// ListFingerprints returns every persisted content fingerprint.
func (r *DocumentRepository) ListFingerprints(ctx context.Context) ([]string, error) {
	query := `SELECT fingerprint FROM documents WHERE fingerprint IS NOT NULL`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fingerprints []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		fingerprints = append(fingerprints, fp)
	}
	return fingerprints, rows.Err()
}

// SetStatus transitions a document to a new status and returns the
// refreshed record. Documents in a terminal status (error, dead_letter)
// are never moved out of it by this call.
func (r *DocumentRepository) SetStatus(ctx context.Context, id uuid.UUID, status DocumentStatus) (*Document, error) {
	doc, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status.Terminal() && status != doc.Status {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, status)
	}

	query := `UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3`
	if err := r.exec(ctx, query, status, time.Now().UTC(), id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// SetFingerprint records the content fingerprint for a document.
func (r *DocumentRepository) SetFingerprint(ctx context.Context, id uuid.UUID, fingerprint string) (*Document, error) {
	query := `UPDATE documents SET fingerprint = $1, updated_at = $2 WHERE id = $3`
	err := r.exec(ctx, query, fingerprint, time.Now().UTC(), id)
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// SetExtractedTextAndSummary stores the pipeline output and moves the
// document to completed in one update.
func (r *DocumentRepository) SetExtractedTextAndSummary(ctx context.Context, id uuid.UUID, text, summary string) (*Document, error) {
	query := `
		UPDATE documents
		SET extracted_text = $1, summary = $2, status = $3, updated_at = $4
		WHERE id = $5
	`
	if err := r.exec(ctx, query, text, summary, StatusCompleted, time.Now().UTC(), id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// SetSummary replaces the summary without touching the status. Used for
// summary regeneration after completion.
func (r *DocumentRepository) SetSummary(ctx context.Context, id uuid.UUID, summary string) (*Document, error) {
	query := `UPDATE documents SET summary = $1, updated_at = $2 WHERE id = $3`
	if err := r.exec(ctx, query, summary, time.Now().UTC(), id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// MarkFailed records a failed processing attempt. The caller decides the
// resulting status (pending for a retry, error or dead_letter when the
// attempt budget is spent) and the next retry time, if any.
func (r *DocumentRepository) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, status DocumentStatus, nextRetryAt *time.Time) (*Document, error) {
	query := `
		UPDATE documents
		SET attempts = $1, status = $2, next_retry_at = $3, updated_at = $4
		WHERE id = $5
	`
	if err := r.exec(ctx, query, attempts, status, nextRetryAt, time.Now().UTC(), id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *DocumentRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) scanOne(row *sql.Row) (*Document, error) {
	doc := &Document{}
	err := row.Scan(
		&doc.ID, &doc.Filename, &doc.OriginalFilename, &doc.BlobURL, &doc.ContentType,
		&doc.Fingerprint, &doc.Status, &doc.ExtractedText, &doc.Summary,
		&doc.Attempts, &doc.NextRetryAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepository) scanMany(rows *sql.Rows) ([]*Document, error) {
	var docs []*Document
	for rows.Next() {
		doc := &Document{}
		if err := rows.Scan(
			&doc.ID, &doc.Filename, &doc.OriginalFilename, &doc.BlobURL, &doc.ContentType,
			&doc.Fingerprint, &doc.Status, &doc.ExtractedText, &doc.Summary,
			&doc.Attempts, &doc.NextRetryAt, &doc.CreatedAt, &doc.UpdatedAt,
		); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// isUniqueViolation detects unique-constraint failures for both the
// sqlite and postgres drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
