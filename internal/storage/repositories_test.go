package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	db.SetMaxOpenConns(1)
	require.NoError(t, Migrate(context.Background(), db, "sqlite"))
	return db
}

func testDocument(filename string) *Document {
	return &Document{
		Filename:         filename,
		OriginalFilename: "report.pdf",
		BlobURL:          "memory://documents/" + filename,
		ContentType:      "application/pdf",
	}
}

func strPtr(s string) *string { return &s }

func TestDocumentRepository_CreateAndGet(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t))
	ctx := context.Background()

	doc := testDocument("a1.pdf")
	doc.Fingerprint = strPtr("etag-1")
	require.NoError(t, repo.Create(ctx, doc))

	assert.NotEqual(t, uuid.Nil, doc.ID)
	assert.Equal(t, StatusPending, doc.Status)
	assert.False(t, doc.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, "a1.pdf", got.Filename)
	assert.Equal(t, "report.pdf", got.OriginalFilename)
	assert.Equal(t, StatusPending, got.Status)
	require.NotNil(t, got.Fingerprint)
	assert.Equal(t, "etag-1", *got.Fingerprint)
	assert.Nil(t, got.ExtractedText)
	assert.Nil(t, got.Summary)
	assert.Equal(t, 0, got.Attempts)
	assert.Nil(t, got.NextRetryAt)

	byName, err := repo.GetByFilename(ctx, "a1.pdf")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, byName.ID)

	byFingerprint, err := repo.GetByFingerprint(ctx, "etag-1")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, byFingerprint.ID)
}

func TestDocumentRepository_GetNotFound(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t))
	ctx := context.Background()

	_, err := repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetByFilename(ctx, "missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentRepository_CreateConflicts(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t))
	ctx := context.Background()

	first := testDocument("same.pdf")
	first.Fingerprint = strPtr("etag-same")
	require.NoError(t, repo.Create(ctx, first))

	sameFilename := testDocument("same.pdf")
	assert.ErrorIs(t, repo.Create(ctx, sameFilename), ErrConflict)

	sameFingerprint := testDocument("other.pdf")
	sameFingerprint.Fingerprint = strPtr("etag-same")
	assert.ErrorIs(t, repo.Create(ctx, sameFingerprint), ErrConflict)
}

func TestDocumentRepository_ListPending(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t))
	ctx := context.Background()

	due := testDocument("due.pdf")
	require.NoError(t, repo.Create(ctx, due))

	done := testDocument("done.pdf")
	require.NoError(t, repo.Create(ctx, done))
	_, err := repo.SetExtractedTextAndSummary(ctx, done.ID, "text", "summary")
	require.NoError(t, err)

	deferred := testDocument("deferred.pdf")
	require.NoError(t, repo.Create(ctx, deferred))
	future := time.Now().UTC().Add(time.Hour)
	_, err = repo.MarkFailed(ctx, deferred.ID, 1, StatusPending, &future)
	require.NoError(t, err)

	docs, err := repo.ListPending(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, due.ID, docs[0].ID)

	// Once the retry time passes, the deferred document is due again.
	docs, err = repo.ListPending(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestDocumentRepository_SetStatus(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t))
	ctx := context.Background()

	doc := testDocument("s.pdf")
	require.NoError(t, repo.Create(ctx, doc))

	got, err := repo.SetStatus(ctx, doc.ID, StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)

	_, err = repo.SetStatus(ctx, uuid.New(), StatusProcessing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentRepository_TerminalStatusIsSticky(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t))
	ctx := context.Background()

	doc := testDocument("t.pdf")
	require.NoError(t, repo.Create(ctx, doc))

	_, err := repo.SetStatus(ctx, doc.ID, StatusError)
	require.NoError(t, err)

	_, err = repo.SetStatus(ctx, doc.ID, StatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = repo.SetStatus(ctx, doc.ID, StatusProcessing)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Setting the same terminal status again is a no-op, not an error.
	got, err := repo.SetStatus(ctx, doc.ID, StatusError)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
}

func TestDocumentRepository_SetExtractedTextAndSummary(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t))
	ctx := context.Background()

	doc := testDocument("c.pdf")
	require.NoError(t, repo.Create(ctx, doc))

	got, err := repo.SetExtractedTextAndSummary(ctx, doc.ID, "full text", "short summary")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.ExtractedText)
	assert.Equal(t, "full text", *got.ExtractedText)
	require.NotNil(t, got.Summary)
	assert.Equal(t, "short summary", *got.Summary)
}

func TestDocumentRepository_SetSummaryKeepsStatus(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t))
	ctx := context.Background()

	doc := testDocument("r.pdf")
	require.NoError(t, repo.Create(ctx, doc))
	_, err := repo.SetExtractedTextAndSummary(ctx, doc.ID, "text", "first summary")
	require.NoError(t, err)

	got, err := repo.SetSummary(ctx, doc.ID, "second summary")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Summary)
	assert.Equal(t, "second summary", *got.Summary)
	require.NotNil(t, got.ExtractedText)
	assert.Equal(t, "text", *got.ExtractedText)
}

func TestDocumentRepository_SetFingerprint(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t))
	ctx := context.Background()

	first := testDocument("f1.pdf")
	first.Fingerprint = strPtr("etag-f1")
	require.NoError(t, repo.Create(ctx, first))

	second := testDocument("f2.pdf")
	require.NoError(t, repo.Create(ctx, second))

	got, err := repo.SetFingerprint(ctx, second.ID, "etag-f2")
	require.NoError(t, err)
	require.NotNil(t, got.Fingerprint)
	assert.Equal(t, "etag-f2", *got.Fingerprint)

	_, err = repo.SetFingerprint(ctx, second.ID, "etag-f1")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestDocumentRepository_MarkFailed(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t))
	ctx := context.Background()

	doc := testDocument("m.pdf")
	require.NoError(t, repo.Create(ctx, doc))

	retryAt := time.Now().UTC().Add(time.Minute)
	got, err := repo.MarkFailed(ctx, doc.ID, 1, StatusPending, &retryAt)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.NextRetryAt)

	got, err = repo.MarkFailed(ctx, doc.ID, 2, StatusDeadLetter, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusDeadLetter, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Nil(t, got.NextRetryAt)
}

func TestDocumentRepository_ListFingerprints(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t))
	ctx := context.Background()

	withFP := testDocument("fp.pdf")
	withFP.Fingerprint = strPtr("etag-fp")
	require.NoError(t, repo.Create(ctx, withFP))

	withoutFP := testDocument("nofp.pdf")
	require.NoError(t, repo.Create(ctx, withoutFP))

	fingerprints, err := repo.ListFingerprints(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"etag-fp"}, fingerprints)
}
