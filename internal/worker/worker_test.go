package worker

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"github.com/docstream/docstream/internal/blobstore"
	"github.com/docstream/docstream/internal/dedup"
	"github.com/docstream/docstream/internal/observability"
	"github.com/docstream/docstream/internal/storage"
)

type stubExtractor struct {
	text  string
	err   error
	calls int32
}

func (s *stubExtractor) Extract(ctx context.Context, document []byte) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

type stubSummarizer struct {
	summary string
	err     error
}

func (s *stubSummarizer) Summarize(ctx context.Context, text, customPrompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

type testEnv struct {
	worker *Worker
	repo   *storage.DocumentRepository
	store  *blobstore.MemoryStore
	ledger *dedup.MemoryLedger
}

func newTestEnv(t *testing.T, extractor Extractor, summarizer Summarizer, cfg Config) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	require.NoError(t, storage.Migrate(context.Background(), db, "sqlite"))

	repo := storage.NewDocumentRepository(db)
	store := blobstore.NewMemoryStore()
	ledger := dedup.NewMemoryLedger()

	cfg.TempDir = t.TempDir()
	w := New(observability.Nop(), repo, store, extractor, summarizer, ledger, cfg)

	return &testEnv{worker: w, repo: repo, store: store, ledger: ledger}
}

// createPendingDocument uploads a blob and creates its pending row, the
// way an API upload does.
func (e *testEnv) createPendingDocument(t *testing.T, key, content string) *storage.Document {
	t.Helper()
	ctx := context.Background()

	result, err := e.store.Upload(ctx, key, []byte(content), "application/pdf", nil)
	require.NoError(t, err)

	doc := &storage.Document{
		Filename:         key,
		OriginalFilename: key,
		BlobURL:          result.URL,
		ContentType:      "application/pdf",
		Fingerprint:      &result.Fingerprint,
	}
	require.NoError(t, e.repo.Create(ctx, doc))
	return doc
}

func TestProcessPendingCycle_CompletesDocument(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &stubExtractor{text: "extracted text"}, &stubSummarizer{summary: "a summary"}, Config{})
	doc := env.createPendingDocument(t, "a.pdf", "pdf content")

	require.NoError(t, env.worker.processPendingCycle(ctx))

	got, err := env.repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, got.Status)
	require.NotNil(t, got.ExtractedText)
	assert.Equal(t, "extracted text", *got.ExtractedText)
	require.NotNil(t, got.Summary)
	assert.Equal(t, "a summary", *got.Summary)
}

func TestProcessPendingCycle_ExtractionFailureIsTerminal(t *testing.T) {
	ctx := context.Background()
	extractor := &stubExtractor{err: errors.New("analysis failed")}
	env := newTestEnv(t, extractor, &stubSummarizer{summary: "unused"}, Config{MaxAttempts: 1})
	doc := env.createPendingDocument(t, "bad.pdf", "pdf content")

	require.NoError(t, env.worker.processPendingCycle(ctx))

	got, err := env.repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusError, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Nil(t, got.ExtractedText)
	assert.Nil(t, got.Summary)

	// The failure is terminal: the next cycle must not pick it up again.
	require.NoError(t, env.worker.processPendingCycle(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&extractor.calls))
}

func TestProcessPendingCycle_MissingBlobIsFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &stubExtractor{text: "unused"}, &stubSummarizer{summary: "unused"}, Config{})

	doc := &storage.Document{
		Filename:         "ghost.pdf",
		OriginalFilename: "ghost.pdf",
		BlobURL:          "memory://ghost.pdf",
		ContentType:      "application/pdf",
	}
	require.NoError(t, env.repo.Create(ctx, doc))

	require.NoError(t, env.worker.processPendingCycle(ctx))

	got, err := env.repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusError, got.Status)
}

func TestProcessPendingCycle_RetryThenDeadLetter(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &stubExtractor{err: errors.New("flaky")}, &stubSummarizer{summary: "unused"}, Config{
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
	})
	doc := env.createPendingDocument(t, "flaky.pdf", "pdf content")

	require.NoError(t, env.worker.processPendingCycle(ctx))

	got, err := env.repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.NextRetryAt)

	// Let the backoff elapse before each retry.
	for i := 0; i < 2; i++ {
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, env.worker.processPendingCycle(ctx))
	}

	got, err = env.repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusDeadLetter, got.Status)
	assert.Equal(t, 3, got.Attempts)
}

func TestDiscoverCycle_ProcessesNewBlob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &stubExtractor{text: "discovered text"}, &stubSummarizer{summary: "discovered summary"}, Config{})

	result, err := env.store.Upload(ctx, "dropped.pdf", []byte("pdf content"), "application/pdf", nil)
	require.NoError(t, err)

	require.NoError(t, env.worker.discoverCycle(ctx))

	doc, err := env.repo.GetByFilename(ctx, "dropped.pdf")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, doc.Status)
	require.NotNil(t, doc.Fingerprint)
	assert.Equal(t, result.Fingerprint, *doc.Fingerprint)
	require.NotNil(t, doc.ExtractedText)
	assert.Equal(t, "discovered text", *doc.ExtractedText)

	ok, err := env.ledger.Contains(ctx, result.Fingerprint)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDiscoverCycle_SecondPassIsIdempotent(t *testing.T) {
	ctx := context.Background()
	extractor := &stubExtractor{text: "text"}
	env := newTestEnv(t, extractor, &stubSummarizer{summary: "summary"}, Config{})

	_, err := env.store.Upload(ctx, "once.pdf", []byte("pdf content"), "application/pdf", nil)
	require.NoError(t, err)

	require.NoError(t, env.worker.discoverCycle(ctx))
	require.NoError(t, env.worker.discoverCycle(ctx))

	assert.Equal(t, int32(1), atomic.LoadInt32(&extractor.calls))

	docs, err := env.repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestDiscoverCycle_FailedBlobIsNotRetried(t *testing.T) {
	ctx := context.Background()
	extractor := &stubExtractor{err: errors.New("poison document")}
	env := newTestEnv(t, extractor, &stubSummarizer{summary: "unused"}, Config{MaxAttempts: 1})

	result, err := env.store.Upload(ctx, "poison.pdf", []byte("bad content"), "application/pdf", nil)
	require.NoError(t, err)

	require.NoError(t, env.worker.discoverCycle(ctx))

	doc, err := env.repo.GetByFilename(ctx, "poison.pdf")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusError, doc.Status)

	// The fingerprint is in the ledger even though processing failed, so
	// the next discovery pass skips the blob entirely.
	ok, err := env.ledger.Contains(ctx, result.Fingerprint)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, env.worker.discoverCycle(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&extractor.calls))
}

func TestDiscoverCycle_AdoptsExistingDocument(t *testing.T) {
	ctx := context.Background()
	extractor := &stubExtractor{text: "unused"}
	env := newTestEnv(t, extractor, &stubSummarizer{summary: "unused"}, Config{})

	// An API upload created the row, but without waiting for discovery:
	// the row has no fingerprint yet.
	result, err := env.store.Upload(ctx, "uploaded.pdf", []byte("pdf content"), "application/pdf", nil)
	require.NoError(t, err)
	doc := &storage.Document{
		Filename:         "uploaded.pdf",
		OriginalFilename: "report.pdf",
		BlobURL:          result.URL,
		ContentType:      "application/pdf",
	}
	require.NoError(t, env.repo.Create(ctx, doc))

	require.NoError(t, env.worker.discoverCycle(ctx))

	// No duplicate row, no processing from the discovery path; the queue
	// loop owns this document.
	docs, err := env.repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, storage.StatusPending, docs[0].Status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&extractor.calls))

	require.NotNil(t, docs[0].Fingerprint)
	assert.Equal(t, result.Fingerprint, *docs[0].Fingerprint)

	ok, err := env.ledger.Contains(ctx, result.Fingerprint)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSeedLedger_RestoresFingerprints(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &stubExtractor{text: "text"}, &stubSummarizer{summary: "summary"}, Config{})
	env.createPendingDocument(t, "seeded.pdf", "pdf content")

	require.NoError(t, env.worker.seedLedger(ctx))

	snapshot, err := env.ledger.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snapshot, 1)

	// A seeded ledger keeps discovery from recreating known documents.
	require.NoError(t, env.worker.discoverCycle(ctx))
	docs, err := env.repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestSeedLedger_BackfillsFromBlobProperties(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &stubExtractor{text: "text"}, &stubSummarizer{summary: "summary"}, Config{})

	result, err := env.store.Upload(ctx, "old.pdf", []byte("old content"), "application/pdf", nil)
	require.NoError(t, err)
	doc := &storage.Document{
		Filename:         "old.pdf",
		OriginalFilename: "old.pdf",
		BlobURL:          result.URL,
		ContentType:      "application/pdf",
	}
	require.NoError(t, env.repo.Create(ctx, doc))

	require.NoError(t, env.worker.seedLedger(ctx))

	ok, err := env.ledger.Contains(ctx, result.Fingerprint)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := env.repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Fingerprint)
	assert.Equal(t, result.Fingerprint, *got.Fingerprint)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	env := newTestEnv(t, &stubExtractor{text: "text"}, &stubSummarizer{summary: "summary"}, Config{
		PollInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- env.worker.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}
