// Package worker implements the background document processing engine.
//
// Two polling loops run until the context is cancelled: the queue loop
// drives pending database rows through the pipeline, and the discovery
// loop finds PDF blobs in the object store that no row accounts for yet.
// Failures are contained at the single document or single cycle; neither
// loop ever exits because of a bad document.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docstream/docstream/internal/blobstore"
	"github.com/docstream/docstream/internal/dedup"
	"github.com/docstream/docstream/internal/observability"
	"github.com/docstream/docstream/internal/storage"
)

// Extractor converts document bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, document []byte) (string, error)
}

// Summarizer produces a summary for extracted text.
type Summarizer interface {
	Summarize(ctx context.Context, text, customPrompt string) (string, error)
}

// Config holds worker settings.
type Config struct {
	PollInterval time.Duration
	// MaxAttempts bounds processing attempts per document. At 1 the first
	// failure is terminal (status error); above 1, failed documents are
	// requeued with exponential backoff until the budget is spent, then
	// parked in dead_letter.
	MaxAttempts  int
	RetryBackoff time.Duration
	TempDir      string
}

// Worker owns the two polling loops and the fingerprint ledger.
type Worker struct {
	logger     *observability.Logger
	repo       *storage.DocumentRepository
	store      blobstore.Store
	extractor  Extractor
	summarizer Summarizer
	ledger     dedup.Ledger
	cfg        Config
}

// New creates a worker. Zero config fields fall back to defaults.
func New(
	logger *observability.Logger,
	repo *storage.DocumentRepository,
	store blobstore.Store,
	extractor Extractor,
	summarizer Summarizer,
	ledger dedup.Ledger,
	cfg Config,
) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Minute
	}

	return &Worker{
		logger:     logger.WithComponent("worker"),
		repo:       repo,
		store:      store,
		extractor:  extractor,
		summarizer: summarizer,
		ledger:     ledger,
		cfg:        cfg,
	}
}

// Run seeds the ledger and runs both polling loops until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Dur("poll_interval", w.cfg.PollInterval).Int("max_attempts", w.cfg.MaxAttempts).Msg("Worker starting")

	if err := w.seedLedger(ctx); err != nil {
		// Seeding failure is not fatal: dedup degrades to the persisted
		// fingerprint constraint until the next restart.
		w.logger.Error().Err(err).Msg("Failed to seed fingerprint ledger")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.pollQueue(ctx) })
	g.Go(func() error { return w.pollStore(ctx) })
	return g.Wait()
}

// seedLedger rebuilds the dedup ledger from existing documents. Persisted
// fingerprints are used directly; rows predating the fingerprint column
// fall back to a blob-property lookup, and lookup failures are skipped.
func (w *Worker) seedLedger(ctx context.Context) error {
	docs, err := w.repo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	seeded := 0
	for _, doc := range docs {
		fingerprint := ""
		if doc.Fingerprint != nil {
			fingerprint = *doc.Fingerprint
		} else {
			props, err := w.store.Properties(ctx, doc.Filename)
			if err != nil {
				w.logger.Debug().Str("filename", doc.Filename).Err(err).Msg("Skipping ledger seed: properties unavailable")
				continue
			}
			fingerprint = props.Fingerprint
			if fingerprint != "" {
				// Backfill so the next restart needs no remote call.
				if _, err := w.repo.SetFingerprint(ctx, doc.ID, fingerprint); err != nil && !errors.Is(err, storage.ErrConflict) {
					w.logger.Warn().Str("document_id", doc.ID.String()).Err(err).Msg("Failed to backfill fingerprint")
				}
			}
		}

		if fingerprint == "" {
			continue
		}
		if err := w.ledger.Add(ctx, fingerprint); err != nil {
			return fmt.Errorf("seed ledger: %w", err)
		}
		seeded++
	}

	w.logger.Info().Int("fingerprints", seeded).Msg("Fingerprint ledger seeded")
	return nil
}

// pollQueue is the relational queue loop: every interval it processes all
// due pending documents sequentially.
func (w *Worker) pollQueue(ctx context.Context) error {
	for {
		if err := w.processPendingCycle(ctx); err != nil {
			w.logger.Error().Err(err).Msg("Queue poll cycle failed")
		}
		if err := sleep(ctx, w.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (w *Worker) processPendingCycle(ctx context.Context) error {
	docs, err := w.repo.ListPending(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("list pending documents: %w", err)
	}

	if len(docs) > 0 {
		w.logger.Info().Int("count", len(docs)).Msg("Found pending documents")
	}

	for _, doc := range docs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.processQueued(ctx, doc)
	}
	return nil
}

// processQueued runs one pending document through the pipeline. Errors are
// contained here: they mark the document failed and never propagate.
func (w *Worker) processQueued(ctx context.Context, doc *storage.Document) {
	logger := w.logger.With().Str("document_id", doc.ID.String()).Logger()
	logger.Info().Msg("Processing document")

	if _, err := w.repo.SetStatus(ctx, doc.ID, storage.StatusProcessing); err != nil {
		logger.Error().Err(err).Msg("Failed to mark document processing")
		return
	}

	content, err := w.store.Download(ctx, doc.Filename)
	if err != nil {
		w.failDocument(ctx, doc, fmt.Errorf("download blob: %w", err))
		return
	}

	w.runPipeline(ctx, doc, content)
}

// runPipeline extracts, summarizes, and persists. Returns the pipeline
// error after recording the failure, for callers that care.
func (w *Worker) runPipeline(ctx context.Context, doc *storage.Document, content []byte) error {
	logger := w.logger.With().Str("document_id", doc.ID.String()).Logger()

	text, err := w.extractor.Extract(ctx, content)
	if err != nil {
		err = fmt.Errorf("extract text: %w", err)
		w.failDocument(ctx, doc, err)
		return err
	}
	logger.Info().Msg("Text extracted")

	summary, err := w.summarizer.Summarize(ctx, text, "")
	if err != nil {
		err = fmt.Errorf("generate summary: %w", err)
		w.failDocument(ctx, doc, err)
		return err
	}
	logger.Info().Msg("Summary generated")

	if _, err := w.repo.SetExtractedTextAndSummary(ctx, doc.ID, text, summary); err != nil {
		err = fmt.Errorf("persist result: %w", err)
		w.failDocument(ctx, doc, err)
		return err
	}

	logger.Info().Msg("Document processing completed")
	return nil
}

// failDocument applies the retry policy to a failed attempt.
func (w *Worker) failDocument(ctx context.Context, doc *storage.Document, cause error) {
	logger := w.logger.With().Str("document_id", doc.ID.String()).Logger()
	logger.Error().Err(cause).Msg("Document processing failed")

	attempts := doc.Attempts + 1
	if attempts >= w.cfg.MaxAttempts {
		status := storage.StatusError
		if w.cfg.MaxAttempts > 1 {
			status = storage.StatusDeadLetter
		}
		if _, err := w.repo.MarkFailed(ctx, doc.ID, attempts, status, nil); err != nil {
			logger.Error().Err(err).Msg("Failed to record terminal failure")
		}
		return
	}

	delay := w.cfg.RetryBackoff << (attempts - 1)
	retryAt := time.Now().UTC().Add(delay)
	if _, err := w.repo.MarkFailed(ctx, doc.ID, attempts, storage.StatusPending, &retryAt); err != nil {
		logger.Error().Err(err).Msg("Failed to requeue document")
	} else {
		logger.Warn().Int("attempts", attempts).Dur("retry_in", delay).Msg("Document requeued for retry")
	}
}

// pollStore is the discovery loop: every interval it scans the object
// store for PDFs whose fingerprint is not in the ledger.
func (w *Worker) pollStore(ctx context.Context) error {
	for {
		if err := w.discoverCycle(ctx); err != nil {
			w.logger.Error().Err(err).Msg("Discovery poll cycle failed")
		}
		if err := sleep(ctx, w.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (w *Worker) discoverCycle(ctx context.Context) error {
	known, err := w.ledger.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot ledger: %w", err)
	}

	discovered, err := blobstore.FindUnprocessed(ctx, w.store, known, w.logger)
	if err != nil {
		return fmt.Errorf("find unprocessed blobs: %w", err)
	}

	for _, props := range discovered {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.processDiscovered(ctx, props)
	}
	return nil
}

// processDiscovered handles one newly discovered blob. Whatever the
// outcome, the fingerprint ends up in the ledger: a permanently failing
// blob gets exactly one attempt per content version instead of a retry
// storm. Temp staging files are removed on every exit path.
func (w *Worker) processDiscovered(ctx context.Context, props *blobstore.Properties) {
	logger := w.logger.With().Str("key", props.Key).Str("fingerprint", props.Fingerprint).Logger()

	defer func() {
		if err := w.ledger.Add(ctx, props.Fingerprint); err != nil {
			logger.Error().Err(err).Msg("Failed to record fingerprint in ledger")
		}
	}()

	// The storage key is the identity across ingestion paths: a row the
	// API already created for this blob is adopted, not duplicated. The
	// queue loop will process it if it is still pending.
	existing, err := w.repo.GetByFilename(ctx, props.Key)
	if err == nil {
		if existing.Fingerprint == nil || *existing.Fingerprint != props.Fingerprint {
			if _, err := w.repo.SetFingerprint(ctx, existing.ID, props.Fingerprint); err != nil && !errors.Is(err, storage.ErrConflict) {
				logger.Warn().Err(err).Msg("Failed to record fingerprint on existing document")
			}
		}
		logger.Info().Str("document_id", existing.ID.String()).Msg("Blob already tracked; adopted existing document")
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		logger.Error().Err(err).Msg("Failed to look up document for blob")
		return
	}

	content, tempPath, err := w.stageBlob(ctx, props.Key)
	if tempPath != "" {
		defer func() {
			if err := os.Remove(tempPath); err != nil {
				logger.Warn().Str("path", tempPath).Err(err).Msg("Failed to clean up staging file")
			}
		}()
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Staging failed; downloading directly")
		content, err = w.store.Download(ctx, props.Key)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to download discovered blob")
			return
		}
	}

	contentType := props.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	fingerprint := props.Fingerprint
	doc := &storage.Document{
		Filename:         props.Key,
		OriginalFilename: filepath.Base(props.Key),
		BlobURL:          props.URL,
		ContentType:      contentType,
		Fingerprint:      &fingerprint,
	}

	err = w.repo.Create(ctx, doc)
	if errors.Is(err, storage.ErrConflict) {
		// Lost a race with the other ingestion path; the constraint did
		// its job and nothing was double-processed.
		logger.Info().Msg("Document already created concurrently")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create document for blob")
		return
	}
	logger.Info().Str("document_id", doc.ID.String()).Msg("Created document for discovered blob")

	if _, err := w.repo.SetStatus(ctx, doc.ID, storage.StatusProcessing); err != nil {
		logger.Error().Err(err).Msg("Failed to mark document processing")
		return
	}

	w.runPipeline(ctx, doc, content)
}

// stageBlob downloads a blob to a uniquely named temp file and returns its
// content. The caller removes the file.
func (w *Worker) stageBlob(ctx context.Context, key string) ([]byte, string, error) {
	dir := w.cfg.TempDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "docstream")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create staging dir: %w", err)
	}

	content, err := w.store.Download(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("download blob: %w", err)
	}

	path := filepath.Join(dir, uuid.New().String()+"_"+filepath.Base(key))
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return nil, "", fmt.Errorf("write staging file: %w", err)
	}

	w.logger.Debug().Str("key", key).Str("path", path).Msg("Staged blob to temp file")
	return content, path, nil
}

// sleep waits for the poll interval or context cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
