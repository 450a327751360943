package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docstream/docstream/internal/extraction"
	"github.com/docstream/docstream/internal/storage"
	"github.com/docstream/docstream/internal/summarizer"
	"github.com/docstream/docstream/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background document processing worker",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := newBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}

	ledger, err := newLedger(cfg)
	if err != nil {
		return fmt.Errorf("create fingerprint ledger: %w", err)
	}
	defer ledger.Close()

	extractor := extraction.NewClient(extraction.Config{
		Endpoint:     cfg.Extraction.Endpoint,
		APIKey:       cfg.Extraction.APIKey,
		Model:        cfg.Extraction.Model,
		APIVersion:   cfg.Extraction.APIVersion,
		PollInterval: cfg.Extraction.PollInterval,
		Timeout:      cfg.Extraction.Timeout,
	})

	summarizerClient := summarizer.NewClient(summarizer.Config{
		Endpoint:   cfg.Summarizer.Endpoint,
		APIKey:     cfg.Summarizer.APIKey,
		Deployment: cfg.Summarizer.Deployment,
		APIVersion: cfg.Summarizer.APIVersion,
		Timeout:    cfg.Summarizer.Timeout,
	})
	if !summarizerClient.Enabled() {
		logger.Warn().Msg("Summarizer credentials not configured; running in mock mode")
	}

	repo := storage.NewDocumentRepository(db)
	w := worker.New(logger, repo, store, extractor, summarizerClient, ledger, worker.Config{
		PollInterval: cfg.Worker.PollInterval,
		MaxAttempts:  cfg.Worker.MaxAttempts,
		RetryBackoff: cfg.Worker.RetryBackoff,
		TempDir:      cfg.Worker.TempDir,
	})

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info().Msg("Worker stopped")
	return nil
}
