package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docstream/docstream/internal/api"
	"github.com/docstream/docstream/internal/storage"
	"github.com/docstream/docstream/internal/summarizer"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the HTTP API server",
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := newBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create blob store: %w", err)
	}

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
	handler := api.NewDocumentHandler(logger, repo, store, summarizerClient, cfg.Server.MaxUploadBytes)
	router := api.NewRouter(handler, api.RouterConfig{
		RequestTimeout: cfg.Server.WriteTimeout,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
	return nil
}
