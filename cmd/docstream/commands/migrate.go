package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docstream/docstream/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()

	db, err := storage.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := storage.Migrate(ctx, db, cfg.Database.Driver); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	logger.Info().Str("driver", cfg.Database.Driver).Msg("Migrations applied")
	return nil
}
