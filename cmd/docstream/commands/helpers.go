package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/docstream/docstream/internal/blobstore"
	"github.com/docstream/docstream/internal/config"
	"github.com/docstream/docstream/internal/dedup"
	"github.com/docstream/docstream/internal/observability"
	"github.com/docstream/docstream/internal/storage"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
}

// openDatabase opens the configured database and applies pending
// migrations. Migrations are idempotent, so every process can run them at
// startup.
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := storage.Migrate(ctx, db, cfg.Database.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.Storage.Driver {
	case "gcs":
		return blobstore.NewGCSStore(ctx, cfg.Storage.GCS.Bucket)
	case "filesystem":
		return blobstore.NewFilesystemStore(cfg.Storage.Filesystem.Root)
	case "memory":
		return blobstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}

func newLedger(cfg *config.Config) (dedup.Ledger, error) {
	switch cfg.Ledger.Driver {
	case "redis":
		return dedup.NewRedisLedger(dedup.RedisConfig{
			Addr:     cfg.Ledger.Redis.Addr,
			Password: cfg.Ledger.Redis.Password,
			DB:       cfg.Ledger.Redis.DB,
			PoolSize: cfg.Ledger.Redis.PoolSize,
			Prefix:   cfg.Ledger.Redis.Prefix,
		})
	case "memory":
		return dedup.NewMemoryLedger(), nil
	default:
		return nil, fmt.Errorf("unknown ledger driver: %s", cfg.Ledger.Driver)
	}
}
