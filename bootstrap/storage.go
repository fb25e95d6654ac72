package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"gatekeeper/config"
	"gatekeeper/ingest"
	"gatekeeper/storage"

	"go.uber.org/zap"
)

// StorageComponents holds the optional backing stores
type StorageComponents struct {
	SQLite *storage.SQLite
	Runs   *storage.SQLiteTestResultStorage
	Dedup  *storage.AlertDeduplicator
}

// Close releases every open store
func (s *StorageComponents) Close(sugar *zap.SugaredLogger) {
	if s.Dedup != nil {
		if err := s.Dedup.Close(); err != nil {
			sugar.Errorw("Failed to close Redis client", "error", err)
		}
	}
	if s.SQLite != nil {
		if err := s.SQLite.Close(); err != nil {
			sugar.Errorw("Failed to close SQLite", "error", err)
		}
	}
}

// printFatal writes a framed startup failure to stderr
func printFatal(title, detail string) {
	fmt.Fprintf(os.Stderr, "\n========================================\n")
	fmt.Fprintf(os.Stderr, "FATAL: %s\n", title)
	fmt.Fprintf(os.Stderr, "========================================\n")
	fmt.Fprintf(os.Stderr, "%s\n", detail)
	fmt.Fprintf(os.Stderr, "========================================\n\n")
}

// InitSQLite opens test run storage. Returns nil components when disabled.
func InitSQLite(cfg *config.Config, sugar *zap.SugaredLogger) (*storage.SQLite, *storage.SQLiteTestResultStorage, error) {
	if !cfg.Storage.SQLite.Enabled {
		sugar.Info("SQLite test run storage disabled by configuration")
		return nil, nil, nil
	}

	path := cfg.Storage.SQLite.Path
	sqlite, err := storage.NewSQLite(path, sugar)
	if err != nil {
		printFatal("SQLite Initialization Failed", ClassifySQLiteError(err, path))
		return nil, nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	sugar.Infow("SQLite initialized successfully", "path", path)
	return sqlite, storage.NewSQLiteTestResultStorage(sqlite, sugar), nil
}

// InitDeduplicator connects the Redis alert deduplicator. Returns nil when disabled.
func InitDeduplicator(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*storage.AlertDeduplicator, error) {
	if !cfg.Redis.Enabled {
		sugar.Info("Redis alert deduplication disabled by configuration")
		return nil, nil
	}

	client := storage.NewRedisClient(storage.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	dedup := storage.NewAlertDeduplicator(client, cfg.Redis.KeyPrefix, sugar)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dedup.Ping(pingCtx); err != nil {
		_ = dedup.Close()
		printFatal("Redis Connection Failed", ClassifyRedisError(err, cfg.Redis.Addr))
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	sugar.Infow("Redis alert deduplicator connected", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
	return dedup, nil
}

// InitStorage initializes every enabled store, closing what was opened on failure
func InitStorage(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	components := &StorageComponents{}

	sqlite, runs, err := InitSQLite(cfg, sugar)
	if err != nil {
		return nil, err
	}
	components.SQLite = sqlite
	components.Runs = runs

	dedup, err := InitDeduplicator(ctx, cfg, sugar)
	if err != nil {
		components.Close(sugar)
		return nil, err
	}
	components.Dedup = dedup

	return components, nil
}

// InitResolver builds the execution result resolver. The S3 client is created lazily by
// the SDK, so a failure here only disables S3 mode; INLINE and NONE keep working.
func InitResolver(cfg *config.Config, sugar *zap.SugaredLogger) *ingest.S3Resolver {
	client, err := ingest.NewS3Client(ingest.S3Config{
		Region:   cfg.Ingest.S3.Region,
		Endpoint: cfg.Ingest.S3.Endpoint,
	})
	if err != nil {
		sugar.Warnw("Failed to create S3 client, S3 execution results will be rejected", "error", err)
		client = nil
	}
	return ingest.NewS3Resolver(client, cfg.Ingest.MaxPayloadBytes, sugar)
}
