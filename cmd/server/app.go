package main

import (
	"context"
	"fmt"
	"log/slog"

	"securevault/internal/server/config"
	"securevault/internal/server/database"
	"securevault/internal/server/policy"
	"securevault/internal/server/service"
	"securevault/internal/server/settings"
	"securevault/internal/server/storage"
)

// app holds the wired dependencies shared by all commands.
type app struct {
	cfg   *config.Config
	store database.Store
	blobs storage.Store
	svc   *service.Service
	close func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		closeStore()
		return nil, err
	}

	sp := settings.NewProvider(store, cfg.SettingsCacheSize, cfg.SettingsCacheTTL)
	svc := service.NewService(store, blobs, sp, service.Options{
		MaxFileSize:       cfg.MaxFileSize,
		ArchiveExtensions: cfg.ArchiveExtensions,
		ArchiveLimits: policy.Limits{
			MaxEntries:      cfg.ArchiveMaxEntries,
			MaxUncompressed: cfg.ArchiveMaxUncompressed,
		},
	})

	return &app{cfg: cfg, store: store, blobs: blobs, svc: svc, close: closeStore}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (database.Store, func(), error) {
	switch cfg.MetadataBackend {
	case "memory":
		slog.Warn("using in-memory metadata store; data is lost on exit")
		return database.NewMemory(), func() {}, nil
	default:
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return database.NewPgStore(db.Pool), db.Close, nil
	}
}

func openBlobs(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	var blobs storage.Store
	switch cfg.StorageBackend {
	case "s3":
		client, err := storage.NewS3Client(ctx, storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.S3Prefix,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		blobs = storage.NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix)
	case "memory":
		blobs = storage.NewMemoryStore()
	default:
		blobs = storage.NewFileSystemStore(cfg.StoragePath)
	}

	if err := blobs.EnsureReady(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.StorageBackend, err)
	}
	slog.Info("file storage initialized", "backend", cfg.StorageBackend)
	return blobs, nil
}

// migrate applies the schema migrations when the metadata store is Postgres.
func migrate(cfg *config.Config) error {
	if cfg.MetadataBackend != "postgres" {
		slog.Info("metadata backend needs no migrations", "backend", cfg.MetadataBackend)
		return nil
	}
	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("database migrations complete")
	return nil
}
