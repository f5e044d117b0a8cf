package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"formvault/api/internal/archive"
	"formvault/api/internal/config"
	"formvault/api/internal/docstore"
	"formvault/api/internal/github"
	"formvault/api/internal/gitrepo"
	"formvault/api/internal/store"
)

// Backend is the document host selected by STORE_BACKEND together with
// whatever has to be released on shutdown.
type Backend struct {
	Host    docstore.Host
	closers []func() error
}

func (b *Backend) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenBackend connects the configured document host. The postgres backend
// applies pending migrations before it is used.
func OpenBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.StoreBackend {
	case config.BackendGitHub:
		client, err := github.NewClient(github.Config{
			BaseURL: cfg.GitHubAPIURL,
			Token:   cfg.GitHubToken,
			Owner:   cfg.GitHubOwner,
			Repo:    cfg.GitHubRepo,
			Branch:  cfg.GitHubBranch,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("github backend: %w", err)
		}
		return &Backend{Host: client}, nil

	case config.BackendGit:
		if err := os.MkdirAll(cfg.GitRepoDir, 0o755); err != nil {
			return nil, fmt.Errorf("create repo dir: %w", err)
		}
		repo, err := gitrepo.Open(cfg.GitRepoDir, gitrepo.Options{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("git backend: %w", err)
		}
		return &Backend{Host: repo}, nil

	case config.BackendPostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		return &Backend{
			Host:    store.NewDocumentStore(db, "formvault", logger),
			closers: []func() error{db.Close},
		}, nil

	case config.BackendMemory:
		logger.Warn("using the in-memory document host; data is lost on exit")
		return &Backend{Host: docstore.NewMemoryHost()}, nil
	}
	return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}

// OpenObjectStore connects the S3 bucket used for snapshots and creates it
// when missing.
func OpenObjectStore(ctx context.Context, cfg config.Config) (*archive.MinioStore, error) {
	objects, err := archive.NewMinioStore(archive.MinioConfig{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
		PathStyle: cfg.S3PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	return objects, nil
}
