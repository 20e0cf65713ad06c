package main

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/castboard/internal/config"
	"github.com/alfredjeanlab/castboard/internal/mediastore"
	"github.com/alfredjeanlab/castboard/internal/store/postgres"
)

// openStore loads the configuration and connects to Postgres, running any
// pending migrations.
func openStore() (*config.Config, *postgres.PostgresStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	store, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

// openObjects connects to the configured bucket. It fails when no bucket is
// configured.
func openObjects(ctx context.Context, cfg *config.Config) (*mediastore.S3Store, error) {
	if !cfg.S3Enabled() {
		return nil, fmt.Errorf("CASTBOARD_S3_BUCKET is not set")
	}
	return mediastore.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint)
}
