package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stitchline/internal/config"
	"stitchline/internal/db"
	"stitchline/internal/engine"
	"stitchline/internal/migrate"
	"stitchline/internal/repo"
)

// Open prepares the workspace: directory, database, schema, site config.
// The returned engine is ready for use; the *sql.DB is the caller's to close.
func Open(ctx context.Context, workspace, siteName string) (engine.Engine, *sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := ResolveSiteConfig(ctx, repo.Repo{DB: conn}, siteName)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	return engine.New(conn, cfg), conn, nil
}

// ResolveSiteConfig loads the site config from the DB, seeding the default
// one on first use so a fresh workspace works without an import step.
func ResolveSiteConfig(ctx context.Context, r repo.Repo, siteName string) (*config.Config, error) {
	cfg, err := r.GetSiteConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if siteName == "" {
		siteName = "stitchline"
	}
	seed := config.Default(siteName)
	if err := r.UpsertSiteConfig(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed site config: %w", err)
	}
	return seed, nil
}
