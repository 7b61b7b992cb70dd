// Package app wires the shared process bootstrap: database, migrations,
// config and first-run seeding.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agentops/internal/config"
	"agentops/internal/db"
	"agentops/internal/migrate"
	"agentops/internal/repo"
)

// Open prepares a workspace: opens the database, applies migrations, loads
// the optional YAML config and seeds default policies. The caller owns the
// returned connection.
func Open(ctx context.Context, workspace string) (*sql.DB, *config.Config, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := SeedDefaultPolicies(ctx, repo.Repo{DB: conn}); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("seed policies: %w", err)
	}
	return conn, cfg, nil
}

// defaultPolicies are the gate and approval policies a fresh workspace
// starts with. Gates default to disabled or generous limits; operators
// tighten them per deployment.
var defaultPolicies = map[string]map[string]any{
	"auto_approve":   {"enabled": false, "allowed_step_kinds": []any{}},
	"x_daily_quota":  {"limit": 8},
	"content_policy": {"enabled": false, "max_drafts_per_day": 8},
	"crawl_policy":   {"enabled": false, "max_crawls_per_day": 20},
}

// SeedDefaultPolicies inserts any default policy that does not exist yet.
// Existing policies are never touched, so operator changes survive
// restarts.
func SeedDefaultPolicies(ctx context.Context, r repo.Repo) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for key, value := range defaultPolicies {
		_, err := r.GetPolicy(ctx, key)
		if err == nil {
			continue
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if _, err := r.UpsertPolicy(ctx, key, value, now); err != nil {
			return err
		}
	}
	return nil
}
