// Package postgres opens the node database through the pgx stdlib driver and
// owns its schema.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"accord/internal/platform/config"
)

const driverName = "pgx"

// Open connects to cfg.URL and verifies the connection.
// Returns nil if the URL is empty (Postgres not configured).
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	db, err := sql.Open(driverName, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return db, nil
}

// schema is idempotent and applied at start-up.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS precedent_bundles (
		bundle_id            TEXT PRIMARY KEY,
		source_node          TEXT NOT NULL,
		k_value              INTEGER NOT NULL,
		precedent_count      INTEGER NOT NULL,
		created_at           TIMESTAMPTZ NOT NULL,
		verdict_distribution JSONB NOT NULL,
		avg_confidence       DOUBLE PRECISION NOT NULL,
		confidence_min       DOUBLE PRECISION NOT NULL,
		confidence_max       DOUBLE PRECISION NOT NULL,
		common_themes        TEXT[] NOT NULL DEFAULT '{}',
		context_patterns     JSONB NOT NULL,
		time_period          TEXT NOT NULL,
		privacy_guarantee    TEXT NOT NULL,
		suppressed_fields    TEXT[] NOT NULL DEFAULT '{}',
		consent_given        BOOLEAN NOT NULL,
		cluster_kind         TEXT NOT NULL,
		merged               BOOLEAN NOT NULL DEFAULT FALSE,
		merged_at            TIMESTAMPTZ,
		stored_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_precedent_bundles_source ON precedent_bundles (source_node)`,
	`CREATE TABLE IF NOT EXISTS audit_outbox (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_outbox_unprocessed ON audit_outbox (created_at) WHERE processed_at IS NULL`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
