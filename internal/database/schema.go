package database

import (
	"context"
	"fmt"
	"strings"
)

const createSchema = `
CREATE TABLE IF NOT EXISTS insights (
    id                text PRIMARY KEY,
    filename          text NOT NULL,
    file_path         text NOT NULL,
    processing_status text NOT NULL DEFAULT 'pending',
    transcription     text,
    topic             text,
    sentiment         text,
    language          text,
    action_items      text,
    summary           text NOT NULL DEFAULT '',
    confidence_score  double precision,
    created_at        timestamptz NOT NULL DEFAULT now(),
    updated_at        timestamptz
);

CREATE INDEX IF NOT EXISTS idx_insights_status ON insights (processing_status);
CREATE INDEX IF NOT EXISTS idx_insights_created_at ON insights (created_at DESC);
`

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply after the
// base schema. Each must be idempotent (IF NOT EXISTS, IF EXISTS, etc.).
var migrations = []migration{
	{
		name:  "constrain confidence_score range",
		sql:   `ALTER TABLE insights ADD CONSTRAINT chk_insights_confidence CHECK (confidence_score IS NULL OR (confidence_score >= 0.0 AND confidence_score <= 1.0))`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_insights_confidence')`,
	},
	{
		name:  "constrain processing_status values",
		sql:   `ALTER TABLE insights ADD CONSTRAINT chk_insights_status CHECK (processing_status IN ('pending', 'processing', 'completed', 'failed'))`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_insights_status')`,
	},
}

// EnsureSchema creates the insights table and applies pending migrations.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, createSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return nil
	}

	applied := 0
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{failed: m, pending: pending[applied:], err: err}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	db.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database superuser to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart insight-engine.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
