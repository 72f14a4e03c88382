package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a versioned schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the schema for every collection the engine owns. The
// statements are portable across PostgreSQL and SQLite.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					subject_id VARCHAR(255) PRIMARY KEY,
					plan_type VARCHAR(32) NOT NULL,
					status VARCHAR(32) NOT NULL,
					current_period_start TIMESTAMP NULL,
					current_period_end TIMESTAMP NULL,
					cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
					never_expires BOOLEAN NOT NULL DEFAULT FALSE,
					is_lifetime BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     2,
			Description: "Create special_access table",
			SQL: `
				CREATE TABLE IF NOT EXISTS special_access (
					id VARCHAR(36) PRIMARY KEY,
					subject_id VARCHAR(255) NOT NULL,
					organization_id VARCHAR(255) NOT NULL,
					access_type VARCHAR(32) NOT NULL,
					limits TEXT NOT NULL DEFAULT '{}',
					granted_by VARCHAR(255) NOT NULL,
					granted_at TIMESTAMP NOT NULL,
					expires_at TIMESTAMP NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					reason TEXT NOT NULL DEFAULT ''
				);

				CREATE INDEX IF NOT EXISTS idx_special_access_pair ON special_access(subject_id, organization_id);
				CREATE INDEX IF NOT EXISTS idx_special_access_active ON special_access(is_active);
			`,
		},
		{
			Version:     3,
			Description: "Create usage_counters table",
			SQL: `
				CREATE TABLE IF NOT EXISTS usage_counters (
					subject_id VARCHAR(255) NOT NULL,
					period_key VARCHAR(7) NOT NULL,
					capability VARCHAR(32) NOT NULL,
					used_count BIGINT NOT NULL DEFAULT 0,
					updated_at TIMESTAMP NOT NULL,
					PRIMARY KEY (subject_id, period_key, capability)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create subject_profiles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subject_profiles (
					subject_id VARCHAR(255) PRIMARY KEY,
					has_custom_limits BOOLEAN NOT NULL DEFAULT FALSE,
					custom_limits TEXT NOT NULL DEFAULT '{}',
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     5,
			Description: "Create organizations and organization_admins tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id VARCHAR(255) PRIMARY KEY,
					name VARCHAR(255) NOT NULL DEFAULT '',
					created_by VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				);

				CREATE TABLE IF NOT EXISTS organization_admins (
					organization_id VARCHAR(255) NOT NULL REFERENCES organizations(id),
					subject_id VARCHAR(255) NOT NULL,
					role VARCHAR(32) NULL,
					added_at TIMESTAMP NOT NULL,
					PRIMARY KEY (organization_id, subject_id)
				);
			`,
		},
		{
			Version:     6,
			Description: "Allow one active special_access row per pair",
			SQL: `
				CREATE UNIQUE INDEX IF NOT EXISTS idx_special_access_one_active
				ON special_access(subject_id, organization_id) WHERE is_active;
			`,
		},
	}
}

// Migrate applies every pending migration, each in its own transaction
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return Classify(fmt.Errorf("failed to create schema_migrations: %w", err))
	}

	for _, m := range Migrations() {
		if err := applyMigration(ctx, db, dialect, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, dialect Dialect, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Classify(fmt.Errorf("failed to begin migration %d: %w", m.Version, err))
	}
	defer tx.Rollback()

	var applied int
	err = tx.QueryRowContext(ctx,
		dialect.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`), m.Version).Scan(&applied)
	if err != nil {
		return Classify(fmt.Errorf("failed to check migration %d: %w", m.Version, err))
	}
	if applied > 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Description, err)
	}
	_, err = tx.ExecContext(ctx,
		dialect.Rebind(`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`),
		m.Version, m.Description, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}
	return tx.Commit()
}
