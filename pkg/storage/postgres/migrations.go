package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/docmeter/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the docmeter schema in application order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users and sessions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					email VARCHAR(255) UNIQUE,
					username VARCHAR(255) NOT NULL UNIQUE,
					is_admin BOOLEAN NOT NULL DEFAULT FALSE,
					credits INTEGER NOT NULL DEFAULT 3 CHECK (credits >= 0),
					subscription_status VARCHAR(32)
						CHECK (subscription_status IN ('active', 'past_due', 'cancel_at_period_end', 'deleted')),
					subscription_plan VARCHAR(64),
					payment_processor_user_id VARCHAR(255) UNIQUE,
					date_paid TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_users_subscription_status ON users(subscription_status);

				CREATE TABLE IF NOT EXISTS sessions (
					id VARCHAR(255) PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					expires_at TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
			`,
		},
		{
			Version:     2,
			Description: "Create daily stats tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS daily_stats (
					id BIGSERIAL PRIMARY KEY,
					date TIMESTAMPTZ NOT NULL UNIQUE,
					total_views INTEGER NOT NULL DEFAULT 0,
					prev_day_views_change_percent VARCHAR(32) NOT NULL DEFAULT '0',
					user_count INTEGER NOT NULL DEFAULT 0,
					paid_user_count INTEGER NOT NULL DEFAULT 0,
					user_delta INTEGER NOT NULL DEFAULT 0,
					paid_user_delta INTEGER NOT NULL DEFAULT 0,
					total_revenue DOUBLE PRECISION NOT NULL DEFAULT 0,
					total_profit DOUBLE PRECISION NOT NULL DEFAULT 0
				);

				CREATE TABLE IF NOT EXISTS page_view_sources (
					date TIMESTAMPTZ NOT NULL,
					name VARCHAR(255) NOT NULL,
					visitors INTEGER NOT NULL DEFAULT 0,
					daily_stats_id BIGINT REFERENCES daily_stats(id) ON DELETE CASCADE,
					PRIMARY KEY (date, name)
				);

				CREATE TABLE IF NOT EXISTS revenue_cursors (
					source VARCHAR(64) PRIMARY KEY,
					window_end TIMESTAMPTZ NOT NULL,
					total_cents BIGINT NOT NULL DEFAULT 0,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     3,
			Description: "Create logs and files tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS logs (
					id BIGSERIAL PRIMARY KEY,
					message TEXT NOT NULL,
					level VARCHAR(64) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_logs_created_at ON logs(created_at);

				CREATE TABLE IF NOT EXISTS files (
					id UUID PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					name VARCHAR(1024) NOT NULL,
					type VARCHAR(255) NOT NULL,
					key VARCHAR(2048) NOT NULL UNIQUE,
					upload_url TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_files_user_id ON files(user_id, created_at DESC);
			`,
		},
		{
			Version:     4,
			Description: "Create webhook dedup and job queue tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS processed_webhook_events (
					event_id VARCHAR(255) PRIMARY KEY,
					event_type VARCHAR(255) NOT NULL,
					processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS jobs (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					singleton_key VARCHAR(255) NOT NULL,
					state VARCHAR(32) NOT NULL DEFAULT 'created'
						CHECK (state IN ('created', 'active', 'completed', 'failed')),
					data JSONB NOT NULL DEFAULT '{}',
					start_after TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					started_at TIMESTAMPTZ,
					completed_at TIMESTAMPTZ,
					error TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (name, singleton_key)
				);

				CREATE INDEX IF NOT EXISTS idx_jobs_fetch ON jobs(state, start_after);
				CREATE INDEX IF NOT EXISTS idx_jobs_name_state ON jobs(name, state);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_active ON jobs(name) WHERE state = 'active';
			`,
		},
		{
			Version:     5,
			Description: "Track webhook event claims as processing or done",
			SQL: `
				ALTER TABLE processed_webhook_events
					ADD COLUMN IF NOT EXISTS state VARCHAR(16) NOT NULL DEFAULT 'done'
						CHECK (state IN ('processing', 'done')),
					ADD COLUMN IF NOT EXISTS claimed_at TIMESTAMPTZ NOT NULL DEFAULT NOW();

				CREATE INDEX IF NOT EXISTS idx_processed_webhook_events_processing
					ON processed_webhook_events(claimed_at) WHERE state = 'processing';
			`,
		},
	}
}

// RunMigrations applies all pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
