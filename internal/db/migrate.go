package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate brings the schema up on startup. Every statement is idempotent, so
// restarting the binary against an already-provisioned database is a no-op.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			start_at TIMESTAMPTZ NOT NULL,
			capacity INT NOT NULL CHECK (capacity >= 1),
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS events_city_start_idx ON events (city, start_at)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			holder_id TEXT NOT NULL,
			holder_email TEXT NOT NULL,
			group_size INT NOT NULL CHECK (group_size >= 1),
			group_names JSONB NOT NULL DEFAULT '[]'::jsonb,
			status TEXT NOT NULL DEFAULT 'pending',
			is_paid BOOLEAN NOT NULL DEFAULT FALSE,
			is_attended BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS bookings_event_created_idx ON bookings (event_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS waitlist_entries (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			holder_id TEXT NOT NULL,
			holder_email TEXT NOT NULL,
			position INT NOT NULL CHECK (position >= 1),
			created_at TIMESTAMPTZ NOT NULL
		)`,
		// Deliberately non-unique: renumbering shifts positions with a
		// single range UPDATE whose rows collide transiently, and a plain
		// unique index is checked per row (only a DEFERRABLE constraint
		// would tolerate that). Uniqueness is held by the event row lock
		// every writer takes first.
		`CREATE INDEX IF NOT EXISTS waitlist_event_position_idx ON waitlist_entries (event_id, position)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			available_at TIMESTAMPTZ,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS tasks_pending_fanout_uniq
			ON tasks (kind, subject_id, channel) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS tasks_poll_idx ON tasks (channel, status, available_at)`,
		`CREATE TABLE IF NOT EXISTS mailings (
			id TEXT PRIMARY KEY,
			created_by TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			audience JSONB NOT NULL DEFAULT '{}'::jsonb,
			channels JSONB NOT NULL DEFAULT '[]'::jsonb,
			scheduled_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}
