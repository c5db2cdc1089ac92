package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                 TEXT PRIMARY KEY,
		email              TEXT NOT NULL,
		name               TEXT NOT NULL DEFAULT '',
		phone              TEXT NOT NULL DEFAULT '',
		role               TEXT NOT NULL,
		permissions        TEXT[] NOT NULL DEFAULT '{}',
		status             TEXT NOT NULL DEFAULT 'active',
		password_hash      TEXT NOT NULL,
		salt               TEXT NOT NULL,
		two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		two_factor_secret  TEXT NOT NULL DEFAULT '',
		login_attempts     INTEGER NOT NULL DEFAULT 0,
		locked_until       TIMESTAMPTZ,
		last_login_at      TIMESTAMPTZ,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_uniq ON users (email)`,
}

// EnsureSchema creates the users table when it does not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
