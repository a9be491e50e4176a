package storage

import (
	"context"
	"fmt"
)

var accountSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT NOT NULL,
		display_name TEXT NOT NULL,
		avatar_url TEXT NOT NULL DEFAULT '',
		cover_url TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS accounts_username_key ON accounts (username)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS accounts_email_key ON accounts (email)`,
}

func (r *postgresRepository) ensureSchema(ctx context.Context) error {
	for _, stmt := range accountSchema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply account schema: %w", err)
		}
	}
	return nil
}
