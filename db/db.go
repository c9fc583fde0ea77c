package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Import postgres driver
)

func Connect(dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database handle: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify the connection with a timeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database within %v: %w (close: %v)", timeout, err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database within %v: %w", timeout, err)
	}

	return db, nil
}

// EnsureSchema creates the tables the chat needs if they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply chat schema: %w", err)
	}
	return nil
}

const schema = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS users (
	id            SERIAL PRIMARY KEY,
	first_name    TEXT NOT NULL,
	last_name     TEXT NOT NULL DEFAULT '',
	nickname      TEXT UNIQUE,
	email         TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'player',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT users_email_key UNIQUE (email)
);

CREATE TABLE IF NOT EXISTS tournaments (
	id           SERIAL PRIMARY KEY,
	name         TEXT NOT NULL,
	organizer_id INTEGER NOT NULL REFERENCES users(id),
	status       TEXT NOT NULL DEFAULT 'soon',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS teams (
	id            SERIAL PRIMARY KEY,
	tournament_id INTEGER NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	captain_id    INTEGER NOT NULL REFERENCES users(id),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	client_ref      TEXT,
	tournament_id   INTEGER NOT NULL,
	team_id         INTEGER,
	sender_id       INTEGER NOT NULL,
	body            TEXT NOT NULL DEFAULT '',
	kind            TEXT NOT NULL DEFAULT 'text',
	attachment      JSONB,
	reactions       JSONB NOT NULL DEFAULT '{}'::jsonb,
	is_edited       BOOLEAN NOT NULL DEFAULT FALSE,
	is_pinned       BOOLEAN NOT NULL DEFAULT FALSE,
	is_announcement BOOLEAN NOT NULL DEFAULT FALSE,
	reply_to_id     UUID,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	edited_at       TIMESTAMPTZ,
	CONSTRAINT chat_messages_tournament_id_fkey FOREIGN KEY (tournament_id) REFERENCES tournaments(id) ON DELETE CASCADE,
	CONSTRAINT chat_messages_team_id_fkey FOREIGN KEY (team_id) REFERENCES teams(id) ON DELETE CASCADE,
	CONSTRAINT chat_messages_sender_id_fkey FOREIGN KEY (sender_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_scope_created
	ON chat_messages (tournament_id, team_id, created_at DESC);
`
