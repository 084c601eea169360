// Package postgres provides the PostgreSQL-backed implementation of the
// history store: session logs with append-only messages, user accounts, and
// TTL-based soft deletion.
//
// All operations share a single [pgxpool.Pool]. [Migrate] creates the schema
// idempotently via CREATE TABLE IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.SaveSessionLog(ctx, log)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id            BIGSERIAL    PRIMARY KEY,
    email         TEXT         NOT NULL UNIQUE,
    password_hash TEXT         NOT NULL,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlSessions = `
CREATE TABLE IF NOT EXISTS conversation_sessions (
    session_id               TEXT         PRIMARY KEY,
    user_id                  BIGINT       REFERENCES users (id),
    title                    TEXT         NOT NULL DEFAULT '',
    started_at               TIMESTAMPTZ  NOT NULL,
    ended_at                 TIMESTAMPTZ  NOT NULL,
    total_duration_sec       DOUBLE PRECISION NOT NULL DEFAULT 0,
    user_speech_duration_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
    scenario_place           TEXT         NOT NULL DEFAULT '',
    scenario_partner         TEXT         NOT NULL DEFAULT '',
    scenario_goal            TEXT         NOT NULL DEFAULT '',
    scenario_state           TEXT         NOT NULL DEFAULT '',
    scenario_completed_at    TIMESTAMPTZ,
    deleted                  BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at               TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_ended
    ON conversation_sessions (user_id, ended_at DESC);

CREATE INDEX IF NOT EXISTS idx_sessions_created
    ON conversation_sessions (created_at)
    WHERE NOT deleted;
`

const ddlMessages = `
CREATE TABLE IF NOT EXISTS chat_messages (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL REFERENCES conversation_sessions (session_id),
    role         TEXT         NOT NULL,
    content      TEXT         NOT NULL,
    timestamp    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_sec DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_session
    ON chat_messages (session_id, id);
`

// Migrate creates all required tables and indexes. It is idempotent and safe
// to run at every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlUsers, ddlSessions, ddlMessages} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("history store: migrate: %w", err)
		}
	}
	return nil
}
