package sink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT        PRIMARY KEY,
    tenant_id  TEXT         NOT NULL DEFAULT '',
    user_id    TEXT         NOT NULL DEFAULT '',
    state      TEXT         NOT NULL,
    config     JSONB        NOT NULL DEFAULT '{}',
    metrics    JSONB        NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at   TIMESTAMPTZ
);
`

const ddlTurns = `
CREATE TABLE IF NOT EXISTS turns (
    turn_id           TEXT        PRIMARY KEY,
    session_id        TEXT        NOT NULL REFERENCES sessions (session_id) ON DELETE CASCADE,
    user_text         TEXT        NOT NULL DEFAULT '',
    assistant_text    TEXT        NOT NULL DEFAULT '',
    citations         JSONB       NOT NULL DEFAULT '[]',
    audio_duration_ms BIGINT      NOT NULL DEFAULT 0,
    latency_ms        BIGINT      NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_turns_session_id ON turns (session_id);
`

const ddlTransitions = `
CREATE TABLE IF NOT EXISTS transitions (
    serial     BIGSERIAL   PRIMARY KEY,
    session_id TEXT        NOT NULL REFERENCES sessions (session_id) ON DELETE CASCADE,
    from_state TEXT        NOT NULL,
    to_state   TEXT        NOT NULL,
    event      TEXT        NOT NULL,
    metadata   JSONB       NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transitions_session_id ON transitions (session_id);
`

// Migrate creates the sessions, turns, and transitions tables if they do
// not already exist. It is idempotent and safe to call on every process
// start, matching the corpus's migrate-on-boot convention.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessions, ddlTurns, ddlTransitions} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("sink migrate: %w", err)
		}
	}
	return nil
}
