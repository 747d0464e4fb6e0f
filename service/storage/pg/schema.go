package pg

import (
	"context"

	"PPLive/tools/errs"
)

const schema = `
CREATE TABLE IF NOT EXISTS live_session (
	session_id        TEXT PRIMARY KEY,
	host_id           TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	ended_at          TIMESTAMPTZ,
	peak_participants INT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS live_participant (
	session_id   TEXT NOT NULL REFERENCES live_session(session_id),
	user_id      TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	role         TEXT NOT NULL,
	joined_at    TIMESTAMPTZ NOT NULL,
	left_at      TIMESTAMPTZ,
	PRIMARY KEY (session_id, user_id)
);
CREATE TABLE IF NOT EXISTS live_message (
	message_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES live_session(session_id),
	author_id  TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS live_message_session_created ON live_message (session_id, created_at DESC);
CREATE TABLE IF NOT EXISTS live_reaction (
	reaction_id TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES live_session(session_id),
	author_id   TEXT NOT NULL,
	emoji       TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS live_read_marker (
	session_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	message_id TEXT NOT NULL,
	read_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, user_id)
);
`

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return errs.WrapMsg(err, "ensure live schema")
	}
	return nil
}
