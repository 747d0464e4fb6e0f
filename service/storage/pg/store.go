// Package pg is the PostgreSQL implementation of the live session store.
package pg

import (
	"context"
	"errors"
	"time"

	"PPLive/module/live/model"
	"PPLive/module/live/repo"
	"PPLive/tools/errs"
	"PPLive/tools/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db  DBTX
	now func() time.Time
}

var _ repo.Store = (*Store)(nil)

func New(db DBTX) *Store { return &Store{db: db, now: time.Now} }

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.WrapMsg(err, "pgx pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "pgx ping")
	}
	return pool, nil
}

const sessionCols = `session_id, host_id, title, status, created_at, ended_at, peak_participants`

func scanSession(row pgx.Row) (*model.Session, error) {
	var s model.Session
	var status string
	if err := row.Scan(&s.ID, &s.HostID, &s.Title, &status, &s.CreatedAt, &s.EndedAt, &s.PeakParticipants); err != nil {
		return nil, err
	}
	s.Status = model.SessionStatus(status)
	return &s, nil
}

// CreateSession returns the active session with this id if there is one,
// otherwise (re)opens it.
func (s *Store) CreateSession(ctx context.Context, id, hostID, title string) (*model.Session, error) {
	if id == "" {
		return nil, errs.ErrArgs.WrapMsg("empty session id")
	}
	row := s.db.QueryRow(ctx, `
INSERT INTO live_session (`+sessionCols+`)
VALUES ($1, $2, $3, 'active', $4, NULL, 0)
ON CONFLICT (session_id) DO UPDATE
   SET host_id = EXCLUDED.host_id, title = EXCLUDED.title, status = 'active',
       created_at = EXCLUDED.created_at, ended_at = NULL, peak_participants = 0
 WHERE live_session.status = 'ended'
RETURNING `+sessionCols, id, hostID, title, s.now())
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.GetSession(ctx, id)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "create session", "id", id)
	}
	return sess, nil
}

func (s *Store) EndSession(ctx context.Context, id string) error {
	now := s.now()
	tag, err := s.db.Exec(ctx, `
UPDATE live_session SET status = 'ended', ended_at = COALESCE(ended_at, $2)
 WHERE session_id = $1`, id, now)
	if err != nil {
		return errs.WrapMsg(err, "end session", "id", id)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrRecordNotFound.WrapMsg("session", "id", id)
	}
	if _, err := s.db.Exec(ctx, `
UPDATE live_participant SET left_at = $2
 WHERE session_id = $1 AND left_at IS NULL`, id, now); err != nil {
		return errs.WrapMsg(err, "close participants", "id", id)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx, `SELECT `+sessionCols+` FROM live_session WHERE session_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrRecordNotFound.WrapMsg("session", "id", id)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "get session", "id", id)
	}
	return sess, nil
}

const participantCols = `session_id, user_id, display_name, role, joined_at, left_at`

func scanParticipant(row pgx.Row) (*model.Participant, error) {
	var p model.Participant
	var role string
	if err := row.Scan(&p.SessionID, &p.UserID, &p.DisplayName, &role, &p.JoinedAt, &p.LeftAt); err != nil {
		return nil, err
	}
	p.Role = model.Role(role)
	return &p, nil
}

func (s *Store) UpsertParticipant(ctx context.Context, sessionID, userID, displayName string, role model.Role) (*model.Participant, error) {
	p, err := scanParticipant(s.db.QueryRow(ctx, `
INSERT INTO live_participant (`+participantCols+`)
VALUES ($1, $2, $3, $4, $5, NULL)
ON CONFLICT (session_id, user_id) DO UPDATE
   SET display_name = EXCLUDED.display_name, role = EXCLUDED.role,
       joined_at = EXCLUDED.joined_at, left_at = NULL
RETURNING `+participantCols, sessionID, userID, displayName, string(role), s.now()))
	if isForeignKey(err) {
		return nil, errs.ErrRecordNotFound.WrapMsg("session", "id", sessionID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "upsert participant", "session", sessionID, "user", userID)
	}
	return p, nil
}

func (s *Store) MarkParticipantLeft(ctx context.Context, sessionID, userID string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE live_participant SET left_at = COALESCE(left_at, $3)
 WHERE session_id = $1 AND user_id = $2`, sessionID, userID, s.now())
	if err != nil {
		return errs.WrapMsg(err, "mark participant left", "session", sessionID, "user", userID)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrRecordNotFound.WrapMsg("participant", "session", sessionID, "user", userID)
	}
	return nil
}

func (s *Store) ListActiveParticipants(ctx context.Context, sessionID string) ([]*model.Participant, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+participantCols+` FROM live_participant
 WHERE session_id = $1 AND left_at IS NULL
 ORDER BY joined_at`, sessionID)
	if err != nil {
		return nil, errs.WrapMsg(err, "list participants", "session", sessionID)
	}
	defer rows.Close()
	out := make([]*model.Participant, 0, 16)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, errs.WrapMsg(err, "scan participant")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.WrapMsg(err, "list participants", "session", sessionID)
	}
	return out, nil
}

func (s *Store) UpdatePeakParticipants(ctx context.Context, sessionID string, count int) error {
	tag, err := s.db.Exec(ctx, `
UPDATE live_session SET peak_participants = GREATEST(peak_participants, $2)
 WHERE session_id = $1`, sessionID, count)
	if err != nil {
		return errs.WrapMsg(err, "update peak", "session", sessionID)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrRecordNotFound.WrapMsg("session", "id", sessionID)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, sessionID, authorID, content string) (*model.Message, error) {
	m := &model.Message{
		ID:        ids.GenerateString(),
		SessionID: sessionID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: s.now(),
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO live_message (message_id, session_id, author_id, content, created_at)
VALUES ($1, $2, $3, $4, $5)`, m.ID, m.SessionID, m.AuthorID, m.Content, m.CreatedAt)
	if isForeignKey(err) {
		return nil, errs.ErrRecordNotFound.WrapMsg("session", "id", sessionID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "append message", "session", sessionID)
	}
	return m, nil
}

func (s *Store) AppendReaction(ctx context.Context, sessionID, authorID, emoji string) (*model.Reaction, error) {
	r := &model.Reaction{
		ID:        ids.GenerateString(),
		SessionID: sessionID,
		AuthorID:  authorID,
		Emoji:     emoji,
		CreatedAt: s.now(),
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO live_reaction (reaction_id, session_id, author_id, emoji, created_at)
VALUES ($1, $2, $3, $4, $5)`, r.ID, r.SessionID, r.AuthorID, r.Emoji, r.CreatedAt)
	if isForeignKey(err) {
		return nil, errs.ErrRecordNotFound.WrapMsg("session", "id", sessionID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "append reaction", "session", sessionID)
	}
	return r, nil
}

// ListRecentMessages returns the newest limit live messages, oldest first.
func (s *Store) ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]*model.Message, error) {
	limit = repo.ClampLimit(limit)
	rows, err := s.db.Query(ctx, `
SELECT message_id, session_id, author_id, content, created_at, deleted_at FROM (
	SELECT * FROM live_message
	 WHERE session_id = $1 AND deleted_at IS NULL
	 ORDER BY created_at DESC, message_id DESC
	 LIMIT $2
) recent ORDER BY created_at, message_id`, sessionID, limit)
	if err != nil {
		return nil, errs.WrapMsg(err, "list messages", "session", sessionID)
	}
	defer rows.Close()
	out := make([]*model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.AuthorID, &m.Content, &m.CreatedAt, &m.DeletedAt); err != nil {
			return nil, errs.WrapMsg(err, "scan message")
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.WrapMsg(err, "list messages", "session", sessionID)
	}
	return out, nil
}

func (s *Store) DeleteMessage(ctx context.Context, sessionID, messageID, userID string) error {
	var author string
	err := s.db.QueryRow(ctx, `
SELECT author_id FROM live_message WHERE session_id = $1 AND message_id = $2`, sessionID, messageID).Scan(&author)
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrRecordNotFound.WrapMsg("message", "session", sessionID, "id", messageID)
	}
	if err != nil {
		return errs.WrapMsg(err, "load message", "id", messageID)
	}
	if author != userID {
		return errs.ErrNoPermission.WrapMsg("not the author", "message", messageID)
	}
	if _, err := s.db.Exec(ctx, `
UPDATE live_message SET deleted_at = COALESCE(deleted_at, $2) WHERE message_id = $1`, messageID, s.now()); err != nil {
		return errs.WrapMsg(err, "delete message", "id", messageID)
	}
	return nil
}

func (s *Store) MarkRead(ctx context.Context, sessionID, userID, messageID string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO live_read_marker (session_id, user_id, message_id, read_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id, user_id) DO UPDATE
   SET message_id = EXCLUDED.message_id, read_at = EXCLUDED.read_at`, sessionID, userID, messageID, s.now())
	if err != nil {
		return errs.WrapMsg(err, "mark read", "session", sessionID, "user", userID)
	}
	return nil
}

// isForeignKey reports a foreign_key_violation, i.e. an unknown session.
func isForeignKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
