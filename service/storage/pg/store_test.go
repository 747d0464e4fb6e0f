package pg

import (
	"context"
	"os"
	"testing"
	"time"

	"PPLive/module/live/model"
	"PPLive/tools/errs"
	"PPLive/tools/ids"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB needs TEST_DATABASE_URL; the tests skip without a database.
func setupTestDB(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("database not available: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("database ping failed: %v", err)
	}
	t.Cleanup(pool.Close)

	s := New(pool)
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	id := ids.WithPrefix("test")

	sess, err := s.CreateSession(ctx, id, "host", "title")
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, sess.Status)

	again, err := s.CreateSession(ctx, id, "other", "other")
	require.NoError(t, err)
	assert.Equal(t, "host", again.HostID)

	_, err = s.UpsertParticipant(ctx, id, "A", "Alice", model.RoleHost)
	require.NoError(t, err)
	_, err = s.UpsertParticipant(ctx, id, "B", "Bob", model.RoleViewer)
	require.NoError(t, err)
	require.NoError(t, s.UpdatePeakParticipants(ctx, id, 2))
	require.NoError(t, s.UpdatePeakParticipants(ctx, id, 1))

	active, err := s.ListActiveParticipants(ctx, id)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, s.MarkParticipantLeft(ctx, id, "B"))
	active, err = s.ListActiveParticipants(ctx, id)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "A", active[0].UserID)

	require.NoError(t, s.EndSession(ctx, id))
	got, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Ended())
	assert.Equal(t, 2, got.PeakParticipants)

	_, err = s.GetSession(ctx, ids.WithPrefix("missing"))
	assert.True(t, errs.Is(err, errs.ErrRecordNotFound))
	_, err = s.UpsertParticipant(ctx, ids.WithPrefix("missing"), "A", "", model.RoleViewer)
	assert.True(t, errs.Is(err, errs.ErrRecordNotFound))
}

func TestMessages(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	id := ids.WithPrefix("test")
	_, err := s.CreateSession(ctx, id, "host", "")
	require.NoError(t, err)

	var last *model.Message
	for _, c := range []string{"one", "two", "three"} {
		last, err = s.AppendMessage(ctx, id, "A", c)
		require.NoError(t, err)
	}
	assert.True(t, errs.Is(s.DeleteMessage(ctx, id, last.ID, "B"), errs.ErrNoPermission))
	require.NoError(t, s.DeleteMessage(ctx, id, last.ID, "A"))

	msgs, err := s.ListRecentMessages(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)

	_, err = s.AppendReaction(ctx, id, "B", "❤")
	require.NoError(t, err)
	require.NoError(t, s.MarkRead(ctx, id, "B", msgs[1].ID))
}
