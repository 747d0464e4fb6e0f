package repo

import (
	"context"
	"errors"
	"testing"

	"PPLive/module/live/model"
	"PPLive/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryParticipantUpsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.UpsertParticipant(ctx, "missing", "a", "A", model.RoleViewer)
	assert.True(t, errors.Is(err, errs.ErrRecordNotFound))

	_, err = m.CreateSession(ctx, "R1", "host", "Room 1")
	require.NoError(t, err)

	_, err = m.UpsertParticipant(ctx, "R1", "a", "A", model.RoleViewer)
	require.NoError(t, err)
	p, err := m.UpsertParticipant(ctx, "R1", "a", "A", model.RoleHost)
	require.NoError(t, err)
	assert.Equal(t, model.RoleHost, p.Role)

	active, err := m.ListActiveParticipants(ctx, "R1")
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, m.MarkParticipantLeft(ctx, "R1", "a"))
	active, _ = m.ListActiveParticipants(ctx, "R1")
	assert.Empty(t, active)

	// rejoin reuses the row and clears LeftAt
	p, err = m.UpsertParticipant(ctx, "R1", "a", "A", model.RoleViewer)
	require.NoError(t, err)
	assert.Nil(t, p.LeftAt)
	active, _ = m.ListActiveParticipants(ctx, "R1")
	assert.Len(t, active, 1)
}

func TestMemoryPeakNeverDecreases(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.CreateSession(ctx, "R1", "h", "")
	for _, n := range []int{1, 3, 2, 0} {
		require.NoError(t, m.UpdatePeakParticipants(ctx, "R1", n))
	}
	s, err := m.GetSession(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, 3, s.PeakParticipants)
}

func TestMemoryMessages(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.CreateSession(ctx, "R1", "h", "")

	var last *model.Message
	for _, c := range []string{"one", "two", "three"} {
		msg, err := m.AppendMessage(ctx, "R1", "a", c)
		require.NoError(t, err)
		last = msg
	}
	err := m.DeleteMessage(ctx, "R1", last.ID, "b")
	assert.True(t, errors.Is(err, errs.ErrNoPermission))
	require.NoError(t, m.DeleteMessage(ctx, "R1", last.ID, "a"))
	assert.True(t, errors.Is(m.DeleteMessage(ctx, "R1", "nope", "a"), errs.ErrRecordNotFound))

	got, err := m.ListRecentMessages(ctx, "R1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Content)
	assert.Equal(t, "two", got[1].Content)

	require.NoError(t, m.MarkRead(ctx, "R1", "b", got[1].ID))
	mk, ok := m.ReadMarker("R1", "b")
	require.True(t, ok)
	assert.Equal(t, got[1].ID, mk.MessageID)
}

func TestMemoryEndSessionClosesParticipants(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.CreateSession(ctx, "R1", "h", "")
	_, _ = m.UpsertParticipant(ctx, "R1", "a", "A", model.RoleHost)
	require.NoError(t, m.EndSession(ctx, "R1"))
	require.NoError(t, m.EndSession(ctx, "R1"))

	s, _ := m.GetSession(ctx, "R1")
	assert.True(t, s.Ended())
	active, _ := m.ListActiveParticipants(ctx, "R1")
	assert.Empty(t, active)
	assert.True(t, errors.Is(m.EndSession(ctx, "R2"), errs.ErrRecordNotFound))
}

func TestMemoryNotifications(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id1, err := m.CreateNotification(ctx, "u", "like", "t1", "c", "/p/1", "a")
	require.NoError(t, err)
	_, err = m.CreateNotification(ctx, "u", "comment", "t2", "c", "", "b")
	require.NoError(t, err)
	_, err = m.CreateNotification(ctx, "", "x", "", "", "", "")
	assert.True(t, errors.Is(err, errs.ErrArgs))

	require.NoError(t, m.MarkNotificationRead(ctx, "u", id1))
	unread, err := m.ListUnread(ctx, "u", 0)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "t2", unread[0].Title)

	assert.True(t, errors.Is(m.MarkNotificationRead(ctx, "other", id1), errs.ErrRecordNotFound))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultRecentLimit, ClampLimit(0))
	assert.Equal(t, 10, ClampLimit(10))
	assert.Equal(t, MaxRecentLimit, ClampLimit(10000))
}
