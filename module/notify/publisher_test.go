package notify

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"PPLive/module/live/model"
	"PPLive/module/live/repo"
	"PPLive/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails CreateNotification for one user.
type flakyStore struct {
	*repo.Memory
	failUser string
	calls    int32
}

func (f *flakyStore) CreateNotification(ctx context.Context, userID, typ, title, content, url, actorID string) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if userID == f.failUser {
		return "", errs.ErrPersistence.WrapMsg("insert failed", "user", userID)
	}
	return f.Memory.CreateNotification(ctx, userID, typ, title, content, url, actorID)
}

func TestPublishIndependentPerUser(t *testing.T) {
	store := &flakyStore{Memory: repo.NewMemory(), failUser: "bad"}
	hub := NewPushHub(4)
	p := New(store, hub, Options{Workers: 2})
	defer p.Close()

	sub := hub.Subscribe("u1")
	defer hub.Unsubscribe(sub)

	in := model.NotificationInput{Type: "like", Title: "A liked your post", ActorID: "A"}
	res, err := p.Publish(context.Background(), []string{"u1", "bad", "u2", "u1"}, in)
	require.NoError(t, err)
	require.Len(t, res, 3)

	assert.Equal(t, "u1", res[0].UserID)
	assert.NoError(t, res[0].Err)
	assert.NotEmpty(t, res[0].NotificationID)
	assert.Equal(t, 1, res[0].Delivered)

	assert.Equal(t, "bad", res[1].UserID)
	assert.True(t, errs.Is(res[1].Err, errs.ErrPersistence))
	assert.NotEmpty(t, res[1].Error)

	assert.NoError(t, res[2].Err)
	assert.Equal(t, 0, res[2].Delivered)
	assert.Equal(t, int32(3), atomic.LoadInt32(&store.calls))

	select {
	case b := <-sub.C:
		var n model.Notification
		require.NoError(t, json.Unmarshal(b, &n))
		assert.Equal(t, res[0].NotificationID, n.ID)
		assert.Equal(t, "like", n.Type)
	case <-time.After(time.Second):
		t.Fatal("no push")
	}

	unread, err := store.ListUnread(context.Background(), "u2", 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "A liked your post", unread[0].Title)
}

func TestPublishRejectsBadInput(t *testing.T) {
	p := New(repo.NewMemory(), nil, Options{})
	defer p.Close()
	_, err := p.Publish(context.Background(), []string{"u1"}, model.NotificationInput{Title: "x"})
	assert.True(t, errs.Is(err, errs.ErrArgs))
	_, err = p.Publish(context.Background(), []string{""}, model.NotificationInput{Type: "t", Title: "x"})
	assert.True(t, errs.Is(err, errs.ErrArgs))
}

func TestHubDropsWhenFull(t *testing.T) {
	hub := NewPushHub(1)
	s := hub.Subscribe("u1")
	n := &model.Notification{ID: "n1", UserID: "u1"}
	d, dr := hub.Push(n)
	assert.Equal(t, 1, d)
	assert.Equal(t, 0, dr)
	d, dr = hub.Push(n)
	assert.Equal(t, 0, d)
	assert.Equal(t, 1, dr)

	hub.Unsubscribe(s)
	hub.Unsubscribe(s)
	assert.Equal(t, 0, hub.Count("u1"))
	_, open := <-s.C
	assert.True(t, open) // buffered item still readable
	_, open = <-s.C
	assert.False(t, open)
}
