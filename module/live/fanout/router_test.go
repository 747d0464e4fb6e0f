package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"PPLive/module/live/model"
	"PPLive/module/live/presence"
	"PPLive/module/live/repo"
	"PPLive/tools/errs"

	pkgerrs "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id, user string
	sessions map[string]bool
	q        chan []byte
}

func (c *fakeConn) ID() string { return c.id }
func (c *fakeConn) UserID() string { return c.user }
func (c *fakeConn) Subscribed(s string) bool { return c.sessions[s] }
func (c *fakeConn) Enqueue(b []byte) bool {
	select {
	case c.q <- b:
		return true
	default:
		return false
	}
}

func (c *fakeConn) drain(t *testing.T) []*model.Envelope {
	t.Helper()
	var out []*model.Envelope
	for {
		select {
		case b := <-c.q:
			env, err := model.UnmarshalEnvelope(b)
			require.NoError(t, err)
			out = append(out, env)
		default:
			return out
		}
	}
}

func (c *fakeConn) ofType(t *testing.T, typ model.EnvelopeType) []*model.Envelope {
	var out []*model.Envelope
	for _, e := range c.drain(t) {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type fakeDir struct {
	mu    sync.Mutex
	conns map[string][]*fakeConn
}

func (d *fakeDir) add(user, session string, size int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &fakeConn{
		id:       fmt.Sprintf("%s-%d", user, len(d.conns[user])),
		user:     user,
		sessions: map[string]bool{session: true},
		q:        make(chan []byte, size),
	}
	d.conns[user] = append(d.conns[user], c)
	return c
}

func (d *fakeDir) ConnsOf(user string) []Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Conn, 0, len(d.conns[user]))
	for _, c := range d.conns[user] {
		out = append(out, c)
	}
	return out
}

type failingStore struct{ *repo.Memory }

func (failingStore) AppendMessage(context.Context, string, string, string) (*model.Message, error) {
	return nil, pkgerrs.New("db down")
}

type fixture struct {
	store   repo.Store
	tracker *presence.Tracker
	dir     *fakeDir
	router  *Router
}

func newFixture(t *testing.T, store repo.Store) *fixture {
	t.Helper()
	tr := presence.New(store, presence.Options{})
	dir := &fakeDir{conns: map[string][]*fakeConn{}}
	r := New(tr, dir, store, Options{})
	tr.SetAnnouncer(r)
	t.Cleanup(tr.Close)
	_, err := tr.Open(context.Background(), "R1", "a", "room")
	require.NoError(t, err)
	return &fixture{store: store, tracker: tr, dir: dir, router: r}
}

func (f *fixture) join(t *testing.T, user string, queue int) *fakeConn {
	t.Helper()
	c := f.dir.add(user, "R1", queue)
	_, err := f.tracker.Join(context.Background(), "R1", user, user, model.RoleViewer)
	require.NoError(t, err)
	return c
}

func typing(user string) *model.Envelope {
	env, _ := model.NewEnvelope(model.TypeTyping, user, model.TypingData{Typing: true})
	return env
}

func message(user, content, tempID string) *model.Envelope {
	env, _ := model.NewEnvelope(model.TypeMessage, user, model.MessageData{Content: content})
	env.TempID = tempID
	return env
}

func TestPublishOrderPreserved(t *testing.T) {
	f := newFixture(t, repo.NewMemory())
	var conns []*fakeConn
	for _, u := range []string{"a", "b", "c", "d"} {
		conns = append(conns, f.join(t, u, 1024))
	}
	for _, c := range conns {
		c.drain(t)
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				env := typing("a")
				if i%5 == 0 {
					env = message("a", fmt.Sprintf("w%d-%d", w, i), "")
				}
				_, err := f.router.Publish(ctx, env, Session("R1"))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	var reference []uint64
	for i, c := range conns {
		envs := c.drain(t)
		require.Len(t, envs, 200)
		seqs := make([]uint64, 0, len(envs))
		for j, e := range envs {
			if j > 0 {
				assert.Greater(t, e.Seq, envs[j-1].Seq, "recipient %s out of order", c.user)
			}
			seqs = append(seqs, e.Seq)
		}
		if i == 0 {
			reference = seqs
		} else {
			assert.Equal(t, reference, seqs)
		}
	}
}

func TestPublishMessagePersistsAndEchoes(t *testing.T) {
	f := newFixture(t, repo.NewMemory())
	a := f.join(t, "a", 16)
	b := f.join(t, "b", 16)
	a.drain(t)
	b.drain(t)

	rep, err := f.router.Publish(context.Background(), message("a", "hi", "tmp-1"), Session("R1"))
	require.NoError(t, err)
	require.NotNil(t, rep.Message)
	assert.Nil(t, rep.PersistErr)
	assert.Equal(t, 2, rep.Recipients)
	assert.Equal(t, 2, rep.Delivered)

	got := b.ofType(t, model.TypeMessage)
	require.Len(t, got, 1)
	var data model.MessageData
	require.NoError(t, got[0].Decode(&data))
	assert.Equal(t, "hi", data.Content)
	assert.Equal(t, rep.Message.ID, data.ID)

	echo := a.ofType(t, model.TypeMessage)
	require.Len(t, echo, 1)
	assert.Equal(t, "tmp-1", echo[0].TempID)

	msgs, err := f.store.ListRecentMessages(context.Background(), "R1", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestPersistFailureStillDelivers(t *testing.T) {
	f := newFixture(t, failingStore{repo.NewMemory()})
	a := f.join(t, "a", 16)
	b := f.join(t, "b", 16)
	a.drain(t)
	b.drain(t)

	rep, err := f.router.Publish(context.Background(), message("a", "hi", "tmp-1"), Session("R1"))
	require.NoError(t, err)
	require.Error(t, rep.PersistErr)
	assert.True(t, errors.Is(rep.PersistErr, errs.ErrPersistence))
	assert.Equal(t, 1, rep.Delivered)

	assert.Len(t, b.ofType(t, model.TypeMessage), 1)

	envs := a.drain(t)
	require.Len(t, envs, 1)
	assert.Equal(t, model.TypeError, envs[0].Type)
	assert.Equal(t, "tmp-1", envs[0].TempID)
}

func TestFullQueueCountsDropped(t *testing.T) {
	f := newFixture(t, repo.NewMemory())
	f.join(t, "a", 16)
	slow := f.join(t, "b", 1)
	slow.drain(t)

	ctx := context.Background()
	_, err := f.router.Publish(ctx, typing("a"), Session("R1", "a"))
	require.NoError(t, err)
	rep, err := f.router.Publish(ctx, typing("a"), Session("R1", "a"))
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Delivered)
	assert.Equal(t, 1, rep.Dropped)
}

func TestNoBackfillForLateJoiner(t *testing.T) {
	f := newFixture(t, repo.NewMemory())
	f.join(t, "a", 16)
	_, err := f.router.Publish(context.Background(), message("a", "early", ""), Session("R1"))
	require.NoError(t, err)

	late := f.join(t, "c", 16)
	assert.Empty(t, late.ofType(t, model.TypeMessage))
}

func TestExplicitRecipients(t *testing.T) {
	f := newFixture(t, repo.NewMemory())
	a := f.dir.add("a", "R1", 16)
	b1 := f.dir.add("b", "other", 16)
	b2 := f.dir.add("b", "R2", 16)

	rep, err := f.router.Publish(context.Background(), typing("a"), Users("b", "offline", "b"))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Recipients)
	assert.Equal(t, 2, rep.Delivered)
	assert.Equal(t, 1, rep.Skipped)
	assert.Len(t, b1.drain(t), 1)
	assert.Len(t, b2.drain(t), 1)
	assert.Empty(t, a.drain(t))

	// durable event to a user list is acked to the sender
	env := message("a", "psst", "tmp-9")
	rep, err = f.router.Publish(context.Background(), env, Target{SessionID: "R1", Recipients: []string{"b"}})
	require.NoError(t, err)
	require.NotNil(t, rep.Message)
	acks := a.ofType(t, model.TypeAck)
	require.Len(t, acks, 1)
	assert.Equal(t, "tmp-9", acks[0].TempID)
	var ack model.AckData
	require.NoError(t, acks[0].Decode(&ack))
	assert.Equal(t, rep.Message.ID, ack.ID)
}

func TestPublishRejects(t *testing.T) {
	f := newFixture(t, repo.NewMemory())
	b := f.join(t, "b", 16)
	b.drain(t)
	ctx := context.Background()

	_, err := f.router.Publish(ctx, typing("a"), Session("nope"))
	assert.True(t, errors.Is(err, errs.ErrRecordNotFound))

	_, err = f.router.Publish(ctx, message("a", "", ""), Session("R1"))
	assert.True(t, errors.Is(err, errs.ErrArgs))

	_, err = f.router.Publish(ctx, typing("a"), Target{})
	assert.True(t, errors.Is(err, errs.ErrArgs))

	rep, err := f.router.Publish(ctx, message("b", "mine", ""), Session("R1"))
	require.NoError(t, err)
	del, _ := model.NewEnvelope(model.TypeDelete, "a", model.DeleteData{MessageID: rep.Message.ID})
	_, err = f.router.Publish(ctx, del, Session("R1"))
	assert.True(t, errors.Is(err, errs.ErrNoPermission))

	b.drain(t)
	require.NoError(t, f.tracker.End(ctx, "R1"))
	assert.Len(t, b.ofType(t, model.TypePresenceState), 1)
	_, err = f.router.Publish(ctx, typing("b"), Session("R1"))
	assert.True(t, errors.Is(err, errs.ErrRecordNotFound))
}

func TestPresenceBroadcastExcludesJoiner(t *testing.T) {
	f := newFixture(t, repo.NewMemory())
	a := f.join(t, "a", 16)
	a.drain(t)
	b := f.join(t, "b", 16)

	joins := a.ofType(t, model.TypePresenceJoin)
	require.Len(t, joins, 1)
	var pd model.PresenceData
	require.NoError(t, joins[0].Decode(&pd))
	assert.Equal(t, "b", pd.Participant.UserID)
	assert.Equal(t, 2, pd.Count)
	assert.Empty(t, b.ofType(t, model.TypePresenceJoin))

	require.NoError(t, f.tracker.Leave(context.Background(), "R1", "b"))
	assert.Len(t, a.ofType(t, model.TypePresenceLeave), 1)
}

type slowAppendStore struct {
	*repo.Memory
	entered chan struct{}
	release chan struct{}
}

func (s *slowAppendStore) AppendMessage(ctx context.Context, sessionID, authorID, content string) (*model.Message, error) {
	close(s.entered)
	<-s.release
	return s.Memory.AppendMessage(ctx, sessionID, authorID, content)
}

func TestSlowPersistDoesNotStallSession(t *testing.T) {
	store := &slowAppendStore{Memory: repo.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, store)
	a := f.join(t, "a", 16)
	b := f.join(t, "b", 16)
	a.drain(t)
	b.drain(t)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		_, err := f.router.Publish(ctx, message("a", "hi", "t1"), Session("R1"))
		done <- err
	}()
	<-store.entered

	typed := make(chan error, 1)
	go func() {
		_, err := f.router.Publish(ctx, typing("b"), Session("R1"))
		typed <- err
	}()
	select {
	case err := <-typed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("typing blocked behind a slow message write")
	}

	close(store.release)
	require.NoError(t, <-done)
	envs := a.drain(t)
	require.Len(t, envs, 2)
	assert.Equal(t, model.TypeTyping, envs[0].Type)
	assert.Equal(t, model.TypeMessage, envs[1].Type)
	assert.Greater(t, envs[1].Seq, envs[0].Seq)
}
