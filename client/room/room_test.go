package room

import (
	"sync"
	"testing"

	"PPLive/client/ledger"
	"PPLive/client/transport"
	"PPLive/module/live/model"
	"PPLive/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	open     bool
	sent     []*model.Envelope
	handlers map[model.EnvelopeType]transport.Handler
}

func newFakeConn() *fakeConn {
	return &fakeConn{open: true, handlers: make(map[model.EnvelopeType]transport.Handler)}
}

func (f *fakeConn) Send(env *model.Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return false
	}
	f.sent = append(f.sent, env)
	return true
}

func (f *fakeConn) OnEnvelope(typ model.EnvelopeType, h transport.Handler) {
	f.handlers[typ] = h
}

func (f *fakeConn) deliver(t *testing.T, env *model.Envelope) {
	h, ok := f.handlers[env.Type]
	require.True(t, ok, "no handler for %s", env.Type)
	h(env)
}

func TestMessageReconciledByEcho(t *testing.T) {
	fc := newFakeConn()
	r := New(fc, "R1")

	tempID, err := r.SendMessage("hi")
	require.NoError(t, err)
	require.Len(t, fc.sent, 1)
	assert.Equal(t, tempID, fc.sent[0].TempID)
	assert.Equal(t, "R1", fc.sent[0].SessionID)
	assert.Len(t, r.Ledger().Pending(), 1)

	echo := fc.sent[0].Clone()
	echo.UserID = "A"
	echo.Seq = 3
	require.NoError(t, echo.SetData(model.MessageData{ID: "m_1", Content: "hi"}))

	var seen []*model.Envelope
	r.OnEvent(func(env *model.Envelope) { seen = append(seen, env) })
	fc.deliver(t, echo)

	assert.Empty(t, r.Ledger().Entries())
	assert.Equal(t, uint64(3), r.LastSeq())
	require.Len(t, seen, 1)
}

func TestErrorFailsEntryAndRetry(t *testing.T) {
	fc := newFakeConn()
	r := New(fc, "R1")
	tempID, err := r.SendMessage("hi")
	require.NoError(t, err)

	fc.deliver(t, model.ErrorEnvelope("A", "R1", tempID, errs.ErrPersistence.WrapMsg("db down")))
	e, ok := r.Ledger().Get(tempID)
	require.True(t, ok)
	assert.Equal(t, ledger.StatusFailed, e.Status)
	assert.True(t, errs.Is(e.Err, errs.ErrPersistence))

	require.NoError(t, r.Ledger().Retry(tempID))
	require.Len(t, fc.sent, 2)
	assert.Equal(t, tempID, fc.sent[1].TempID)
}

func TestAckConfirms(t *testing.T) {
	fc := newFakeConn()
	r := New(fc, "R1")
	tempID, err := r.React("👍")
	require.NoError(t, err)

	ack, err := model.NewEnvelope(model.TypeAck, "A", model.AckData{ID: "r_1"})
	require.NoError(t, err)
	ack.TempID = tempID
	fc.deliver(t, ack)
	_, ok := r.Ledger().Get(tempID)
	assert.False(t, ok)
}

func TestSendWhileClosedFails(t *testing.T) {
	fc := newFakeConn()
	fc.open = false
	r := New(fc, "R1")
	tempID, err := r.SendMessage("hi")
	require.NoError(t, err)
	e, _ := r.Ledger().Get(tempID)
	assert.Equal(t, ledger.StatusFailed, e.Status)
	assert.False(t, r.Typing(true))
}

func TestPresenceFromServerOnly(t *testing.T) {
	fc := newFakeConn()
	r := New(fc, "R1")

	st, err := model.NewEnvelope(model.TypePresenceState, "", model.PresenceStateData{
		Session:      model.Session{ID: "R1", Status: model.SessionActive},
		Participants: []model.Participant{{SessionID: "R1", UserID: "A"}},
		Count:        1,
		Peak:         1,
	})
	require.NoError(t, err)
	st.SessionID = "R1"
	fc.deliver(t, st)
	assert.Equal(t, 1, r.Count())

	// a pending message never changes the count
	_, err = r.SendMessage("hi")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Count())

	join, err := model.NewEnvelope(model.TypePresenceJoin, "B", model.PresenceData{
		Participant: model.Participant{SessionID: "R1", UserID: "B"}, Count: 2,
	})
	require.NoError(t, err)
	join.SessionID = "R1"
	fc.deliver(t, join)
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, 2, r.Peak())

	leave, err := model.NewEnvelope(model.TypePresenceLeave, "B", model.PresenceData{
		Participant: model.Participant{SessionID: "R1", UserID: "B"}, Count: 1,
	})
	require.NoError(t, err)
	leave.SessionID = "R1"
	fc.deliver(t, leave)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 2, r.Peak())
	require.Len(t, r.Participants(), 1)
	assert.Equal(t, "A", r.Participants()[0].UserID)

	// events of other sessions are ignored
	other := join.Clone()
	other.SessionID = "R2"
	fc.deliver(t, other)
	assert.Equal(t, 1, r.Count())
}

func TestDeleteAndReadReconciled(t *testing.T) {
	fc := newFakeConn()
	r := New(fc, "R1")

	_, err := r.Delete("")
	assert.True(t, errs.Is(err, errs.ErrArgs))
	_, err = r.MarkRead("")
	assert.True(t, errs.Is(err, errs.ErrArgs))
	assert.Empty(t, fc.sent)

	delID, err := r.Delete("m_1")
	require.NoError(t, err)
	readID, err := r.MarkRead("m_2")
	require.NoError(t, err)
	require.Len(t, fc.sent, 2)

	del := fc.sent[0]
	assert.Equal(t, model.TypeDelete, del.Type)
	assert.Equal(t, delID, del.TempID)
	var d model.DeleteData
	require.NoError(t, del.Decode(&d))
	assert.Equal(t, "m_1", d.MessageID)
	assert.Equal(t, model.TypeRead, fc.sent[1].Type)
	assert.Len(t, r.Ledger().Pending(), 2)

	echo := del.Clone()
	echo.UserID = "A"
	echo.Seq = 9
	fc.deliver(t, echo)
	_, ok := r.Ledger().Get(delID)
	assert.False(t, ok)
	_, ok = r.Ledger().Get(readID)
	assert.True(t, ok)
	assert.Equal(t, uint64(9), r.LastSeq())
}
