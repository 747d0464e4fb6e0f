// Package room joins one live session from the client side: optimistic sends
// through the ledger, reconciliation from server echoes and a presence view
// that only ever reflects server state.
package room

import (
	"sort"
	"sync"

	"PPLive/client/ledger"
	"PPLive/client/transport"
	"PPLive/logger"
	"PPLive/module/live/model"
	"PPLive/tools/errs"

	"go.uber.org/zap"
)

// Transport is the part of transport.Conn a room needs.
type Transport interface {
	Send(env *model.Envelope) bool
	OnEnvelope(typ model.EnvelopeType, h transport.Handler)
}

var _ Transport = (*transport.Conn)(nil)

// Room registers itself as the handler of every event type on its transport,
// so one transport serves one room.
type Room struct {
	conn      Transport
	sessionID string
	ledger    *ledger.Ledger

	mu           sync.RWMutex
	session      model.Session
	participants map[string]model.Participant
	count        int
	peak         int
	lastSeq      uint64
	onEvent      func(*model.Envelope)
}

func New(conn Transport, sessionID string, opts ...ledger.Option) *Room {
	r := &Room{
		conn:         conn,
		sessionID:    sessionID,
		participants: make(map[string]model.Participant),
	}
	r.ledger = ledger.New(r.submit, opts...)

	for _, t := range []model.EnvelopeType{model.TypeMessage, model.TypeReaction, model.TypeRead, model.TypeDelete, model.TypeTyping} {
		conn.OnEnvelope(t, r.handleEvent)
	}
	conn.OnEnvelope(model.TypeAck, r.handleAck)
	conn.OnEnvelope(model.TypeError, r.handleError)
	conn.OnEnvelope(model.TypePresenceState, r.handleState)
	conn.OnEnvelope(model.TypePresenceJoin, r.handlePresence)
	conn.OnEnvelope(model.TypePresenceLeave, r.handlePresence)
	return r
}

func (r *Room) Ledger() *ledger.Ledger { return r.ledger }

// OnEvent is called for every session event after reconciliation.
func (r *Room) OnEvent(fn func(*model.Envelope)) {
	r.mu.Lock()
	r.onEvent = fn
	r.mu.Unlock()
}

// SendMessage stages a message and returns its temp id.
func (r *Room) SendMessage(content string) (string, error) {
	if content == "" {
		return "", errs.ErrArgs.WrapMsg("empty message")
	}
	return r.stage(model.TypeMessage, model.MessageData{Content: content})
}

func (r *Room) React(emoji string) (string, error) {
	if emoji == "" {
		return "", errs.ErrArgs.WrapMsg("empty emoji")
	}
	return r.stage(model.TypeReaction, model.ReactionData{Emoji: emoji})
}

// Delete asks the server to remove one of the caller's messages.
func (r *Room) Delete(messageID string) (string, error) {
	if messageID == "" {
		return "", errs.ErrArgs.WrapMsg("empty message id")
	}
	return r.stage(model.TypeDelete, model.DeleteData{MessageID: messageID})
}

func (r *Room) MarkRead(messageID string) (string, error) {
	if messageID == "" {
		return "", errs.ErrArgs.WrapMsg("empty message id")
	}
	return r.stage(model.TypeRead, model.ReadData{MessageID: messageID})
}

// Typing is fire-and-forget and never enters the ledger.
func (r *Room) Typing(on bool) bool {
	env, err := model.NewEnvelope(model.TypeTyping, "", model.TypingData{Typing: on})
	if err != nil {
		return false
	}
	env.SessionID = r.sessionID
	return r.conn.Send(env)
}

func (r *Room) stage(typ model.EnvelopeType, data any) (string, error) {
	env, err := model.NewEnvelope(typ, "", data)
	if err != nil {
		return "", err
	}
	env.SessionID = r.sessionID
	return r.ledger.Stage(env), nil
}

func (r *Room) submit(tempID string, payload any) bool {
	env, ok := payload.(*model.Envelope)
	if !ok {
		return false
	}
	out := env.Clone()
	out.TempID = tempID
	return r.conn.Send(out)
}

// Count is the server-reported number of active participants.
func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

func (r *Room) Peak() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peak
}

// LastSeq is the highest session sequence number seen so far.
func (r *Room) LastSeq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSeq
}

func (r *Room) Session() model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

func (r *Room) Participants() []model.Participant {
	r.mu.RLock()
	out := make([]model.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Room) mine(env *model.Envelope) bool {
	return env.SessionID == "" || env.SessionID == r.sessionID
}

func (r *Room) handleEvent(env *model.Envelope) {
	if !r.mine(env) {
		return
	}
	if env.TempID != "" {
		r.ledger.Confirm(env.TempID, env.Data)
	}
	r.mu.Lock()
	if env.Seq > r.lastSeq {
		r.lastSeq = env.Seq
	}
	fn := r.onEvent
	r.mu.Unlock()
	if fn != nil {
		fn(env)
	}
}

func (r *Room) handleAck(env *model.Envelope) {
	if env.TempID == "" {
		return
	}
	var a model.AckData
	_ = env.Decode(&a)
	r.ledger.Confirm(env.TempID, a)
}

func (r *Room) handleError(env *model.Envelope) {
	var d model.ErrorData
	if err := env.Decode(&d); err != nil {
		d = model.ErrorData{Code: errs.ServerInternalError, Message: "unreadable error"}
	}
	cause := errs.NewCodeError(d.Code, d.Message)
	if env.TempID == "" {
		logger.Warn("room: server error", zap.String("session", r.sessionID), zap.Error(cause))
		return
	}
	r.ledger.Fail(env.TempID, cause)
}

func (r *Room) handleState(env *model.Envelope) {
	if !r.mine(env) {
		return
	}
	var st model.PresenceStateData
	if err := env.Decode(&st); err != nil {
		logger.Warn("room: bad presence-state", zap.Error(err))
		return
	}
	r.mu.Lock()
	r.session = st.Session
	r.participants = make(map[string]model.Participant, len(st.Participants))
	for _, p := range st.Participants {
		r.participants[p.UserID] = p
	}
	r.count = st.Count
	if st.Peak > r.peak {
		r.peak = st.Peak
	}
	r.mu.Unlock()
}

func (r *Room) handlePresence(env *model.Envelope) {
	if !r.mine(env) {
		return
	}
	var d model.PresenceData
	if err := env.Decode(&d); err != nil {
		logger.Warn("room: bad presence event", zap.Error(err))
		return
	}
	r.mu.Lock()
	if env.Type == model.TypePresenceJoin {
		r.participants[d.Participant.UserID] = d.Participant
	} else {
		delete(r.participants, d.Participant.UserID)
	}
	r.count = d.Count
	if d.Count > r.peak {
		r.peak = d.Count
	}
	fn := r.onEvent
	r.mu.Unlock()
	if fn != nil {
		fn(env)
	}
}
