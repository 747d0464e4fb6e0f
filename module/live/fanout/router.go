package fanout

import (
	"context"
	"sync"
	"time"

	"PPLive/logger"
	"PPLive/module/live/model"
	"PPLive/module/live/repo"
	"PPLive/tools/errs"
	"PPLive/tools/safe"

	"go.uber.org/zap"
)

type Options struct {
	StoreTimeout time.Duration
	Clock        func() time.Time
}

// Router persists session events and delivers them to open connections.
// A session has a single writer: deliveries to the same session run one at a
// time under its sequencer, so every recipient sees them in seq order.
type Router struct {
	members Members
	dir     Directory
	store   repo.Store
	opts    Options

	mu   sync.Mutex
	seqs map[string]*sequencer
}

type sequencer struct {
	mu  sync.Mutex
	seq uint64
}

func New(members Members, dir Directory, store repo.Store, opts Options) *Router {
	safe.MustNotNil(members, "members")
	safe.MustNotNil(dir, "directory")
	safe.MustNotNil(store, "store")
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = repo.DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Router{
		members: members,
		dir:     dir,
		store:   repo.Bounded(store, opts.StoreTimeout),
		opts:    opts,
		seqs:    make(map[string]*sequencer),
	}
}

func (r *Router) sequencer(sessionID string) *sequencer {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.seqs[sessionID]
	if !ok {
		s = &sequencer{}
		r.seqs[sessionID] = s
	}
	return s
}

// Forget drops the ordering state of an ended session.
func (r *Router) Forget(sessionID string) {
	r.mu.Lock()
	delete(r.seqs, sessionID)
	r.mu.Unlock()
}

// Publish persists env when its type is durable, then delivers it to target.
// Persistence failures land in the report and do not stop delivery; invalid
// payloads, unknown sessions and rejected deletes return an error and deliver
// nothing.
func (r *Router) Publish(ctx context.Context, env *model.Envelope, target Target) (*DeliveryReport, error) {
	if env == nil || env.Type == "" {
		return nil, errs.ErrArgs.WrapMsg("empty envelope")
	}
	if target.SessionID == "" && !target.explicit() {
		return nil, errs.ErrArgs.WrapMsg("publish without target", "type", env.Type)
	}
	if !target.explicit() {
		s, ok := r.members.Session(target.SessionID)
		if !ok {
			return nil, errs.ErrRecordNotFound.WrapMsg("session not live", "id", target.SessionID)
		}
		// the final presence-state of an ended session still goes out
		if s.Ended() && env.Type != model.TypePresenceState {
			return nil, errs.ErrSessionEnded.WrapMsg("session ended", "id", target.SessionID)
		}
	}

	out := env.Clone()
	out.SessionID = target.SessionID
	out.Recipients = nil
	out.Timestamp = r.opts.Clock().UnixMilli()

	// Persistence runs before the sequencer is taken so a slow store only
	// delays its own event, not typing or presence traffic of the session.
	rep := &DeliveryReport{}
	if out.Type.Durable() {
		if err := r.persist(ctx, out, rep); err != nil {
			return nil, err
		}
	}

	if target.SessionID != "" {
		seq := r.sequencer(target.SessionID)
		seq.mu.Lock()
		defer seq.mu.Unlock()
		return r.deliverLocked(out, target, rep, seq)
	}
	return r.deliverLocked(out, target, rep, nil)
}

func (r *Router) deliverLocked(out *model.Envelope, target Target, rep *DeliveryReport, seq *sequencer) (*DeliveryReport, error) {
	if seq != nil {
		seq.seq++
		out.Seq = seq.seq
		rep.Seq = out.Seq
	}

	payload, err := out.Marshal()
	if err != nil {
		return nil, errs.WrapMsg(err, "encode envelope", "type", out.Type)
	}

	// A sender whose message was not stored gets an error instead of the echo,
	// so the client keeps its entry and can retry.
	msgFailed := out.Type == model.TypeMessage && rep.PersistErr != nil

	if target.explicit() {
		r.deliverUsers(dedupe(target.Recipients), "", payload, rep)
	} else {
		users := make([]string, 0, 8)
		for _, p := range r.members.ListActive(target.SessionID) {
			if target.excluded(p.UserID) || (msgFailed && p.UserID == out.UserID) {
				continue
			}
			users = append(users, p.UserID)
		}
		r.deliverUsers(users, target.SessionID, payload, rep)
	}

	switch {
	case msgFailed:
		r.reply(model.ErrorEnvelope(out.UserID, out.SessionID, out.TempID, rep.PersistErr), out.UserID, target.SessionID)
	case target.explicit() && out.Type.Durable() && out.UserID != "":
		// the sender is not a recipient, confirm through an ack
		r.reply(r.ack(out, rep), out.UserID, target.SessionID)
	}

	if rep.PersistErr != nil {
		logger.Warn("publish persisted with error",
			zap.String("type", string(out.Type)), zap.String("session", out.SessionID), zap.Error(rep.PersistErr))
	}
	logger.Debug("published",
		zap.String("type", string(out.Type)), zap.String("session", out.SessionID), zap.Uint64("seq", out.Seq),
		zap.Int("recipients", rep.Recipients), zap.Int("delivered", rep.Delivered),
		zap.Int("skipped", rep.Skipped), zap.Int("dropped", rep.Dropped))
	return rep, nil
}

// persist stores durable events and rewrites out.Data with the stored ids.
func (r *Router) persist(ctx context.Context, out *model.Envelope, rep *DeliveryReport) error {
	sessionID := out.SessionID
	if sessionID == "" {
		return errs.ErrArgs.WrapMsg("durable event without session", "type", out.Type)
	}
	var err error
	switch out.Type {
	case model.TypeMessage:
		var d model.MessageData
		if err = out.Decode(&d); err != nil {
			return err
		}
		if d.Content == "" {
			return errs.ErrArgs.WrapMsg("empty message")
		}
		var msg *model.Message
		if msg, err = r.store.AppendMessage(ctx, sessionID, out.UserID, d.Content); err == nil {
			rep.Message = msg
			err = out.SetData(model.MessageData{ID: msg.ID, Content: msg.Content, CreatedAt: msg.CreatedAt.UnixMilli()})
		}
	case model.TypeReaction:
		var d model.ReactionData
		if err = out.Decode(&d); err != nil {
			return err
		}
		if d.Emoji == "" {
			return errs.ErrArgs.WrapMsg("empty emoji")
		}
		var rc *model.Reaction
		if rc, err = r.store.AppendReaction(ctx, sessionID, out.UserID, d.Emoji); err == nil {
			rep.Reaction = rc
			err = out.SetData(model.ReactionData{ID: rc.ID, Emoji: rc.Emoji})
		}
	case model.TypeDelete:
		var d model.DeleteData
		if err = out.Decode(&d); err != nil {
			return err
		}
		if d.MessageID == "" {
			return errs.ErrArgs.WrapMsg("empty message id")
		}
		err = r.store.DeleteMessage(ctx, sessionID, d.MessageID, out.UserID)
	case model.TypeRead:
		var d model.ReadData
		if err = out.Decode(&d); err != nil {
			return err
		}
		if d.MessageID == "" {
			return errs.ErrArgs.WrapMsg("empty message id")
		}
		err = r.store.MarkRead(ctx, sessionID, out.UserID, d.MessageID)
	}
	if err == nil {
		return nil
	}
	if errs.Is(err, errs.ErrPersistence) {
		rep.PersistErr = err
		return nil
	}
	return err
}

func (r *Router) ack(out *model.Envelope, rep *DeliveryReport) *model.Envelope {
	var id string
	switch {
	case rep.Message != nil:
		id = rep.Message.ID
	case rep.Reaction != nil:
		id = rep.Reaction.ID
	}
	env, _ := model.NewEnvelope(model.TypeAck, out.UserID, model.AckData{ID: id})
	env.SessionID = out.SessionID
	env.TempID = out.TempID
	env.Seq = out.Seq
	return env
}

func (r *Router) deliverUsers(users []string, sessionID string, payload []byte, rep *DeliveryReport) {
	for _, u := range users {
		rep.Recipients++
		sent := 0
		for _, c := range r.dir.ConnsOf(u) {
			if sessionID != "" && !c.Subscribed(sessionID) {
				continue
			}
			sent++
			if c.Enqueue(payload) {
				rep.Delivered++
			} else {
				rep.Dropped++
			}
		}
		if sent == 0 {
			rep.Skipped++
		}
	}
}

// reply sends a control envelope to the sender's connections on the session,
// or to all of them when the event had no session.
func (r *Router) reply(env *model.Envelope, userID, sessionID string) {
	b, err := env.Marshal()
	if err != nil {
		logger.Errorf("encode %s reply: %v", env.Type, err)
		return
	}
	for _, c := range r.dir.ConnsOf(userID) {
		if sessionID != "" && !c.Subscribed(sessionID) {
			continue
		}
		if !c.Enqueue(b) {
			logger.Warn("reply dropped, queue full", zap.String("conn", c.ID()), zap.String("type", string(env.Type)))
		}
	}
}

// Announce broadcasts a presence envelope; it satisfies presence.Announcer.
func (r *Router) Announce(ctx context.Context, sessionID string, env *model.Envelope, exclude ...string) {
	if _, err := r.Publish(ctx, env, Session(sessionID, exclude...)); err != nil {
		logger.Warn("announce failed", zap.String("session", sessionID), zap.String("type", string(env.Type)), zap.Error(err))
	}
	if env.Type == model.TypePresenceState {
		var st model.PresenceStateData
		if env.Decode(&st) == nil && st.Session.Ended() {
			r.Forget(sessionID)
		}
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
