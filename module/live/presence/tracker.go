package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPLive/logger"
	"PPLive/module/live/model"
	"PPLive/module/live/repo"
	"PPLive/tools/errs"
	"PPLive/tools/safe"

	"go.uber.org/zap"
)

// Announcer broadcasts presence changes to a session. The fan-out router
// implements it; the tracker never talks to connections directly.
type Announcer interface {
	Announce(ctx context.Context, sessionID string, env *model.Envelope, exclude ...string)
}

// AttendanceSink receives join/leave/peak/end events for analytics.
type AttendanceSink interface {
	Record(ctx context.Context, ev model.AttendanceEvent)
}

type Options struct {
	StoreTimeout time.Duration
	// EmptyGrace ends a session that stayed empty this long; 0 disables.
	EmptyGrace time.Duration
	Clock      func() time.Time
}

func (o *Options) normalize() {
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = repo.DefaultTimeout
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Tracker owns the per-session member sets. The registry lock only guards the
// map; each room has its own lock so sessions never contend with each other.
type Tracker struct {
	store repo.Store
	opts  Options

	mu    sync.RWMutex
	rooms map[string]*room

	announcer Announcer
	sink      AttendanceSink
}

type room struct {
	// op serializes membership changes together with their persistence and
	// announcement, so the store and the router see them in the order they
	// were applied. Lock order is op then mu; readers only take mu.
	op sync.Mutex

	mu      sync.Mutex
	session model.Session
	members map[string]*model.Participant // active only

	graceGen   uint64
	graceTimer *time.Timer
}

func New(store repo.Store, opts Options) *Tracker {
	safe.MustNotNil(store, "store")
	opts.normalize()
	return &Tracker{
		store: repo.Bounded(store, opts.StoreTimeout),
		opts:  opts,
		rooms: make(map[string]*room),
	}
}

// SetAnnouncer wires the router in after both are constructed.
func (t *Tracker) SetAnnouncer(a Announcer) { t.announcer = a }

func (t *Tracker) SetAttendanceSink(s AttendanceSink) { t.sink = s }

// Open creates a session, or returns it when it is already active.
func (t *Tracker) Open(ctx context.Context, id, hostID, title string) (*model.Session, error) {
	if id == "" {
		return nil, errs.ErrArgs.WrapMsg("empty session id")
	}
	t.mu.Lock()
	if r, ok := t.rooms[id]; ok {
		t.mu.Unlock()
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.session.Status == model.SessionActive {
			s := r.snapshotSession()
			return &s, nil
		}
		return nil, errs.ErrSessionEnded.WrapMsg("session is ending", "id", id)
	}
	t.mu.Unlock()

	s, err := t.store.CreateSession(ctx, id, hostID, title)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.rooms[id]; ok {
		// lost a race with another Open or a hydrating Join
		r.mu.Lock()
		defer r.mu.Unlock()
		out := r.snapshotSession()
		return &out, nil
	}
	r := newRoom(*s)
	t.rooms[id] = r
	out := r.snapshotSession()
	logger.Info("session opened", zap.String("session", id), zap.String("host", hostID))
	return &out, nil
}

func newRoom(s model.Session) *room {
	return &room{session: s, members: make(map[string]*model.Participant)}
}

// lookup returns the in-memory room, loading an active session from the
// store when this process has not seen it yet.
func (t *Tracker) lookup(ctx context.Context, id string) (*room, error) {
	t.mu.RLock()
	r, ok := t.rooms[id]
	t.mu.RUnlock()
	if ok {
		return r, nil
	}

	s, err := t.store.GetSession(ctx, id)
	if err != nil {
		if errs.Is(err, errs.ErrRecordNotFound) {
			return nil, err
		}
		// store down: an unknown session is still unknown
		return nil, errs.ErrRecordNotFound.WrapMsg("session not loaded: "+err.Error(), "id", id)
	}
	if s.Ended() {
		return nil, errs.ErrSessionEnded.WrapMsg("session ended", "id", id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.rooms[id]; ok {
		return r, nil
	}
	r = newRoom(*s)
	t.rooms[id] = r
	return r, nil
}

// Join adds userID to the active set, or refreshes its join time and role when
// it is already active. Fails with errs.ErrRecordNotFound for unknown sessions
// and errs.ErrSessionEnded for ended ones.
func (t *Tracker) Join(ctx context.Context, sessionID, userID, displayName string, role model.Role) (*model.Participant, error) {
	if userID == "" {
		return nil, errs.ErrArgs.WrapMsg("empty user id")
	}
	r, err := t.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	r.op.Lock()
	defer r.op.Unlock()

	now := t.opts.Clock()
	r.mu.Lock()
	if r.session.Status != model.SessionActive {
		r.mu.Unlock()
		return nil, errs.ErrSessionEnded.WrapMsg("session ended", "id", sessionID)
	}
	r.stopGrace()
	p, ok := r.members[userID]
	if !ok {
		p = &model.Participant{SessionID: sessionID, UserID: userID}
		r.members[userID] = p
	}
	p.DisplayName = displayName
	p.Role = role
	p.JoinedAt = now
	p.LeftAt = nil

	count := len(r.members)
	peakChanged := count > r.session.PeakParticipants
	if peakChanged {
		r.session.PeakParticipants = count
	}
	peak := r.session.PeakParticipants
	out := *p
	r.mu.Unlock()

	if _, err := t.store.UpsertParticipant(ctx, sessionID, userID, displayName, role); err != nil {
		logger.Warn("persist participant failed", zap.String("session", sessionID), zap.String("user", userID), zap.Error(err))
	}
	if peakChanged {
		if err := t.store.UpdatePeakParticipants(ctx, sessionID, peak); err != nil {
			logger.Warn("persist peak failed", zap.String("session", sessionID), zap.Int("peak", peak), zap.Error(err))
		}
	}

	t.announce(ctx, model.TypePresenceJoin, out, count)
	t.record(ctx, model.AttendanceEvent{Kind: model.AttendanceJoin, SessionID: sessionID, UserID: userID, Role: role, Count: count, Peak: peak, At: now.UnixMilli()})
	if peakChanged {
		t.record(ctx, model.AttendanceEvent{Kind: model.AttendancePeak, SessionID: sessionID, Count: count, Peak: peak, At: now.UnixMilli()})
	}
	return &out, nil
}

// Leave soft-removes userID. Leaving twice is a no-op.
func (t *Tracker) Leave(ctx context.Context, sessionID, userID string) error {
	return t.LeaveUnless(ctx, sessionID, userID, nil)
}

// LeaveUnless is Leave, skipped when stay reports true. stay runs in the
// session's membership order, so a Join that started before it is already
// visible to it.
func (t *Tracker) LeaveUnless(ctx context.Context, sessionID, userID string, stay func() bool) error {
	t.mu.RLock()
	r, ok := t.rooms[sessionID]
	t.mu.RUnlock()
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("session", "id", sessionID)
	}
	r.op.Lock()
	defer r.op.Unlock()
	if stay != nil && stay() {
		return nil
	}

	now := t.opts.Clock()
	r.mu.Lock()
	p, ok := r.members[userID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.members, userID)
	left := now
	p.LeftAt = &left
	out := *p
	count := len(r.members)
	peak := r.session.PeakParticipants
	if count == 0 && t.opts.EmptyGrace > 0 && r.session.Status == model.SessionActive {
		t.scheduleGrace(sessionID, r)
	}
	r.mu.Unlock()

	if err := t.store.MarkParticipantLeft(ctx, sessionID, userID); err != nil {
		logger.Warn("persist leave failed", zap.String("session", sessionID), zap.String("user", userID), zap.Error(err))
	}
	t.announce(ctx, model.TypePresenceLeave, out, count)
	t.record(ctx, model.AttendanceEvent{Kind: model.AttendanceLeave, SessionID: sessionID, UserID: userID, Role: out.Role, Count: count, Peak: peak, At: now.UnixMilli()})
	return nil
}

// End closes the session. Active members get a final presence-state with the
// ended status and are then marked left.
func (t *Tracker) End(ctx context.Context, sessionID string) error {
	t.mu.RLock()
	r, ok := t.rooms[sessionID]
	t.mu.RUnlock()
	if !ok {
		// not live here, the store may still know it
		return t.store.EndSession(ctx, sessionID)
	}
	r.op.Lock()
	defer r.op.Unlock()

	now := t.opts.Clock()
	r.mu.Lock()
	if r.session.Status == model.SessionEnded {
		r.mu.Unlock()
		return nil
	}
	r.stopGrace()
	r.session.Status = model.SessionEnded
	r.session.EndedAt = &now
	final := r.snapshotSession()
	r.mu.Unlock()

	if t.announcer != nil {
		env, err := model.NewEnvelope(model.TypePresenceState, final.HostID, model.PresenceStateData{
			Session: final, Participants: []model.Participant{}, Peak: final.PeakParticipants,
		})
		if err == nil {
			env.SessionID = sessionID
			t.announcer.Announce(ctx, sessionID, env)
		}
	}

	r.mu.Lock()
	for id := range r.members {
		delete(r.members, id)
	}
	r.mu.Unlock()

	t.mu.Lock()
	if t.rooms[sessionID] == r {
		delete(t.rooms, sessionID)
	}
	t.mu.Unlock()

	err := t.store.EndSession(ctx, sessionID)
	if err != nil {
		logger.Warn("persist session end failed", zap.String("session", sessionID), zap.Error(err))
	}
	t.record(ctx, model.AttendanceEvent{Kind: model.AttendanceEnd, SessionID: sessionID, Peak: final.PeakParticipants, At: now.UnixMilli()})
	logger.Info("session ended", zap.String("session", sessionID), zap.Int("peak", final.PeakParticipants))
	return nil
}

// ListActive returns the active participants ordered by join time.
func (t *Tracker) ListActive(sessionID string) []model.Participant {
	t.mu.RLock()
	r, ok := t.rooms[sessionID]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	out := make([]model.Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, *p)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (t *Tracker) CurrentCount(sessionID string) int {
	t.mu.RLock()
	r, ok := t.rooms[sessionID]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (t *Tracker) Peak(sessionID string) int {
	t.mu.RLock()
	r, ok := t.rooms[sessionID]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.PeakParticipants
}

// IsActive reports whether userID is currently joined.
func (t *Tracker) IsActive(sessionID, userID string) bool {
	t.mu.RLock()
	r, ok := t.rooms[sessionID]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok = r.members[userID]
	return ok
}

// Session returns a copy of the live session state.
func (t *Tracker) Session(sessionID string) (*model.Session, bool) {
	t.mu.RLock()
	r, ok := t.rooms[sessionID]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.snapshotSession()
	return &s, true
}

// State builds the presence-state payload sent to a connection after hello.
func (t *Tracker) State(sessionID string) (*model.PresenceStateData, bool) {
	s, ok := t.Session(sessionID)
	if !ok {
		return nil, false
	}
	active := t.ListActive(sessionID)
	return &model.PresenceStateData{
		Session:      *s,
		Participants: active,
		Count:        len(active),
		Peak:         s.PeakParticipants,
	}, true
}

// Close stops pending grace timers. Sessions stay as they are in the store.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.rooms {
		r.mu.Lock()
		r.stopGrace()
		r.mu.Unlock()
	}
}

func (r *room) snapshotSession() model.Session {
	s := r.session
	if r.session.EndedAt != nil {
		e := *r.session.EndedAt
		s.EndedAt = &e
	}
	return s
}

// caller holds r.mu
func (r *room) stopGrace() {
	r.graceGen++
	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}
}

// caller holds r.mu
func (t *Tracker) scheduleGrace(sessionID string, r *room) {
	r.stopGrace()
	gen := r.graceGen
	r.graceTimer = time.AfterFunc(t.opts.EmptyGrace, func() {
		r.mu.Lock()
		stale := gen != r.graceGen || len(r.members) > 0 || r.session.Status != model.SessionActive
		r.mu.Unlock()
		if stale {
			return
		}
		logger.Info("ending empty session", zap.String("session", sessionID), zap.Duration("grace", t.opts.EmptyGrace))
		if err := t.End(context.Background(), sessionID); err != nil {
			logger.Warn("end empty session failed", zap.String("session", sessionID), zap.Error(err))
		}
	})
}

func (t *Tracker) announce(ctx context.Context, typ model.EnvelopeType, p model.Participant, count int) {
	if t.announcer == nil {
		return
	}
	env, err := model.NewEnvelope(typ, p.UserID, model.PresenceData{Participant: p, Count: count})
	if err != nil {
		logger.Errorf("encode %s: %v", typ, err)
		return
	}
	env.SessionID = p.SessionID
	t.announcer.Announce(ctx, p.SessionID, env, p.UserID)
}

func (t *Tracker) record(ctx context.Context, ev model.AttendanceEvent) {
	if t.sink != nil {
		t.sink.Record(ctx, ev)
	}
}
