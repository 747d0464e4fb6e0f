package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPLive/module/live/model"
	"PPLive/tools/errs"
	"PPLive/tools/ids"
)

// Memory is an in-process Store and NotificationStore. It backs tests and
// single node deployments without a database.
type Memory struct {
	mu sync.RWMutex

	sessions     map[string]*model.Session
	participants map[string]map[string]*model.Participant // session -> user
	messages     map[string][]*model.Message              // session -> ordered
	reactions    map[string][]*model.Reaction
	reads        map[string]map[string]*model.ReadMarker
	notes        map[string][]*model.Notification // user -> ordered

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sessions:     make(map[string]*model.Session),
		participants: make(map[string]map[string]*model.Participant),
		messages:     make(map[string][]*model.Message),
		reactions:    make(map[string][]*model.Reaction),
		reads:        make(map[string]map[string]*model.ReadMarker),
		notes:        make(map[string][]*model.Notification),
		now:          time.Now,
	}
}

var (
	_ Store             = (*Memory)(nil)
	_ NotificationStore = (*Memory)(nil)
)

func (m *Memory) CreateSession(_ context.Context, id, hostID, title string) (*model.Session, error) {
	if id == "" {
		return nil, errs.ErrArgs.WrapMsg("empty session id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && !s.Ended() {
		cp := *s
		return &cp, nil
	}
	s := &model.Session{
		ID:        id,
		HostID:    hostID,
		Title:     title,
		Status:    model.SessionActive,
		CreatedAt: m.now(),
	}
	m.sessions[id] = s
	cp := *s
	return &cp, nil
}

func (m *Memory) EndSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("session", "id", id)
	}
	if s.Ended() {
		return nil
	}
	now := m.now()
	s.Status = model.SessionEnded
	s.EndedAt = &now
	for _, p := range m.participants[id] {
		if p.LeftAt == nil {
			p.LeftAt = &now
		}
	}
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("session", "id", id)
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) UpsertParticipant(_ context.Context, sessionID, userID, displayName string, role model.Role) (*model.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("session", "id", sessionID)
	}
	byUser, ok := m.participants[sessionID]
	if !ok {
		byUser = make(map[string]*model.Participant)
		m.participants[sessionID] = byUser
	}
	p, ok := byUser[userID]
	if !ok {
		p = &model.Participant{SessionID: sessionID, UserID: userID}
		byUser[userID] = p
	}
	p.DisplayName = displayName
	p.Role = role
	p.JoinedAt = m.now()
	p.LeftAt = nil
	cp := *p
	return &cp, nil
}

func (m *Memory) MarkParticipantLeft(_ context.Context, sessionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[sessionID][userID]
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("participant", "session", sessionID, "user", userID)
	}
	if p.LeftAt == nil {
		now := m.now()
		p.LeftAt = &now
	}
	return nil
}

func (m *Memory) ListActiveParticipants(_ context.Context, sessionID string) ([]*model.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Participant, 0, len(m.participants[sessionID]))
	for _, p := range m.participants[sessionID] {
		if p.Active() {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *Memory) UpdatePeakParticipants(_ context.Context, sessionID string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("session", "id", sessionID)
	}
	if count > s.PeakParticipants {
		s.PeakParticipants = count
	}
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, sessionID, authorID, content string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("session", "id", sessionID)
	}
	msg := &model.Message{
		ID:        ids.GenerateString(),
		SessionID: sessionID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: m.now(),
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	cp := *msg
	return &cp, nil
}

func (m *Memory) AppendReaction(_ context.Context, sessionID, authorID, emoji string) (*model.Reaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("session", "id", sessionID)
	}
	r := &model.Reaction{
		ID:        ids.GenerateString(),
		SessionID: sessionID,
		AuthorID:  authorID,
		Emoji:     emoji,
		CreatedAt: m.now(),
	}
	m.reactions[sessionID] = append(m.reactions[sessionID], r)
	cp := *r
	return &cp, nil
}

func (m *Memory) ListRecentMessages(_ context.Context, sessionID string, limit int) ([]*model.Message, error) {
	limit = ClampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.messages[sessionID]
	out := make([]*model.Message, 0, limit)
	// walk backwards so deleted messages don't shrink the page
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if all[i].DeletedAt != nil {
			continue
		}
		cp := *all[i]
		out = append(out, &cp)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (m *Memory) DeleteMessage(_ context.Context, sessionID, messageID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages[sessionID] {
		if msg.ID != messageID {
			continue
		}
		if msg.AuthorID != userID {
			return errs.ErrNoPermission.WrapMsg("not the author", "message", messageID)
		}
		if msg.DeletedAt == nil {
			now := m.now()
			msg.DeletedAt = &now
		}
		return nil
	}
	return errs.ErrRecordNotFound.WrapMsg("message", "session", sessionID, "id", messageID)
}

func (m *Memory) MarkRead(_ context.Context, sessionID, userID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser, ok := m.reads[sessionID]
	if !ok {
		byUser = make(map[string]*model.ReadMarker)
		m.reads[sessionID] = byUser
	}
	byUser[userID] = &model.ReadMarker{SessionID: sessionID, UserID: userID, MessageID: messageID, ReadAt: m.now()}
	return nil
}

// ReadMarker is not part of Store; tests and HTTP debug use it.
func (m *Memory) ReadMarker(sessionID, userID string) (*model.ReadMarker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reads[sessionID][userID]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

func (m *Memory) CreateNotification(_ context.Context, userID, typ, title, content, url, actorID string) (string, error) {
	if userID == "" {
		return "", errs.ErrArgs.WrapMsg("empty user id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := &model.Notification{
		ID:        ids.GenerateString(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Content:   content,
		URL:       url,
		ActorID:   actorID,
		CreatedAt: m.now(),
	}
	m.notes[userID] = append(m.notes[userID], n)
	return n.ID, nil
}

// ListUnread returns newest first.
func (m *Memory) ListUnread(_ context.Context, userID string, limit int) ([]*model.Notification, error) {
	limit = ClampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.notes[userID]
	out := make([]*model.Notification, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if all[i].ReadAt == nil {
			cp := *all[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) MarkNotificationRead(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notes[userID] {
		if n.ID == id {
			if n.ReadAt == nil {
				now := m.now()
				n.ReadAt = &now
			}
			return nil
		}
	}
	return errs.ErrRecordNotFound.WrapMsg("notification", "user", userID, "id", id)
}
