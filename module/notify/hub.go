package notify

import (
	"encoding/json"
	"sync"

	"PPLive/logger"
	"PPLive/module/live/model"
	"PPLive/tools/ids"

	"go.uber.org/zap"
)

// Subscriber is one open server-push channel of a user, e.g. an SSE stream.
type Subscriber struct {
	ID     string
	UserID string
	C      chan []byte

	once sync.Once
}

func (s *Subscriber) close() { s.once.Do(func() { close(s.C) }) }

// PushHub indexes open push channels by user. Pushing never blocks; a full
// channel loses the notification, which stays readable from the store.
type PushHub struct {
	mu    sync.RWMutex
	subs  map[string]map[string]*Subscriber
	queue int
}

func NewPushHub(queue int) *PushHub {
	if queue <= 0 {
		queue = 16
	}
	return &PushHub{subs: make(map[string]map[string]*Subscriber), queue: queue}
}

func (h *PushHub) Subscribe(userID string) *Subscriber {
	s := &Subscriber{ID: ids.WithPrefix("push"), UserID: userID, C: make(chan []byte, h.queue)}
	h.mu.Lock()
	m, ok := h.subs[userID]
	if !ok {
		m = make(map[string]*Subscriber)
		h.subs[userID] = m
	}
	m[s.ID] = s
	h.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call twice.
func (h *PushHub) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}
	h.mu.Lock()
	if m, ok := h.subs[s.UserID]; ok {
		delete(m, s.ID)
		if len(m) == 0 {
			delete(h.subs, s.UserID)
		}
	}
	h.mu.Unlock()
	s.close()
}

// Push sends n to every open channel of its user and returns how many took it.
func (h *PushHub) Push(n *model.Notification) (delivered, dropped int) {
	b, err := json.Marshal(n)
	if err != nil {
		logger.Error("encode notification", zap.String("id", n.ID), zap.Error(err))
		return 0, 0
	}
	// hold the read lock so Unsubscribe cannot close a channel mid-send
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs[n.UserID] {
		select {
		case s.C <- b:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}

func (h *PushHub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Close drops every subscriber.
func (h *PushHub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]map[string]*Subscriber)
	h.mu.Unlock()
	for _, m := range subs {
		for _, s := range m {
			s.close()
		}
	}
}
