package chat

import (
	"sync"
	"time"

	"PPLive/logger"
	"PPLive/module/live/fanout"
	"PPLive/tools/errs"

	"go.uber.org/zap"
)

type ManagerConf struct {
	UnauthTTL   time.Duration    // how long a connection may stay without hello, e.g. 30s
	AuthTTL     time.Duration    // idle TTL after hello, refreshed by every pong
	SweepEvery  time.Duration    // sweeper period
	MaxPerUser  int              // <=0 means unlimited
	EvictOldest bool             // over the limit: evict the oldest, otherwise reject the new one
	Clock       func() time.Time // nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.UnauthTTL <= 0 {
		c.UnauthTTL = 30 * time.Second
	}
	if c.AuthTTL <= 0 {
		c.AuthTTL = 2 * time.Minute
	}
}

// ConnManager indexes the open connections of this process. Only bound
// connections (hello accepted) are visible to the fan-out router.
type ConnManager struct {
	mu     sync.RWMutex
	bySnow map[string]*Client            // connID -> client
	byUser map[string]map[string]*Client // userID -> (connID -> client), bound only

	// connections inside a hello for (user, session), not bound or subscribed yet
	joining map[joinKey]map[string]struct{}

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
	nodeID   string
}

var _ fanout.Directory = (*ConnManager)(nil)

func NewConnManager(conf ManagerConf, nodeID string) *ConnManager {
	conf.norm()
	m := &ConnManager{
		bySnow:  make(map[string]*Client),
		byUser:  make(map[string]map[string]*Client),
		joining: make(map[joinKey]map[string]struct{}),
		conf:    conf,
		nodeID:  nodeID,
		stopCh:  make(chan struct{}),
	}
	go m.sweeper()
	return m
}

func (m *ConnManager) NodeID() string { return m.nodeID }

// Close stops the sweeper and closes every connection.
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	all := make([]*Client, 0, len(m.bySnow))
	for _, c := range m.bySnow {
		all = append(all, c)
	}
	m.bySnow = map[string]*Client{}
	m.byUser = map[string]map[string]*Client{}
	m.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}

// Add registers a fresh connection that has not said hello yet.
func (m *ConnManager) Add(c *Client) error {
	if c == nil || c.ID() == "" || c.UserID() == "" {
		return errs.ErrArgs.WrapMsg("client/connID/user empty")
	}
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bySnow[c.ID()]; exists {
		return errs.ErrArgs.WrapMsg("connID exists", "conn", c.ID())
	}
	c.CreatedAt = now
	c.Heartbeat = now
	c.TTL = m.conf.UnauthTTL
	c.ExpireAt = now.Add(m.conf.UnauthTTL)
	m.bySnow[c.ID()] = c
	return nil
}

// Bind makes a connection visible under its user after hello, switching it to
// AuthTTL and enforcing MaxPerUser. Binding twice is a no-op.
func (m *ConnManager) Bind(connID string) error {
	now := m.conf.Clock()
	var evicted *Client

	m.mu.Lock()
	c, ok := m.bySnow[connID]
	if !ok {
		m.mu.Unlock()
		return errs.ErrRecordNotFound.WrapMsg("conn", "id", connID)
	}
	user := c.UserID()
	if _, bound := m.byUser[user][connID]; !bound {
		if m.conf.MaxPerUser > 0 && len(m.byUser[user]) >= m.conf.MaxPerUser {
			if !m.conf.EvictOldest {
				m.mu.Unlock()
				return errs.ErrArgs.WrapMsg("too many connections", "user", user, "max", m.conf.MaxPerUser)
			}
			evicted = m.evictOldestLocked(user)
		}
		if m.byUser[user] == nil {
			m.byUser[user] = make(map[string]*Client)
		}
		m.byUser[user][connID] = c
	}
	c.TTL = m.conf.AuthTTL
	c.ExpireAt = now.Add(m.conf.AuthTTL)
	c.Heartbeat = now
	m.mu.Unlock()

	if evicted != nil {
		logger.Info("evict oldest connection", zap.String("user", user), zap.String("conn", evicted.ID()))
		evicted.Close()
	}
	return nil
}

// caller holds m.mu
func (m *ConnManager) evictOldestLocked(user string) *Client {
	var oldest *Client
	for _, c := range m.byUser[user] {
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	if oldest != nil {
		m.removeLocked(oldest)
	}
	return oldest
}

// caller holds m.mu
func (m *ConnManager) removeLocked(c *Client) {
	delete(m.bySnow, c.ID())
	if mm := m.byUser[c.UserID()]; mm != nil {
		delete(mm, c.ID())
		if len(mm) == 0 {
			delete(m.byUser, c.UserID())
		}
	}
}

// Heartbeat extends the TTL of a connection, called from the pong handler.
func (m *ConnManager) Heartbeat(connID string) error {
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.bySnow[connID]
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("conn", "id", connID)
	}
	c.Heartbeat = now
	c.ExpireAt = now.Add(c.TTL)
	return nil
}

// Remove unregisters and closes the connection. It reports whether it was still registered.
func (m *ConnManager) Remove(connID string) bool {
	m.mu.Lock()
	c, ok := m.bySnow[connID]
	if ok {
		m.removeLocked(c)
	}
	m.mu.Unlock()
	if ok {
		c.Close()
	}
	return ok
}

func (m *ConnManager) Get(connID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.bySnow[connID]
	return c, ok
}

// UserConns lists the bound connections of a user.
func (m *ConnManager) UserConns(user string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Client, 0, len(m.byUser[user]))
	for _, c := range m.byUser[user] {
		out = append(out, c)
	}
	return out
}

// ConnsOf implements fanout.Directory.
func (m *ConnManager) ConnsOf(user string) []fanout.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]fanout.Conn, 0, len(m.byUser[user]))
	for _, c := range m.byUser[user] {
		out = append(out, c)
	}
	return out
}

type joinKey struct{ user, session string }

// BeginJoin marks connID as joining sessionID until done is called. A joining
// connection counts for SubscribedElsewhere, so closing an older connection
// of the same user does not drop the user from the session meanwhile.
func (m *ConnManager) BeginJoin(user, sessionID, connID string) (done func()) {
	k := joinKey{user, sessionID}
	m.mu.Lock()
	set, ok := m.joining[k]
	if !ok {
		set = make(map[string]struct{})
		m.joining[k] = set
	}
	set[connID] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.joining[k], connID)
			if len(m.joining[k]) == 0 {
				delete(m.joining, k)
			}
			m.mu.Unlock()
		})
	}
}

// SubscribedElsewhere reports whether user has another bound connection on
// sessionID, or another connection in the middle of joining it.
func (m *ConnManager) SubscribedElsewhere(user, sessionID, exceptConn string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, c := range m.byUser[user] {
		if id != exceptConn && c.Subscribed(sessionID) {
			return true
		}
	}
	for id := range m.joining[joinKey{user, sessionID}] {
		if id != exceptConn {
			return true
		}
	}
	return false
}

func (m *ConnManager) Count() (total, users int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySnow), len(m.byUser)
}

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			m.sweepOnce(m.conf.Clock())
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) int {
	var expired []*Client

	m.mu.Lock()
	for _, c := range m.bySnow {
		if now.After(c.ExpireAt) {
			expired = append(expired, c)
		}
	}
	for _, c := range expired {
		m.removeLocked(c)
	}
	m.mu.Unlock()

	// close outside the lock
	for _, c := range expired {
		logger.Info("sweep expired connection", zap.String("conn", c.ID()), zap.String("user", c.UserID()), zap.Bool("hello", c.Greeted()))
		c.Close()
	}
	return len(expired)
}
