package chat

import (
	"net"
	"sync"
	"time"

	"PPLive/module/live/fanout"

	"github.com/gorilla/websocket"
)

// Client is one WebSocket connection. A user may hold several, one per
// device or tab; each has its own bounded send queue drained by a single
// writer goroutine.
type Client struct {
	connID      string
	userID      string
	DisplayName string

	WS     *websocket.Conn
	Remote net.Addr

	send chan []byte

	mu       sync.Mutex
	sessions map[string]struct{}
	closed   bool
	hello    bool

	// guarded by ConnManager.mu
	CreatedAt time.Time
	Heartbeat time.Time
	TTL       time.Duration
	ExpireAt  time.Time
}

var _ fanout.Conn = (*Client)(nil)

func NewClient(connID, userID string, ws *websocket.Conn, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	c := &Client{
		connID:   connID,
		userID:   userID,
		WS:       ws,
		send:     make(chan []byte, sendQueueSize),
		sessions: make(map[string]struct{}),
	}
	if ws != nil {
		c.Remote = ws.RemoteAddr()
	}
	return c
}

func (c *Client) ID() string     { return c.connID }
func (c *Client) UserID() string { return c.userID }

// Enqueue never blocks. It returns false when the queue is full or the
// client is closed; the caller counts that as a drop.
func (c *Client) Enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Client) Subscribe(sessionID string) {
	c.mu.Lock()
	c.sessions[sessionID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) Unsubscribe(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

func (c *Client) Subscribed(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[sessionID]
	return ok
}

func (c *Client) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sessions))
	for s := range c.sessions {
		out = append(out, s)
	}
	return out
}

func (c *Client) MarkGreeted() {
	c.mu.Lock()
	c.hello = true
	c.mu.Unlock()
}

// Greeted reports whether a hello has been accepted on this connection.
func (c *Client) Greeted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hello
}

// Close stops the writer; it sends a close frame and closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
