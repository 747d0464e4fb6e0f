package chat

import (
	"context"
	"net/http"
	"time"

	"PPLive/module/live/fanout"
	"PPLive/module/live/model"

	"github.com/gorilla/websocket"
)

// Presence is the slice of the presence tracker the gateway needs.
type Presence interface {
	Join(ctx context.Context, sessionID, userID, displayName string, role model.Role) (*model.Participant, error)
	Leave(ctx context.Context, sessionID, userID string) error
	LeaveUnless(ctx context.Context, sessionID, userID string, stay func() bool) error
	State(sessionID string) (*model.PresenceStateData, bool)
}

// OnlineIndex records which node holds a user's connections. Optional.
type OnlineIndex interface {
	Online(ctx context.Context, userID, connID string) error
	Touch(ctx context.Context, userID, connID string) error
	Offline(ctx context.Context, userID, connID string) error
}

type ServerConf struct {
	SendQueue       int
	WriteWait       time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
	CheckOrigin     func(r *http.Request) bool
}

func (c *ServerConf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(r *http.Request) bool { return true }
	}
}

// Server is the WebSocket gateway: it owns the connections and hands
// inbound envelopes to the dispatcher.
type Server struct {
	conf     ServerConf
	connMgr  *ConnManager
	disp     *Dispatcher
	presence Presence
	router   fanout.Publisher
	online   OnlineIndex
	upgrader websocket.Upgrader
}

func NewServer(conf ServerConf, conn *ConnManager, presence Presence, router fanout.Publisher) *Server {
	conf.norm()
	return &Server{
		conf:     conf,
		connMgr:  conn,
		disp:     NewDispatcher(),
		presence: presence,
		router:   router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     conf.CheckOrigin,
		},
	}
}

func (s *Server) SetOnlineIndex(o OnlineIndex) { s.online = o }

func (s *Server) ConnMgr() *ConnManager { return s.connMgr }
func (s *Server) Disp() *Dispatcher { return s.disp }
func (s *Server) Presence() Presence { return s.presence }
func (s *Server) Router() fanout.Publisher { return s.router }
func (s *Server) Online() OnlineIndex { return s.online }
func (s *Server) Conf() ServerConf { return s.conf }
