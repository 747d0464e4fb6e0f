// Package gateway assembles the live presence and fan-out node: stores,
// tracker, router, WebSocket server, notification publisher and the HTTP and
// gRPC listeners in front of them.
package gateway

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"PPLive/global/config"
	"PPLive/logger"
	"PPLive/middleware"
	midsec "PPLive/middleware/security"
	"PPLive/module/live/fanout"
	"PPLive/module/live/presence"
	"PPLive/module/live/repo"
	"PPLive/module/notify"
	"PPLive/service/chat"
	"PPLive/service/chat/handlers"
	"PPLive/tools/errs"
	jwtsec "PPLive/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// Deps are the pluggable collaborators. Nil stores fall back to one shared
// in-memory store; nil optional parts are simply not used.
type Deps struct {
	Store         repo.Store
	Notifications repo.NotificationStore
	Online        chat.OnlineIndex
	Attendance    presence.AttendanceSink
}

type Gateway struct {
	cfg config.AppConfig

	store   repo.Store
	notes   repo.NotificationStore
	tracker *presence.Tracker
	router  *fanout.Router
	conns   *chat.ConnManager
	ws      *chat.Server

	hub      *notify.PushHub
	notifier *notify.Publisher

	auth   *midsec.Options
	chain  *middleware.Chain
	engine *gin.Engine

	health  *health.Server
	grpcMu  sync.Mutex
	grpc    *grpc.Server
	closers []func() error
}

func New(cfg config.AppConfig, deps Deps) *Gateway {
	if deps.Store == nil || deps.Notifications == nil {
		mem := repo.NewMemory()
		if deps.Store == nil {
			deps.Store = mem
		}
		if deps.Notifications == nil {
			deps.Notifications = mem
		}
	}

	g := &Gateway{cfg: cfg, store: deps.Store, notes: deps.Notifications}

	g.tracker = presence.New(deps.Store, presence.Options{
		StoreTimeout: cfg.StoreTimeout,
		EmptyGrace:   cfg.EmptyGrace,
	})
	g.conns = chat.NewConnManager(chat.ManagerConf{
		UnauthTTL:   cfg.UnauthTTL,
		AuthTTL:     cfg.AuthTTL,
		MaxPerUser:  cfg.MaxPerUser,
		EvictOldest: true,
	}, cfg.NodeName)
	g.router = fanout.New(g.tracker, g.conns, deps.Store, fanout.Options{StoreTimeout: cfg.StoreTimeout})
	g.tracker.SetAnnouncer(g.router)
	if deps.Attendance != nil {
		g.tracker.SetAttendanceSink(deps.Attendance)
	}

	g.ws = chat.NewServer(chat.ServerConf{
		SendQueue:       cfg.SendQueue,
		WriteWait:       cfg.WriteWait,
		PingInterval:    cfg.PingInterval,
		PongWait:        cfg.PongWait,
		MaxMessageBytes: cfg.MaxMessageBytes,
		// origins are checked by the middleware chain before the upgrade
		CheckOrigin: func(*http.Request) bool { return true },
	}, g.conns, g.tracker, g.router)
	if deps.Online != nil {
		g.ws.SetOnlineIndex(deps.Online)
	}
	handlers.RegisterDefault(g.ws)

	g.hub = notify.NewPushHub(cfg.PushQueue)
	g.notifier = notify.New(deps.Notifications, g.hub, notify.Options{
		Workers:      cfg.NotifyWorkers,
		StoreTimeout: cfg.StoreTimeout,
	})

	jwtOpts := jwtsec.DefaultOptions([]byte(cfg.JWTSecret))
	if cfg.TokenTTL > 0 {
		jwtOpts.TTL = cfg.TokenTTL
	}
	g.auth = midsec.DefaultOptions(nil)
	g.auth.JWT = jwtOpts

	g.chain = middleware.NewChain()
	g.chain.Add(middleware.Origin(cfg.AllowedOrigins))
	g.engine = gin.New()
	g.engine.Use(gin.Recovery(), g.chain.Use())
	g.routes()

	g.health = health.NewServer()
	return g
}

func (g *Gateway) Handler() http.Handler { return g.engine }
func (g *Gateway) Tracker() *presence.Tracker { return g.tracker }
func (g *Gateway) Router() *fanout.Router { return g.router }
func (g *Gateway) Notifier() *notify.Publisher { return g.notifier }
func (g *Gateway) Conns() *chat.ConnManager { return g.conns }
func (g *Gateway) AuthOptions() jwtsec.Options { return g.auth.JWT }
func (g *Gateway) Middleware() *middleware.Chain { return g.chain }

// addCloser registers infrastructure to release on Close, in reverse order.
func (g *Gateway) addCloser(fn func() error) { g.closers = append(g.closers, fn) }

// Run serves HTTP and gRPC until ctx is done, then shuts both down.
func (g *Gateway) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", g.cfg.GRPCAddr)
	if err != nil {
		return errs.WrapMsg(err, "grpc listen", "addr", g.cfg.GRPCAddr)
	}
	grpcErr := make(chan error, 1)
	go func() { grpcErr <- g.ServeGRPC(lis) }()

	srv := &http.Server{Addr: g.cfg.HTTPAddr, Handler: g.engine, ReadHeaderTimeout: 10 * time.Second}
	httpErr := make(chan error, 1)
	go func() {
		logger.Info("[HTTP] listening", zap.String("addr", g.cfg.HTTPAddr))
		httpErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err = <-httpErr:
		if err == http.ErrServerClosed {
			err = nil
		}
	case err = <-grpcErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("[HTTP] shutdown", zap.Error(serr))
	}
	g.StopGRPC()
	if err != nil {
		return errs.WrapMsg(err, "gateway stopped")
	}
	return nil
}

// Close stops the core services, then the infrastructure they used.
func (g *Gateway) Close() {
	g.StopGRPC()
	g.notifier.Close()
	g.hub.Close()
	g.tracker.Close()
	g.conns.Close()
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](); err != nil {
			logger.Warn("close infra", zap.Error(err))
		}
	}
	g.closers = nil
}
