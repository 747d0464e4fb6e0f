package chat

import (
	"context"
	"net"
	"time"

	"PPLive/logger"
	midsec "PPLive/middleware/security"
	"PPLive/module/live/model"
	"PPLive/tools/errs"
	"PPLive/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandleWS upgrades an authenticated request. The identity comes from the
// auth middleware; the first envelope must be hello, the server answers with
// presence-state and only then accepts other traffic.
func (s *Server) HandleWS(c *gin.Context) {
	id, ok := midsec.IdentityFrom(c)
	if !ok {
		c.AbortWithStatus(401)
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}
	ws.SetReadLimit(s.conf.MaxMessageBytes)

	client := NewClient(ids.WithPrefix("conn"), id.UserID, ws, s.conf.SendQueue)
	client.DisplayName = id.DisplayName
	if err := s.connMgr.Add(client); err != nil {
		logger.Warn("[HandleWS] register conn", zap.Error(err))
		_ = ws.Close()
		return
	}
	done := make(chan struct{})
	go s.writePump(client, done)
	s.attachPong(client)

	logger.Info("[WS] connected", zap.String("conn", client.ID()), zap.String("user", client.UserID()), zap.Stringer("remote", client.Remote))
	s.readLoop(c.Request.Context(), client)
	s.cleanup(client)
	<-done
}

func (s *Server) readLoop(reqCtx context.Context, c *Client) {
	for {
		mt, data, rerr := c.WS.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed conn=%s err=%v", c.ID(), rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout conn=%s err=%v", c.ID(), rerr)
			} else {
				logger.Infof("[WS] read err conn=%s err=%v", c.ID(), rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		env, perr := ParseFrame(data)
		if perr != nil {
			logger.Warn("[WS] bad frame", zap.String("conn", c.ID()), zap.Error(perr), zap.ByteString("sample", sample(data)), zap.Int("len", len(data)))
			SendError(c, nil, perr)
			continue
		}
		// identity is the token's, never the client's claim
		env.UserID = c.UserID()

		if !c.Greeted() && env.Type != model.TypeHello {
			SendError(c, env, errs.ErrArgs.WrapMsg("hello required", "type", env.Type))
			continue
		}

		ctx := &ChatContext{Ctx: context.WithoutCancel(reqCtx), S: s}
		if err := s.disp.Dispatch(ctx, c, env); err != nil {
			logger.Info("[WS] handler error", zap.String("conn", c.ID()), zap.String("type", string(env.Type)), zap.Error(err))
			SendError(c, env, err)
		}
	}
}

// cleanup unregisters the connection and leaves every session the user is no
// longer present in through another connection.
func (s *Server) cleanup(c *Client) {
	s.connMgr.Remove(c.ID())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, sessionID := range c.Sessions() {
		stay := func() bool { return s.connMgr.SubscribedElsewhere(c.UserID(), sessionID, c.ID()) }
		if err := s.presence.LeaveUnless(ctx, sessionID, c.UserID(), stay); err != nil && !errs.Is(err, errs.ErrRecordNotFound) {
			logger.Warn("[WS] leave on close", zap.String("session", sessionID), zap.String("user", c.UserID()), zap.Error(err))
		}
	}
	if s.online != nil {
		if err := s.online.Offline(ctx, c.UserID(), c.ID()); err != nil {
			logger.Warn("[WS] offline", zap.String("user", c.UserID()), zap.Error(err))
		}
	}
	logger.Info("[WS] closed", zap.String("conn", c.ID()), zap.String("user", c.UserID()))
}
