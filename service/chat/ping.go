package chat

import (
	"context"
	"time"

	"PPLive/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// writePump is the only goroutine that writes to c.WS. It drains the send
// queue, pings on a ticker and, once the queue is closed, sends a close frame
// and closes the socket.
func (s *Server) writePump(c *Client, done chan<- struct{}) {
	ticker := time.NewTicker(s.conf.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.WS.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
		_ = c.WS.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.WS.Close()
		close(done)
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.WS.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
			if err := c.WS.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Info("[WS] write err", zap.String("conn", c.ID()), zap.String("user", c.UserID()), zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.WS.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(s.conf.WriteWait)); err != nil {
				logger.Info("[WS] ping err", zap.String("conn", c.ID()), zap.String("user", c.UserID()), zap.Error(err))
				c.Close()
				return
			}
		}
	}
}

// attachPong extends the read deadline and the connection TTL on every pong.
func (s *Server) attachPong(c *Client) {
	_ = c.WS.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	c.WS.SetPongHandler(func(string) error {
		_ = c.WS.SetReadDeadline(time.Now().Add(s.conf.PongWait))
		_ = s.connMgr.Heartbeat(c.ID())
		if s.online != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = s.online.Touch(ctx, c.UserID(), c.ID())
			cancel()
		}
		return nil
	})
}
