package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"PPLive/global"
	"PPLive/logger"
	"PPLive/middleware"
	midsec "PPLive/middleware/security"
	"PPLive/module/live/model"
	"PPLive/module/live/repo"
	"PPLive/tools/errs"
	"PPLive/tools/ids"
	jwtsec "PPLive/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const sseKeepAlive = 25 * time.Second

func (g *Gateway) routes() {
	rs := middleware.Routes{R: g.engine, Auth: g.auth}
	auth := middleware.RouteOpt{IsAuth: true}

	rs.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, global.Sucess("ok")) }, middleware.RouteOpt{})
	rs.GET("/ws", g.ws.HandleWS, auth)

	rs.POST("/sessions", g.openSession, auth)
	rs.POST("/sessions/:id/end", g.endSession, auth)
	rs.GET("/sessions/:id/participants", g.participants, auth)
	rs.GET("/sessions/:id/messages", g.messages, auth)

	rs.POST("/notifications", g.publishNotification, auth)
	rs.GET("/notifications", g.unread, auth)
	rs.POST("/notifications/:id/read", g.readNotification, auth)
	rs.GET("/notifications/stream", g.stream, auth)
}

func fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(global.Fail(err))
}

// identity is set by the auth middleware on every authenticated route.
func identity(c *gin.Context) *jwtsec.Identity {
	id, _ := midsec.IdentityFrom(c)
	return id
}

type openSessionReq struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// openSession makes the caller the host.
func (g *Gateway) openSession(c *gin.Context) {
	var req openSessionReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	if req.ID == "" {
		req.ID = ids.WithPrefix("live")
	}
	s, err := g.tracker.Open(c.Request.Context(), req.ID, identity(c).UserID, req.Title)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, global.Sucess(s))
}

// endSession is allowed to the host only.
func (g *Gateway) endSession(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	s, ok := g.tracker.Session(id)
	if !ok {
		stored, err := repo.Bounded(g.store, g.cfg.StoreTimeout).GetSession(ctx, id)
		if err != nil {
			fail(c, err)
			return
		}
		s = stored
	}
	if s.HostID != identity(c).UserID {
		fail(c, errs.ErrNoPermission.WrapMsg("only the host may end a session", "session", id))
		return
	}
	if err := g.tracker.End(ctx, id); err != nil {
		fail(c, err)
		return
	}
	g.router.Forget(id)
	c.JSON(http.StatusOK, global.Sucess(nil))
}

// participants reports live presence; an ended or idle session reports its
// stored peak and nobody present.
func (g *Gateway) participants(c *gin.Context) {
	id := c.Param("id")
	if st, ok := g.tracker.State(id); ok {
		c.JSON(http.StatusOK, global.Sucess(st))
		return
	}
	s, err := repo.Bounded(g.store, g.cfg.StoreTimeout).GetSession(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, global.Sucess(model.PresenceStateData{
		Session:      *s,
		Participants: []model.Participant{},
		Peak:         s.PeakParticipants,
	}))
}

func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errs.ErrArgs.WrapMsg("bad limit", "limit", raw)
	}
	return n, nil
}

// messages is the pull API for history. A store failure degrades to an empty page.
func (g *Gateway) messages(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		fail(c, err)
		return
	}
	id := c.Param("id")
	msgs, err := repo.Bounded(g.store, g.cfg.StoreTimeout).ListRecentMessages(c.Request.Context(), id, limit)
	if err != nil {
		if !errs.Is(err, errs.ErrPersistence) {
			fail(c, err)
			return
		}
		logger.Warn("list messages degraded", zap.String("session", id), zap.Error(err))
		msgs = []*model.Message{}
	}
	c.JSON(http.StatusOK, global.Sucess(msgs))
}

type publishReq struct {
	UserIDs      []string                `json:"userIds"`
	Notification model.NotificationInput `json:"notification"`
}

func (g *Gateway) publishNotification(c *gin.Context) {
	var req publishReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	if req.Notification.ActorID == "" {
		req.Notification.ActorID = identity(c).UserID
	}
	res, err := g.notifier.Publish(c.Request.Context(), req.UserIDs, req.Notification)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, global.Sucess(res))
}

func (g *Gateway) unread(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		fail(c, err)
		return
	}
	list, err := repo.BoundedNotifications(g.notes, g.cfg.StoreTimeout).ListUnread(c.Request.Context(), identity(c).UserID, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, global.Sucess(list))
}

func (g *Gateway) readNotification(c *gin.Context) {
	err := repo.BoundedNotifications(g.notes, g.cfg.StoreTimeout).MarkNotificationRead(c.Request.Context(), identity(c).UserID, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, global.Sucess(nil))
}

// stream pushes the caller's new notifications as server-sent events until
// the client goes away.
func (g *Gateway) stream(c *gin.Context) {
	sub := g.notifier.Hub().Subscribe(identity(c).UserID)
	defer g.notifier.Hub().Unsubscribe(sub)

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.SSEvent("ready", sub.ID)
	c.Writer.Flush()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case b, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent("notification", json.RawMessage(b))
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UnixMilli())
			return true
		}
	})
}
