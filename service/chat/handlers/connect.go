package handlers

import (
	"PPLive/logger"
	"PPLive/module/live/model"
	"PPLive/service/chat"
	"PPLive/tools/errs"

	"go.uber.org/zap"
)

// HelloHandler joins the connection's user to a session and replies with
// presence-state. A connection may say hello to several sessions.
type HelloHandler struct{ typ model.EnvelopeType }

func NewHelloHandler() chat.Handler { return &HelloHandler{typ: model.TypeHello} }

// NewJoinHandler handles a client presence-join the same way as hello.
func NewJoinHandler() chat.Handler { return &HelloHandler{typ: model.TypePresenceJoin} }

func (h *HelloHandler) Type() model.EnvelopeType { return h.typ }

func (h *HelloHandler) Handle(ctx *chat.ChatContext, c *chat.Client, env *model.Envelope) error {
	var hello model.HelloData
	if len(env.Data) > 0 {
		if err := env.Decode(&hello); err != nil {
			return err
		}
	}
	if hello.SessionID == "" {
		hello.SessionID = env.SessionID
	}
	if hello.SessionID == "" {
		return errs.ErrArgs.WrapMsg("hello without sessionId")
	}
	name := hello.DisplayName
	if name == "" {
		name = c.DisplayName
	}

	s := ctx.S
	joined := s.ConnMgr().BeginJoin(c.UserID(), hello.SessionID, c.ID())
	defer joined()
	if _, err := s.Presence().Join(ctx.Ctx, hello.SessionID, c.UserID(), name, model.ParseRole(hello.Role)); err != nil {
		return err
	}
	state, ok := s.Presence().State(hello.SessionID)
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("session", "id", hello.SessionID)
	}
	reply, err := model.NewEnvelope(model.TypePresenceState, c.UserID(), state)
	if err != nil {
		return err
	}
	reply.SessionID = hello.SessionID
	reply.TempID = env.TempID

	// state first, then subscribe: nothing published later can overtake it
	chat.SendEnvelope(c, reply)
	c.Subscribe(hello.SessionID)
	if err := s.ConnMgr().Bind(c.ID()); err != nil {
		c.Unsubscribe(hello.SessionID)
		_ = s.Presence().LeaveUnless(ctx.Ctx, hello.SessionID, c.UserID(), func() bool {
			return s.ConnMgr().SubscribedElsewhere(c.UserID(), hello.SessionID, c.ID())
		})
		return err
	}
	c.MarkGreeted()
	if o := s.Online(); o != nil {
		if err := o.Online(ctx.Ctx, c.UserID(), c.ID()); err != nil {
			logger.Warn("online index", zap.String("user", c.UserID()), zap.Error(err))
		}
	}
	logger.Info("hello", zap.String("conn", c.ID()), zap.String("user", c.UserID()), zap.String("session", hello.SessionID), zap.Int("count", state.Count))
	return nil
}
