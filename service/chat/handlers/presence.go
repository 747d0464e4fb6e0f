package handlers

import (
	"PPLive/module/live/model"
	"PPLive/service/chat"
	"PPLive/tools/errs"
)

// LeaveHandler handles a client presence-leave. The user stays present if
// another of its connections is still on the session.
type LeaveHandler struct{}

func NewLeaveHandler() chat.Handler { return &LeaveHandler{} }

func (h *LeaveHandler) Type() model.EnvelopeType { return model.TypePresenceLeave }

func (h *LeaveHandler) Handle(ctx *chat.ChatContext, c *chat.Client, env *model.Envelope) error {
	if env.SessionID == "" {
		return errs.ErrArgs.WrapMsg("presence-leave without sessionId")
	}
	if !c.Subscribed(env.SessionID) {
		return nil
	}
	c.Unsubscribe(env.SessionID)
	return ctx.S.Presence().LeaveUnless(ctx.Ctx, env.SessionID, c.UserID(), func() bool {
		return ctx.S.ConnMgr().SubscribedElsewhere(c.UserID(), env.SessionID, c.ID())
	})
}

// RegisterDefault wires every envelope type a client may send.
func RegisterDefault(s *chat.Server) {
	d := s.Disp()
	d.Register(NewHelloHandler())
	d.Register(NewJoinHandler())
	d.Register(NewLeaveHandler())
	for _, t := range []model.EnvelopeType{
		model.TypeMessage, model.TypeTyping, model.TypeReaction, model.TypeRead, model.TypeDelete,
	} {
		d.Register(NewEventHandler(t))
	}
}
