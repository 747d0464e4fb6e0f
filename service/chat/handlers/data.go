package handlers

import (
	"PPLive/module/live/fanout"
	"PPLive/module/live/model"
	"PPLive/service/chat"
	"PPLive/tools/errs"
)

// EventHandler publishes a client event through the router.
type EventHandler struct{ typ model.EnvelopeType }

func NewEventHandler(t model.EnvelopeType) chat.Handler { return &EventHandler{typ: t} }

func (h *EventHandler) Type() model.EnvelopeType { return h.typ }

func (h *EventHandler) Handle(ctx *chat.ChatContext, c *chat.Client, env *model.Envelope) error {
	var target fanout.Target
	switch {
	case len(env.Recipients) > 0:
		if env.SessionID != "" && !c.Subscribed(env.SessionID) {
			return errs.ErrArgs.WrapMsg("not subscribed", "session", env.SessionID)
		}
		target = fanout.Target{SessionID: env.SessionID, Recipients: env.Recipients}
	case env.SessionID == "":
		return errs.ErrArgs.WrapMsg("event without sessionId", "type", env.Type)
	case !c.Subscribed(env.SessionID):
		return errs.ErrArgs.WrapMsg("not subscribed", "session", env.SessionID)
	case env.Type == model.TypeTyping:
		target = fanout.Session(env.SessionID, c.UserID())
	default:
		// the sender gets its own echo and reconciles on it
		target = fanout.Session(env.SessionID)
	}
	_, err := ctx.S.Router().Publish(ctx.Ctx, env, target)
	return err
}
