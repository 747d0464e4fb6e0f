package chat

import (
	"context"

	"PPLive/logger"
	"PPLive/module/live/model"

	"go.uber.org/zap"
)

// ChatContext is handed to every handler.
type ChatContext struct {
	Ctx context.Context
	S   *Server
}

type Handler interface {
	Type() model.EnvelopeType
	Handle(ctx *ChatContext, c *Client, env *model.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	T  model.EnvelopeType
	Fn func(ctx *ChatContext, c *Client, env *model.Envelope) error
}

func (h HandlerFunc) Type() model.EnvelopeType { return h.T }
func (h HandlerFunc) Handle(ctx *ChatContext, c *Client, env *model.Envelope) error {
	return h.Fn(ctx, c, env)
}

// Dispatcher routes an inbound envelope to the one handler registered for its type.
type Dispatcher struct {
	handlers map[model.EnvelopeType]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[model.EnvelopeType]Handler)}
}

// Register replaces any handler already registered for the same type.
func (d *Dispatcher) Register(h Handler) { d.handlers[h.Type()] = h }

func (d *Dispatcher) GetHandler(t model.EnvelopeType) Handler {
	h, ok := d.handlers[t]
	if !ok {
		return nil
	}
	return h
}

// Dispatch runs the handler for env. Unknown types are logged and dropped so
// that newer clients can talk to older servers.
func (d *Dispatcher) Dispatch(ctx *ChatContext, c *Client, env *model.Envelope) error {
	h := d.GetHandler(env.Type)
	if h == nil {
		logger.Warn("no handler, envelope dropped", zap.String("type", string(env.Type)), zap.String("conn", c.ID()))
		return nil
	}
	return h.Handle(ctx, c, env)
}
