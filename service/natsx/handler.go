package natsx

import (
	"context"

	"PPLive/logger"
	"PPLive/tools/errs"

	"go.uber.org/zap"
)

type NatsxMessage struct {
	Subject string
	Reply   string
	Data    []byte
	Header  map[string]string
	// Respond answers a request; nil when the message carries no reply subject.
	Respond func(data []byte) error
}

type NatsxHandler func(ctx context.Context, msg NatsxMessage) error

// NatsxMiddleware 中间件（日志、幂等、恢复等）
type NatsxMiddleware func(NatsxHandler) NatsxHandler

func NatsxChain(h NatsxHandler, mws ...NatsxMiddleware) NatsxHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// NatsxRecover turns a handler panic into an error.
func NatsxRecover() NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errs.ErrPanic(r)
					logger.Error("nats handler panic", zap.String("subject", msg.Subject), zap.Any("panic", r))
				}
			}()
			return next(ctx, msg)
		}
	}
}

func NatsxLogging() NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			err := next(ctx, msg)
			if err != nil {
				logger.Warn("nats handler failed", zap.String("subject", msg.Subject), zap.Int("len", len(msg.Data)), zap.Error(err))
			}
			return err
		}
	}
}
