package natsx

import (
	"context"
	"encoding/json"
	"time"

	"PPLive/global/config"
	"PPLive/module/live/model"
	"PPLive/module/notify"
	"PPLive/tools/errs"
)

const BizNotify = "notify.publish"

// NotifyRequest is the body other services publish on the notify subject.
type NotifyRequest struct {
	UserIDs      []string                `json:"userIds"`
	Notification model.NotificationInput `json:"notification"`
}

type NotifyReply struct {
	Results []notify.NotifyResult `json:"results,omitempty"`
	Error   string                `json:"error,omitempty"`
}

type NotifyPublisher interface {
	Publish(ctx context.Context, userIDs []string, in model.NotificationInput) ([]notify.NotifyResult, error)
}

// NotifyIngest hands notification requests to the publisher and answers
// request-reply callers with the per-user results.
func NotifyIngest(p NotifyPublisher) NatsxHandler {
	return func(ctx context.Context, msg NatsxMessage) error {
		var req NotifyRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			err = errs.ErrArgs.WrapMsg("bad notify request: " + err.Error())
			respond(msg, NotifyReply{Error: err.Error()})
			return err
		}
		res, err := p.Publish(ctx, req.UserIDs, req.Notification)
		if err != nil {
			respond(msg, NotifyReply{Error: err.Error()})
			return err
		}
		respond(msg, NotifyReply{Results: res})
		return nil
	}
}

func respond(msg NatsxMessage, reply NotifyReply) {
	if msg.Respond == nil {
		return
	}
	b, err := json.Marshal(reply)
	if err != nil {
		return
	}
	_ = msg.Respond(b)
}

// notifyRoute builds the ingest route. JetStream mode keeps requests in a
// stream with a durable consumer so they survive a gateway restart.
func notifyRoute(cfg config.NatsConfig) (NatsxRoute, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return NatsxRoute{}, err
	}
	r := NatsxRoute{Biz: BizNotify, Subject: cfg.Subject, Mode: mode, Queue: cfg.Queue}
	if r.Subject == "" {
		r.Subject = BizNotify
	}
	if mode == JetStreamPush {
		r.Stream = cfg.Stream
		r.Durable = cfg.Durable
		if r.Durable == "" {
			r.Durable = cfg.Queue
		}
	}
	return r, nil
}

// StartNotifyIngest connects, registers the notify route and subscribes the
// ingest handler behind recover, logging and idempotency middlewares.
func StartNotifyIngest(ctx context.Context, cfg config.NatsConfig, nodeName string, p NotifyPublisher) (*NatsManager, error) {
	mgr, err := NewNatsManager(NatsxConfig{Servers: cfg.Servers, Name: nodeName},
		NatsxRecover(),
		NatsxLogging(),
		NatsxIdemMiddleware(NewMemIdem(ctx, 10*time.Minute), 0),
	)
	if err != nil {
		return nil, err
	}
	route, err := notifyRoute(cfg)
	if err != nil {
		_ = mgr.Close()
		return nil, err
	}
	if err := mgr.RegisterRoute(route); err != nil {
		_ = mgr.Close()
		return nil, err
	}
	if err := mgr.Subscribe(BizNotify, NotifyIngest(p)); err != nil {
		_ = mgr.Close()
		return nil, err
	}
	return mgr, nil
}
