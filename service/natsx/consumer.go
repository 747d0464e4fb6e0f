package natsx

import (
	"context"

	"PPLive/tools/errs"

	"github.com/nats-io/nats.go"
)

type NatsxConsumer struct {
	c   *NatsxClient
	mws []NatsxMiddleware
}

func NewNatsxConsumer(c *NatsxClient, mws ...NatsxMiddleware) *NatsxConsumer {
	return &NatsxConsumer{c: c, mws: mws}
}

// Subscribe Core / JetStream Push 订阅（JS 按处理结果 ACK/NAK/TERM）
func (cs *NatsxConsumer) Subscribe(biz string, h NatsxHandler) error {
	r, ok := cs.c.route(biz)
	if !ok {
		return errs.ErrRecordNotFound.WrapMsg("route not found", "biz", biz)
	}
	h = NatsxChain(h, cs.mws...)

	var (
		sub *nats.Subscription
		err error
	)
	switch r.Mode {
	case Core:
		cb := func(m *nats.Msg) {
			_ = h(context.Background(), toMessage(m))
		}
		if r.Queue == "" {
			sub, err = cs.c.nc.Subscribe(r.Subject, cb)
		} else {
			sub, err = cs.c.nc.QueueSubscribe(r.Subject, r.Queue, cb)
		}
		if err == nil {
			_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
		}

	case JetStreamPush:
		if cs.c.js == nil {
			return errs.ErrArgs.WrapMsg("jetstream not initialized")
		}
		opts := []nats.SubOpt{
			nats.ManualAck(),
			nats.AckWait(r.AckWait),
			nats.MaxAckPending(r.MaxAckPending),
		}
		if r.Durable != "" {
			opts = append(opts, nats.Durable(r.Durable))
		}
		cb := func(m *nats.Msg) {
			msg := toMessage(m)
			// the reply subject is the ack address, not a requester
			msg.Reply, msg.Respond = "", nil
			err := h(context.Background(), msg)
			switch {
			case err == nil:
				_ = m.Ack()
			case errs.Is(err, errs.ErrArgs):
				// a malformed message never succeeds, drop it
				_ = m.Term()
			default:
				_ = m.Nak()
			}
		}
		if r.Queue == "" {
			sub, err = cs.c.js.Subscribe(r.Subject, cb, opts...)
		} else {
			sub, err = cs.c.js.QueueSubscribe(r.Subject, r.Queue, cb, opts...)
		}

	default:
		return errs.ErrArgs.WrapMsg("mode not supported", "mode", r.Mode)
	}
	if err != nil {
		return errs.WrapMsg(err, "nats subscribe", "subject", r.Subject)
	}
	cs.c.mu.Lock()
	cs.c.subs[biz] = sub
	cs.c.mu.Unlock()
	return nil
}

func toMessage(m *nats.Msg) NatsxMessage {
	msg := NatsxMessage{
		Subject: m.Subject,
		Reply:   m.Reply,
		Data:    append([]byte(nil), m.Data...),
		Header:  headerToMap(m.Header),
	}
	if m.Reply != "" {
		msg.Respond = m.Respond
	}
	return msg
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
