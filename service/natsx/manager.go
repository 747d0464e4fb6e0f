package natsx

import "PPLive/tools/errs"

// NatsManager is the facade the gateway holds: one connection, its routes
// and the consumer with the shared middlewares.
type NatsManager struct {
	client   *NatsxClient
	consumer *NatsxConsumer
}

func NewNatsManager(cfg NatsxConfig, middlewares ...NatsxMiddleware) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg)
	if err != nil {
		return nil, err
	}
	return &NatsManager{
		client:   c,
		consumer: NewNatsxConsumer(c, middlewares...),
	}, nil
}

func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

func (m *NatsManager) RegisterRoute(r NatsxRoute) error {
	if m == nil || m.client == nil {
		return errs.ErrArgs.WrapMsg("nats manager not initialized")
	}
	return m.client.RegisterRoute(r)
}

// Subscribe 订阅（Core/JetStream Push），同组内用 Queue 分摊；广播则 Queue 置空
func (m *NatsManager) Subscribe(biz string, h NatsxHandler) error {
	if m == nil || m.consumer == nil {
		return errs.ErrArgs.WrapMsg("nats manager not initialized")
	}
	return m.consumer.Subscribe(biz, h)
}
