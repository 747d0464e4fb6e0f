package natsx

import (
	"context"
	"strings"
	"sync"
	"time"

	"PPLive/logger"
	"PPLive/tools/errs"

	"go.uber.org/zap"
)

type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
	// Forget releases a key whose processing failed so a redelivery runs again.
	Forget(key string)
}

// memIdem 内存实现（单进程）
type memIdem struct {
	mu  sync.Mutex
	m   map[string]time.Time // key -> expire
	ttl time.Duration
	now func() time.Time
}

// NewMemIdem keeps keys in memory and sweeps expired ones every minute until
// ctx is done.
func NewMemIdem(ctx context.Context, defaultTTL time.Duration) IdemStore {
	mi := &memIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: time.Now}
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				mi.sweep()
			}
		}
	}()
	return mi
}

func (mi *memIdem) sweep() {
	now := mi.now()
	mi.mu.Lock()
	for k, exp := range mi.m {
		if !exp.After(now) {
			delete(mi.m, k)
		}
	}
	mi.mu.Unlock()
}

func (mi *memIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

func (mi *memIdem) Forget(key string) {
	mi.mu.Lock()
	delete(mi.m, key)
	mi.mu.Unlock()
}

func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{"Nats-Msg-Id", "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// NatsxIdemMiddleware skips messages whose id was seen within ttl. Without a
// message id header the subject and body stand in for it.
func NatsxIdemMiddleware(store IdemStore, ttl time.Duration) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				id = msg.Subject + "|" + strings.TrimSpace(string(msg.Data))
			}
			seen, err := store.SeenOnce(id, ttl)
			if err != nil {
				logger.Warn("idem store failed, processing anyway", zap.Error(err))
			}
			if seen {
				logger.Debug("duplicate nats message skipped", zap.String("subject", msg.Subject))
				return nil
			}
			err = next(ctx, msg)
			if err != nil && !errs.Is(err, errs.ErrArgs) {
				store.Forget(id)
			}
			return err
		}
	}
}
