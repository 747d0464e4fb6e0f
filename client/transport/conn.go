package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"PPLive/logger"
	"PPLive/module/live/model"
	"PPLive/tools/errs"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler receives inbound envelopes of one type, in arrival order.
type Handler func(env *model.Envelope)

// Conn is a client connection that reconnects on unexpected close.
type Conn struct {
	endpoint string
	creds    Credentials
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	out      chan []byte // queue of the current socket, nil when not open
	ws       *websocket.Conn
	handlers map[model.EnvelopeType]Handler
	sessions []string

	done chan struct{}
	err  error
}

// Connect starts connecting in the background and returns at once. Watch
// Done/Err or Options.OnState for the outcome.
func Connect(ctx context.Context, endpoint string, creds Credentials, opts Options) *Conn {
	opts.normalize()
	cctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		endpoint: endpoint,
		creds:    creds,
		opts:     opts,
		ctx:      cctx,
		cancel:   cancel,
		state:    StateConnecting,
		handlers: make(map[model.EnvelopeType]Handler),
		sessions: append([]string(nil), opts.SessionIDs...),
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

// OnEnvelope registers the handler for typ, replacing any previous one.
func (c *Conn) OnEnvelope(typ model.EnvelopeType, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil {
		delete(c.handlers, typ)
		return
	}
	c.handlers[typ] = h
}

// Send queues env for the current socket. When the connection is not open it
// logs a warning and returns false; nothing is buffered for later.
func (c *Conn) Send(env *model.Envelope) bool {
	b, err := env.Marshal()
	if err != nil {
		logger.Warn("transport: encode envelope", zap.Error(err))
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.out == nil {
		logger.Warn("transport: send while not open, dropped", zap.String("type", string(env.Type)), zap.String("state", c.state.String()))
		return false
	}
	select {
	case c.out <- b:
		return true
	default:
		logger.Warn("transport: send queue full, dropped", zap.String("type", string(env.Type)))
		return false
	}
}

// Join says hello to another session now and after every reconnect.
func (c *Conn) Join(sessionID string) bool {
	c.mu.Lock()
	for _, s := range c.sessions {
		if s == sessionID {
			c.mu.Unlock()
			return true
		}
	}
	c.sessions = append(c.sessions, sessionID)
	c.mu.Unlock()
	return c.Send(c.hello(sessionID))
}

// Close shuts the connection down for good. Err stays nil.
func (c *Conn) Close() {
	c.cancel()
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = ws.Close()
	}
	<-c.done
}

func (c *Conn) Done() <-chan struct{} { return c.done }

// Err is the terminal error once Done is closed: nil after Close, or an
// error matching errs.ErrRetryExhausted.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State, err error) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.opts.OnState != nil {
		c.opts.OnState(s, err)
	}
}

func (c *Conn) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.opts.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.opts.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func (c *Conn) run() {
	var terminal error
	defer func() {
		c.mu.Lock()
		c.err = terminal
		c.out = nil
		c.ws = nil
		c.mu.Unlock()
		c.setState(StateClosed, terminal)
		close(c.done)
	}()

	header := http.Header{}
	if c.creds.Token != "" {
		header.Set("Authorization", "Bearer "+c.creds.Token)
	}

	bo := c.newBackOff()
	attempts := 0
	var lastErr error
	for first := true; ; first = false {
		if !first {
			if attempts >= c.opts.MaxAttempts {
				terminal = errs.ErrRetryExhausted.WrapMsg("reconnect failed", "attempts", attempts, "last", lastErr)
				logger.Error("transport: giving up", zap.String("endpoint", c.endpoint), zap.Int("attempts", attempts), zap.Error(lastErr))
				return
			}
			delay := bo.NextBackOff()
			attempts++
			logger.Info("transport: reconnecting", zap.Int("attempt", attempts), zap.Duration("delay", delay))
			if err := c.opts.Sleep(c.ctx, delay); err != nil {
				return
			}
		}
		if c.ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting, lastErr)
		ws, err := c.opts.Dial(c.ctx, c.endpoint, header)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			lastErr = err
			logger.Warn("transport: dial failed", zap.String("endpoint", c.endpoint), zap.Error(err))
			continue
		}

		attempts = 0
		bo.Reset()
		lastErr = c.serve(ws)
		if c.ctx.Err() != nil {
			return
		}
		logger.Warn("transport: connection lost", zap.Error(lastErr))
	}
}

// serve runs one socket until it fails or Close is called.
func (c *Conn) serve(ws *websocket.Conn) error {
	out := make(chan []byte, c.opts.SendQueue)
	writerDone := make(chan struct{})

	c.mu.Lock()
	c.ws = ws
	c.out = out
	sessions := append([]string(nil), c.sessions...)
	c.mu.Unlock()

	// hello goes ahead of anything the caller queues after the state flips
	for _, s := range sessions {
		if b, err := c.hello(s).Marshal(); err == nil {
			out <- b
		}
	}
	go c.writeLoop(ws, out, writerDone)
	c.setState(StateOpen, nil)

	err := c.readLoop(ws)

	c.mu.Lock()
	c.out = nil
	c.ws = nil
	c.state = StateConnecting
	c.mu.Unlock()
	close(out)
	<-writerDone
	_ = ws.Close()
	return err
}

func (c *Conn) hello(sessionID string) *model.Envelope {
	env, _ := model.NewEnvelope(model.TypeHello, c.creds.UserID, model.HelloData{
		SessionID:   sessionID,
		DisplayName: c.opts.DisplayName,
		Role:        c.opts.Role,
	})
	env.SessionID = sessionID
	return env
}

func (c *Conn) writeLoop(ws *websocket.Conn, out <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for b := range out {
		_ = ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
		if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
			logger.Warn("transport: write failed", zap.Error(err))
			_ = ws.Close()
			// drain so Send never blocks on a dead socket
			for range out {
			}
			return
		}
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		env, err := model.UnmarshalEnvelope(data)
		if err != nil {
			logger.Warn("transport: bad envelope dropped", zap.Error(err))
			continue
		}
		c.mu.Lock()
		h := c.handlers[env.Type]
		c.mu.Unlock()
		if h == nil {
			logger.Debug("transport: no handler, dropped", zap.String("type", string(env.Type)))
			continue
		}
		h(env)
	}
}
