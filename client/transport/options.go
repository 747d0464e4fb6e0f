package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Credentials identify the caller to the server. The token is sent as a
// bearer header on every dial.
type Credentials struct {
	Token  string
	UserID string
}

// DialFunc opens one WebSocket. Tests replace it.
type DialFunc func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error)

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	// Sessions to say hello to on every (re)connect.
	SessionIDs  []string
	DisplayName string
	Role        string

	BaseDelay   time.Duration // default 1s
	MaxDelay    time.Duration // default 10s
	MaxAttempts int           // reconnect attempts before giving up, default 5

	SendQueue int
	WriteWait time.Duration

	Dial    DialFunc
	Sleep   SleepFunc
	OnState func(State, error)
}

func (o *Options) normalize() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 10 * time.Second
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.Dial == nil {
		o.Dial = defaultDial
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
}

func defaultDial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return ws, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
