package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PPLive/module/live/model"
	"PPLive/tools/errs"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectBound(t *testing.T) {
	var dials int32
	var delays []time.Duration
	var states []State
	var mu sync.Mutex

	c := Connect(context.Background(), "ws://unreachable.invalid/ws", Credentials{Token: "t"}, Options{
		SessionIDs: []string{"R1"},
		Dial: func(ctx context.Context, url string, h http.Header) (*websocket.Conn, error) {
			atomic.AddInt32(&dials, 1)
			assert.Equal(t, "Bearer t", h.Get("Authorization"))
			return nil, errs.New("connection refused")
		},
		Sleep: func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
			return nil
		},
		OnState: func(s State, err error) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("transport never gave up")
	}

	require.Error(t, c.Err())
	assert.True(t, errs.Is(c.Err(), errs.ErrRetryExhausted))
	assert.Equal(t, StateClosed, c.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second,
	}, delays)
	// the first dial plus five reconnect attempts
	assert.Equal(t, int32(6), atomic.LoadInt32(&dials))
	assert.Equal(t, StateClosed, states[len(states)-1])
}

func TestSendWhileNotOpen(t *testing.T) {
	release := make(chan struct{})
	c := Connect(context.Background(), "ws://x/ws", Credentials{}, Options{
		Dial: func(ctx context.Context, url string, h http.Header) (*websocket.Conn, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-release:
				return nil, errs.New("refused")
			}
		},
	})
	env, err := model.NewEnvelope(model.TypeTyping, "u1", model.TypingData{})
	require.NoError(t, err)
	assert.False(t, c.Send(env))
	assert.Equal(t, StateConnecting, c.State())

	c.Close()
	assert.NoError(t, c.Err())
	assert.Equal(t, StateClosed, c.State())
}

// echoServer replies presence-state to each hello and echoes everything else.
// Closing kick drops the first connection.
func echoServer(t *testing.T, hellos *int32, kick chan struct{}) *httptest.Server {
	up := websocket.Upgrader{}
	var conns int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		if atomic.AddInt32(&conns, 1) == 1 {
			go func() {
				select {
				case <-kick:
					_ = ws.Close()
				case <-r.Context().Done():
				}
			}()
		}
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			env, err := model.UnmarshalEnvelope(data)
			if err != nil {
				t.Errorf("bad frame: %v", err)
				return
			}
			if env.Type == model.TypeHello {
				atomic.AddInt32(hellos, 1)
				var h model.HelloData
				_ = env.Decode(&h)
				reply, _ := model.NewEnvelope(model.TypePresenceState, "", model.PresenceStateData{Count: 1, Peak: 1})
				reply.SessionID = h.SessionID
				data, _ = reply.Marshal()
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}))
}

func TestHelloAndDispatch(t *testing.T) {
	var hellos int32
	kick := make(chan struct{})
	srv := echoServer(t, &hellos, kick)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	var slept int32
	c := Connect(context.Background(), url, Credentials{UserID: "A"}, Options{
		SessionIDs: []string{"R1"},
		Sleep: func(ctx context.Context, d time.Duration) error {
			atomic.AddInt32(&slept, 1)
			return nil
		},
	})
	defer c.Close()

	states := make(chan *model.Envelope, 4)
	msgs := make(chan *model.Envelope, 4)
	c.OnEnvelope(model.TypePresenceState, func(env *model.Envelope) { states <- env })
	c.OnEnvelope(model.TypeMessage, func(env *model.Envelope) { msgs <- env })

	select {
	case env := <-states:
		assert.Equal(t, "R1", env.SessionID)
	case <-time.After(3 * time.Second):
		t.Fatal("no presence-state after hello")
	}

	env, err := model.NewEnvelope(model.TypeMessage, "A", model.MessageData{Content: "hi"})
	require.NoError(t, err)
	env.SessionID = "R1"
	require.True(t, c.Send(env))
	select {
	case got := <-msgs:
		var m model.MessageData
		require.NoError(t, got.Decode(&m))
		assert.Equal(t, "hi", m.Content)
	case <-time.After(3 * time.Second):
		t.Fatal("echo not dispatched")
	}

	// drop the socket: the client reconnects and greets again
	close(kick)
	select {
	case <-states:
	case <-time.After(3 * time.Second):
		t.Fatal("no presence-state after reconnect")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&hellos), int32(2))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&slept), int32(1))
}

// closingServer accepts the upgrade and hangs up at once.
func closingServer(t *testing.T) *httptest.Server {
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = ws.Close()
	}))
}

func TestBackoffResetsAfterSuccessfulReconnect(t *testing.T) {
	srv := closingServer(t)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	var dials int32
	var delays []time.Duration
	var mu sync.Mutex
	c := Connect(context.Background(), url, Credentials{UserID: "A"}, Options{
		SessionIDs: []string{"R1"},
		Dial: func(ctx context.Context, u string, h http.Header) (*websocket.Conn, error) {
			// fail, fail, succeed, then fail for good
			if atomic.AddInt32(&dials, 1) == 3 {
				return defaultDial(ctx, u, h)
			}
			return nil, errs.New("refused")
		},
		Sleep: func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
			return nil
		},
	})

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("transport never gave up")
	}
	assert.True(t, errs.Is(c.Err(), errs.ErrRetryExhausted))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second,
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second,
	}, delays)
	// two failures, one success, then a fresh budget of five attempts
	assert.Equal(t, int32(8), atomic.LoadInt32(&dials))
}

func TestUnknownTypeDropped(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		if _, _, err := ws.ReadMessage(); err != nil { // hello
			return
		}
		msg, _ := model.NewEnvelope(model.TypeMessage, "B", model.MessageData{Content: "after"})
		b, _ := msg.Marshal()
		for _, frame := range [][]byte{
			[]byte(`{"type":"poll-vote","data":{"option":2},"userId":"B","timestamp":1}`),
			[]byte(`not json`),
			b,
		} {
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ready := make(chan struct{})
	c := Connect(context.Background(), url, Credentials{UserID: "A"}, Options{
		SessionIDs: []string{"R1"},
		Dial: func(ctx context.Context, u string, h http.Header) (*websocket.Conn, error) {
			<-ready
			return defaultDial(ctx, u, h)
		},
	})
	defer c.Close()

	var others int32
	msgs := make(chan *model.Envelope, 1)
	c.OnEnvelope(model.TypeMessage, func(env *model.Envelope) { msgs <- env })
	c.OnEnvelope(model.TypeTyping, func(*model.Envelope) { atomic.AddInt32(&others, 1) })
	close(ready)

	select {
	case env := <-msgs:
		var m model.MessageData
		require.NoError(t, env.Decode(&m))
		assert.Equal(t, "after", m.Content)
	case <-time.After(3 * time.Second):
		t.Fatal("message after an unknown type was not dispatched")
	}
	assert.Zero(t, atomic.LoadInt32(&others))
	assert.Equal(t, StateOpen, c.State())
}
