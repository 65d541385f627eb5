package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-social/internal/config"
	account "github.com/vadim/neo-social/internal/domain/account/entity"
	"github.com/vadim/neo-social/internal/httpx/auth"
	"github.com/vadim/neo-social/internal/realtime"
	"github.com/vadim/neo-social/internal/realtime/wire"
)

type fakeAuth struct{}

func (fakeAuth) Authenticate(r *http.Request) (account.Identity, error) {
	if r.URL.Query().Get("token") != "good" {
		return account.Identity{}, auth.ErrInvalidToken
	}
	return caller, nil
}

// hubEngine registers connections on a real hub and records inbound frames
type hubEngine struct {
	hub       *realtime.Hub
	connected chan *realtime.Conn
	frames    chan wire.Envelope
	gone      chan string
}

func newHubEngine() *hubEngine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &hubEngine{
		hub:       realtime.NewHub(logger, nil),
		connected: make(chan *realtime.Conn, 1),
		frames:    make(chan wire.Envelope, 8),
		gone:      make(chan string, 1),
	}
}

func (e *hubEngine) Connect(_ context.Context, c *realtime.Conn) error {
	if !c.Identity.Valid() {
		return account.ErrNoIdentity
	}
	e.hub.Add(c)
	e.connected <- c
	return nil
}

func (e *hubEngine) Disconnect(c *realtime.Conn) {
	e.hub.Remove(c.ID)
	e.gone <- c.ID
}

func (e *hubEngine) Handle(_ *realtime.Conn, env wire.Envelope) {
	e.frames <- env
}

func newWSServer(t *testing.T, engine LiveEngine, authn Authenticator) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewWSHandler(engine, authn, config.Realtime{
		MaxFrameBytes: 1024,
		PongWait:      time.Minute,
		PingInterval:  30 * time.Second,
		WriteTimeout:  time.Second,
	}, logger)

	srv := httptest.NewServer(h.Serve())
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
}

func TestWSHandler_RejectsBadToken(t *testing.T) {
	srv := newWSServer(t, newHubEngine(), fakeAuth{})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "bad"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

type rejectingEngine struct{ *hubEngine }

func (rejectingEngine) Connect(context.Context, *realtime.Conn) error {
	return account.ErrInactiveAccount
}

func TestWSHandler_EngineRejection(t *testing.T) {
	srv := newWSServer(t, rejectingEngine{newHubEngine()}, fakeAuth{})

	ws, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "good"), nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestWSHandler_Roundtrip(t *testing.T) {
	engine := newHubEngine()
	srv := newWSServer(t, engine, fakeAuth{})

	ws, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "good"), nil)
	require.NoError(t, err)
	resp.Body.Close()

	var conn *realtime.Conn
	select {
	case conn = <-engine.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not registered")
	}
	assert.Equal(t, "alice", conn.Identity.UserID)

	t.Run("inbound frames reach the engine", func(t *testing.T) {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not json`)))
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"typing.start","data":{"conversation_id":"c1"}}`)))

		select {
		case env := <-engine.frames:
			assert.Equal(t, wire.EventTypingStart, env.Event)
			assert.JSONEq(t, `{"conversation_id":"c1"}`, string(env.Data))
		case <-time.After(2 * time.Second):
			t.Fatal("frame was not handled")
		}
	})

	t.Run("outbound frames reach the socket", func(t *testing.T) {
		engine.hub.SendTo(conn.ID, wire.EventUserOnline, wire.Presence{UserID: "bob", Online: true})

		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var env wire.Envelope
		require.NoError(t, ws.ReadJSON(&env))
		assert.Equal(t, wire.EventUserOnline, env.Event)
	})

	t.Run("closing the socket disconnects", func(t *testing.T) {
		require.NoError(t, ws.Close())
		select {
		case id := <-engine.gone:
			assert.Equal(t, conn.ID, id)
		case <-time.After(2 * time.Second):
			t.Fatal("connection was not released")
		}
		assert.Zero(t, engine.hub.Len())
	})
}

func TestCheckOrigin(t *testing.T) {
	assert.Nil(t, checkOrigin(nil))

	wildcard := checkOrigin([]string{"*"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.True(t, wildcard(req))

	only := checkOrigin([]string{"https://app.example"})
	assert.False(t, only(req))
	req.Header.Set("Origin", "https://app.example")
	assert.True(t, only(req))
}
