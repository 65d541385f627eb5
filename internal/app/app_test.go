package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
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
	"github.com/vadim/neo-social/internal/realtime/wire"
	"github.com/vadim/neo-social/internal/store"
)

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	app    *App
	store  *store.Memory
	tokens map[string]string
}

// Conversation mirrors the conversation JSON returned by the API
type Conversation struct {
	ID string `json:"id"`
}

// Message mirrors the message JSON returned by the API
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	Read           bool   `json:"read"`
	Sender         struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"sender"`
}

// Notification mirrors the notification JSON returned by the API
type Notification struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	FromUserID     string `json:"from_user_id"`
	Type           string `json:"notification_type"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	FromUser       *struct {
		Username string `json:"username"`
	} `json:"from_user"`
}

func newTestServer(t *testing.T, users ...account.User) *testServer {
	t.Helper()

	cfg := config.Config{
		Auth: config.Auth{JWTSecret: "test-secret", JWTIssuer: "neo-social"},
		Realtime: config.Realtime{
			EventQueueSize: 64,
			SendBufferSize: 64,
			WriteTimeout:   5 * time.Second,
			PongWait:       time.Minute,
			PingInterval:   30 * time.Second,
			MaxFrameBytes:  65536,
		},
		Metrics: config.Metrics{Enabled: true, Path: "/metrics"},
	}

	st := store.NewMemory()
	for _, u := range users {
		st.PutUser(u)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := NewApp(context.Background(), cfg, WithStore(st), WithLogger(logger))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	app.Start(ctx)

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		cancel()
		<-app.stopped
		srv.Close()
	})

	ts := &testServer{t: t, srv: srv, app: app, store: st, tokens: map[string]string{}}
	for _, u := range users {
		token, err := app.Verifier().Issue(u.ID, time.Hour)
		require.NoError(t, err)
		ts.tokens[u.ID] = token
	}
	return ts
}

// do sends an authenticated API request and decodes a JSON response into out
func (s *testServer) do(method, path, userID string, body any, out any) int {
	s.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.srv.URL+"/api/v1"+path, reader)
	require.NoError(s.t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[userID])
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	if out != nil && resp.StatusCode < 300 && len(respBody) > 0 {
		require.NoError(s.t, json.Unmarshal(respBody, out), string(respBody))
	}
	return resp.StatusCode
}

func (s *testServer) dial(userID string) *websocket.Conn {
	s.t.Helper()

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?token=" + s.tokens[userID]
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(s.t, err)
	resp.Body.Close()
	s.t.Cleanup(func() { ws.Close() })

	// The upgrade completes before the engine registers the connection
	require.Eventually(s.t, func() bool {
		var summary account.Summary
		code := s.do(http.MethodGet, "/users/"+userID, userID, nil, &summary)
		return code == http.StatusOK && summary.Online
	}, 2*time.Second, 10*time.Millisecond)
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) wire.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

	var env wire.Envelope
	require.NoError(t, ws.ReadJSON(&env))
	return env
}

func users() (alice, bob, carol account.User) {
	now := time.Now()
	alice = account.User{ID: "alice-id", Username: "alice", IsActive: true, CreatedAt: now}
	bob = account.User{ID: "bob-id", Username: "bob", IsActive: true, CreatedAt: now}
	carol = account.User{ID: "carol-id", Username: "carol", IsActive: true, IsPrivate: true, CreatedAt: now}
	return
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(s.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestAPI_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/conversations", "", nil, nil))

	resp, err := http.Get(s.srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStartConversation(t *testing.T) {
	alice, bob, _ := users()
	s := newTestServer(t, alice, bob)

	var first, second struct {
		Conversation Conversation `json:"conversation"`
		Created      bool         `json:"created"`
	}
	assert.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/conversations/direct/"+bob.ID, alice.ID, nil, &first))
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/conversations/direct/"+bob.ID, alice.ID, nil, &second))
	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)

	var fromBob struct {
		Conversation Conversation `json:"conversation"`
	}
	s.do(http.MethodPost, "/conversations/direct/"+alice.ID, bob.ID, nil, &fromBob)
	assert.Equal(t, first.Conversation.ID, fromBob.Conversation.ID)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/conversations/direct/"+alice.ID, alice.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/conversations/direct/nobody", alice.ID, nil, nil))
}

func TestMessageFlow(t *testing.T) {
	alice, bob, _ := users()
	s := newTestServer(t, alice, bob)

	var started struct {
		Conversation Conversation `json:"conversation"`
	}
	s.do(http.MethodPost, "/conversations/direct/"+bob.ID, alice.ID, nil, &started)
	convID := started.Conversation.ID

	bobWS := s.dial(bob.ID)

	var sent struct {
		Message Message `json:"message"`
	}
	code := s.do(http.MethodPost, "/conversations/"+convID+"/messages", alice.ID, map[string]string{"content": "hi"}, &sent)
	require.Equal(t, http.StatusCreated, code)

	t.Run("recipient receives message.new then notification.new", func(t *testing.T) {
		env := readEvent(t, bobWS)
		require.Equal(t, wire.EventMessageNew, env.Event)
		var body struct {
			Message Message `json:"message"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &body))
		assert.Equal(t, "hi", body.Message.Content)
		assert.Equal(t, alice.ID, body.Message.SenderID)
		assert.Equal(t, "alice", body.Message.Sender.Username)

		env = readEvent(t, bobWS)
		require.Equal(t, wire.EventNotificationNew, env.Event)
		var note struct {
			Notification Notification `json:"notification"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &note))
		assert.Equal(t, "message", note.Notification.Type)
		assert.Equal(t, bob.ID, note.Notification.UserID)
		assert.Equal(t, alice.ID, note.Notification.FromUserID)
		assert.Equal(t, sent.Message.ID, note.Notification.MessageID)
	})

	t.Run("notification is listed for the recipient", func(t *testing.T) {
		var list struct {
			Notifications []Notification `json:"notifications"`
		}
		require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/notifications", bob.ID, nil, &list))
		require.Len(t, list.Notifications, 1)
		assert.Equal(t, "alice", list.Notifications[0].FromUser.Username)

		var count struct {
			Count int `json:"count"`
		}
		s.do(http.MethodGet, "/notifications/unread-count", bob.ID, nil, &count)
		assert.Equal(t, 1, count.Count)

		assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/notifications/"+list.Notifications[0].ID+"/read", alice.ID, nil, nil))
		assert.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/notifications/"+list.Notifications[0].ID+"/read", bob.ID, nil, nil))
		s.do(http.MethodGet, "/notifications/unread-count", bob.ID, nil, &count)
		assert.Zero(t, count.Count)
	})

	t.Run("reaction toggles", func(t *testing.T) {
		var ev struct {
			Action string `json:"action"`
		}
		path := "/messages/" + sent.Message.ID + "/reactions"
		require.Equal(t, http.StatusOK, s.do(http.MethodPost, path, bob.ID, map[string]string{"emoji": "❤️"}, &ev))
		assert.Equal(t, "added", ev.Action)
		assert.Equal(t, wire.EventMessageReaction, readEvent(t, bobWS).Event)

		require.Equal(t, http.StatusOK, s.do(http.MethodPost, path, bob.ID, map[string]string{"emoji": "❤️"}, &ev))
		assert.Equal(t, "removed", ev.Action)
		assert.Equal(t, wire.EventMessageReaction, readEvent(t, bobWS).Event)
	})

	t.Run("conversation list shows unread count and presence", func(t *testing.T) {
		var list struct {
			Conversations []struct {
				ID          string `json:"id"`
				UnreadCount int    `json:"unread_count"`
				OtherUser   struct {
					ID     string `json:"id"`
					Online bool   `json:"online"`
				} `json:"other_user"`
			} `json:"conversations"`
		}
		require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/conversations", alice.ID, nil, &list))
		require.Len(t, list.Conversations, 1)
		assert.Equal(t, bob.ID, list.Conversations[0].OtherUser.ID)
		assert.True(t, list.Conversations[0].OtherUser.Online)
		assert.Zero(t, list.Conversations[0].UnreadCount)

		s.do(http.MethodGet, "/conversations", bob.ID, nil, &list)
		assert.Equal(t, 1, list.Conversations[0].UnreadCount)
	})

	t.Run("opening the thread marks incoming messages read", func(t *testing.T) {
		var page struct {
			Messages   []Message `json:"messages"`
			MarkedRead int64     `json:"marked_read"`
		}
		require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/conversations/"+convID+"/messages", bob.ID, nil, &page))
		assert.Equal(t, int64(1), page.MarkedRead)
		require.Len(t, page.Messages, 1)
		assert.True(t, page.Messages[0].Read)

		s.do(http.MethodGet, "/conversations/"+convID+"/messages", bob.ID, nil, &page)
		assert.Zero(t, page.MarkedRead)
	})

	t.Run("only the sender can delete", func(t *testing.T) {
		path := "/messages/" + sent.Message.ID
		assert.Equal(t, http.StatusForbidden, s.do(http.MethodDelete, path, bob.ID, nil, nil))
		assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, path, alice.ID, nil, nil))

		env := readEvent(t, bobWS)
		assert.Equal(t, wire.EventMessageDeleted, env.Event)
		assert.JSONEq(t, fmt.Sprintf(`{"message_id":%q,"conversation_id":%q}`, sent.Message.ID, convID), string(env.Data))
	})
}

func TestLiveReadReceipt(t *testing.T) {
	alice, bob, _ := users()
	s := newTestServer(t, alice, bob)

	var sent struct {
		Message Message `json:"message"`
	}
	code := s.do(http.MethodPost, "/messages", alice.ID, map[string]string{"recipient_id": bob.ID, "content": "ping"}, &sent)
	require.Equal(t, http.StatusCreated, code)

	aliceWS := s.dial(alice.ID)
	bobWS := s.dial(bob.ID)
	assert.Equal(t, wire.EventUserOnline, readEvent(t, aliceWS).Event)

	frame := map[string]any{
		"event": wire.EventMessageRead,
		"data":  wire.MessageRef{MessageID: sent.Message.ID, ConversationID: sent.Message.ConversationID},
	}
	require.NoError(t, bobWS.WriteJSON(frame))

	env := readEvent(t, aliceWS)
	require.Equal(t, wire.EventMessageRead, env.Event)
	var receipt struct {
		MessageID string    `json:"message_id"`
		UserID    string    `json:"user_id"`
		ReadAt    time.Time `json:"read_at"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.Equal(t, sent.Message.ID, receipt.MessageID)
	assert.Equal(t, bob.ID, receipt.UserID)
	assert.False(t, receipt.ReadAt.IsZero())

	t.Run("typing reaches the other participant", func(t *testing.T) {
		require.NoError(t, aliceWS.WriteJSON(map[string]any{
			"event": wire.EventTypingStart,
			"data":  wire.ConversationRef{ConversationID: sent.Message.ConversationID},
		}))

		// bob also saw his own receipt on the conversation channel
		env := readEvent(t, bobWS)
		if env.Event == wire.EventMessageRead {
			env = readEvent(t, bobWS)
		}
		require.Equal(t, wire.EventUserTyping, env.Event)
		var typing wire.Typing
		require.NoError(t, json.Unmarshal(env.Data, &typing))
		assert.Equal(t, alice.ID, typing.UserID)
		assert.True(t, typing.Typing)
	})
}

func TestFollowFlow(t *testing.T) {
	alice, _, carol := users()
	s := newTestServer(t, alice, carol)

	var status struct {
		Status string `json:"status"`
	}
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/users/"+carol.ID+"/follow", alice.ID, nil, &status))
	assert.Equal(t, "pending", status.Status)

	var count struct {
		Count int `json:"count"`
	}
	s.do(http.MethodGet, "/notifications/unread-count", carol.ID, nil, &count)
	assert.Zero(t, count.Count)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/follow-requests/"+alice.ID+"/accept", carol.ID, nil, &status))
	assert.Equal(t, "accepted", status.Status)

	var list struct {
		Notifications []Notification `json:"notifications"`
	}
	s.do(http.MethodGet, "/notifications", alice.ID, nil, &list)
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, "follow", list.Notifications[0].Type)
	assert.Equal(t, carol.ID, list.Notifications[0].FromUserID)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/users/"+alice.ID+"/follow", alice.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/follow-requests/"+alice.ID+"/decline", carol.ID, nil, nil))
	assert.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/users/"+carol.ID+"/follow", alice.ID, nil, nil))
}

func TestShutdown_DrainsRequestsBeforeEngine(t *testing.T) {
	alice, bob, _ := users()
	cfg := config.Config{
		Auth:     config.Auth{JWTSecret: "test-secret", JWTIssuer: "neo-social"},
		Realtime: config.Realtime{EventQueueSize: 64, SendBufferSize: 64},
	}
	st := store.NewMemory()
	st.PutUser(alice)
	st.PutUser(bob)

	app, err := NewApp(context.Background(), cfg, WithStore(st), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	app.Start(context.Background())

	srv := httptest.NewUnstartedServer(nil)
	srv.Config = app.httpServer
	srv.Start()
	t.Cleanup(srv.Close)

	token, err := app.Verifier().Issue(alice.ID, time.Hour)
	require.NoError(t, err)

	// Hold the loop so the request below is in flight when shutdown begins
	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = app.engine.Do(context.Background(), func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	status := make(chan int, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/users/"+bob.ID, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			status <- 0
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()
	require.Eventually(t, func() bool { return app.engine.QueueDepth() == 1 }, 2*time.Second, time.Millisecond)

	shutdown := make(chan error, 1)
	go func() { shutdown <- app.Shutdown(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.Equal(t, http.StatusOK, <-status)
	require.NoError(t, <-shutdown)

	select {
	case <-app.stopped:
	default:
		t.Fatal("engine still running after shutdown")
	}
}
