package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	account "github.com/vadim/neo-social/internal/domain/account/entity"
	direct "github.com/vadim/neo-social/internal/domain/direct/entity"
	"github.com/vadim/neo-social/internal/metrics"
	"github.com/vadim/neo-social/internal/realtime/wire"
	"github.com/vadim/neo-social/internal/store"
)

type fakeReceipts struct {
	mu    sync.Mutex
	calls []wire.MessageRef
}

func (f *fakeReceipts) MarkMessageRead(_ context.Context, _ account.Identity, conversationID, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, wire.MessageRef{MessageID: messageID, ConversationID: conversationID})
	return true, nil
}

func (f *fakeReceipts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	store    *store.Memory
	engine   *Engine
	hub      *Hub
	receipts *fakeReceipts
	alice    account.Identity
	bob      account.Identity
	carol    account.Identity
	convID   string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, now func() time.Time) *fixture {
	t.Helper()

	st := store.NewMemory()
	users := map[string]account.User{}
	for _, name := range []string{"alice", "bob", "carol"} {
		u := account.User{ID: uuid.New().String(), Username: name, IsActive: true, CreatedAt: time.Now()}
		st.PutUser(u)
		users[name] = u
	}

	f := &fixture{
		store:    st,
		receipts: &fakeReceipts{},
		alice:    account.IdentityOf(users["alice"]),
		bob:      account.IdentityOf(users["bob"]),
		carol:    account.IdentityOf(users["carol"]),
	}
	f.convID = f.conversation(t, f.alice.UserID, f.bob.UserID)

	f.hub = NewHub(discardLogger(), nil)
	f.engine = NewEngine(Config{
		Store:    st,
		Hub:      f.hub,
		Receipts: f.receipts,
		Now:      now,
		Logger:   discardLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.engine.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func (f *fixture) conversation(t *testing.T, a, b string) string {
	t.Helper()
	now := time.Now()
	conv, _, err := f.store.Conversations().GetOrCreateDirect(context.Background(), &direct.Conversation{
		ID:        uuid.New().String(),
		DirectKey: direct.DirectKey(a, b),
		CreatedAt: now,
		UpdatedAt: now,
	}, a, b)
	require.NoError(t, err)
	return conv.ID
}

func (f *fixture) connect(t *testing.T, identity account.Identity) *Conn {
	t.Helper()
	c := NewConn(identity, ConnOptions{SendBuffer: 16})
	require.NoError(t, f.engine.Connect(context.Background(), c))
	return c
}

// flush waits until every event queued so far has been handled
func (f *fixture) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.Do(context.Background(), func(context.Context) error { return nil }))
}

func (f *fixture) send(c *Conn, event string, body any) {
	data, _ := json.Marshal(body)
	f.engine.Handle(c, wire.Envelope{Event: event, Data: data})
}

func recv(t *testing.T, c *Conn) wire.Envelope {
	t.Helper()
	select {
	case frame, ok := <-c.Send():
		require.True(t, ok, "connection closed")
		var env wire.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
	return wire.Envelope{}
}

func assertNoFrame(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case frame := <-c.Send():
		t.Fatalf("unexpected frame: %s", frame)
	default:
	}
}

func decodeData[T any](t *testing.T, env wire.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestEngine_Presence(t *testing.T) {
	f := newFixture(t, nil)

	bob := f.connect(t, f.bob)
	alice1 := f.connect(t, f.alice)

	env := recv(t, bob)
	assert.Equal(t, wire.EventUserOnline, env.Event)
	assert.Equal(t, wire.Presence{UserID: f.alice.UserID, Username: "alice", Online: true}, decodeData[wire.Presence](t, env))

	online, err := f.engine.Online(context.Background(), f.alice.UserID)
	require.NoError(t, err)
	assert.True(t, online)

	t.Run("second session does not re-announce", func(t *testing.T) {
		alice2 := f.connect(t, f.alice)
		f.flush(t)
		assertNoFrame(t, bob)

		f.engine.Disconnect(alice1)
		f.flush(t)
		assertNoFrame(t, bob)

		online, err := f.engine.Online(context.Background(), f.alice.UserID)
		require.NoError(t, err)
		assert.True(t, online)

		f.engine.Disconnect(alice2)
		env := recv(t, bob)
		assert.Equal(t, wire.EventUserOnline, env.Event)
		assert.False(t, decodeData[wire.Presence](t, env).Online)
	})

	online, err = f.engine.Online(context.Background(), f.alice.UserID)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestEngine_ConnectRejected(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("no identity", func(t *testing.T) {
		err := f.engine.Connect(context.Background(), NewConn(account.Identity{}, ConnOptions{}))
		assert.ErrorIs(t, err, account.ErrNoIdentity)
	})

	t.Run("inactive account", func(t *testing.T) {
		f.store.PutUser(account.User{ID: "inactive", Username: "gone", IsActive: false})
		err := f.engine.Connect(context.Background(), NewConn(account.Identity{UserID: "inactive"}, ConnOptions{}))
		assert.ErrorIs(t, err, account.ErrInactiveAccount)
	})

	t.Run("unknown user", func(t *testing.T) {
		err := f.engine.Connect(context.Background(), NewConn(account.Identity{UserID: "missing"}, ConnOptions{}))
		assert.ErrorIs(t, err, account.ErrUserNotFound)
	})

	assert.Equal(t, 0, f.hub.Len())
}

func TestEngine_TypingClearedOnDisconnect(t *testing.T) {
	f := newFixture(t, nil)

	alice := f.connect(t, f.alice)
	bob := f.connect(t, f.bob)
	_ = recv(t, alice) // bob online

	f.send(alice, wire.EventTypingStart, wire.ConversationRef{ConversationID: f.convID})
	env := recv(t, bob)
	require.Equal(t, wire.EventUserTyping, env.Event)
	assert.True(t, decodeData[wire.Typing](t, env).Typing)
	assertNoFrame(t, alice)

	users, err := f.engine.TypingUsers(context.Background(), f.convID)
	require.NoError(t, err)
	assert.Equal(t, []string{f.alice.UserID}, users)

	f.engine.Disconnect(alice)

	env = recv(t, bob)
	require.Equal(t, wire.EventUserTyping, env.Event)
	assert.Equal(t, wire.Typing{
		ConversationID: f.convID,
		UserID:         f.alice.UserID,
		Username:       "alice",
		Typing:         false,
	}, decodeData[wire.Typing](t, env))

	env = recv(t, bob)
	assert.Equal(t, wire.EventUserOnline, env.Event)
	assert.False(t, decodeData[wire.Presence](t, env).Online)

	users, err = f.engine.TypingUsers(context.Background(), f.convID)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestEngine_TypingStop(t *testing.T) {
	f := newFixture(t, nil)

	alice := f.connect(t, f.alice)
	bob := f.connect(t, f.bob)
	carol := f.connect(t, f.carol)
	_ = recv(t, alice)

	f.send(alice, wire.EventTypingStart, wire.ConversationRef{ConversationID: f.convID})
	_ = recv(t, bob)

	f.send(alice, wire.EventTypingStop, wire.ConversationRef{ConversationID: f.convID})
	env := recv(t, bob)
	assert.False(t, decodeData[wire.Typing](t, env).Typing)

	t.Run("non participant is ignored", func(t *testing.T) {
		f.send(carol, wire.EventTypingStart, wire.ConversationRef{ConversationID: f.convID})
		f.send(carol, wire.EventTypingStop, wire.ConversationRef{ConversationID: f.convID})
		f.flush(t)
		assertNoFrame(t, bob)
		assertNoFrame(t, alice)

		users, err := f.engine.TypingUsers(context.Background(), f.convID)
		require.NoError(t, err)
		assert.Empty(t, users)
	})

	t.Run("malformed data is dropped", func(t *testing.T) {
		f.engine.Handle(alice, wire.Envelope{Event: wire.EventTypingStart, Data: json.RawMessage(`"nope"`)})
		f.send(alice, wire.EventTypingStart, wire.ConversationRef{})
		f.flush(t)
		assertNoFrame(t, bob)
	})
}

func TestEngine_JoinConversation(t *testing.T) {
	f := newFixture(t, nil)

	bob := f.connect(t, f.bob)
	carol := f.connect(t, f.carol)

	convID := f.conversation(t, f.bob.UserID, f.carol.UserID)
	assert.False(t, f.hub.IsMember(bob.ID, wire.ConversationChannel(convID)))

	f.send(bob, wire.EventJoinConversation, wire.ConversationRef{ConversationID: convID})
	env := recv(t, bob)
	assert.Equal(t, wire.EventJoinConversation, env.Event)
	assert.Equal(t, wire.JoinResult{ConversationID: convID, Joined: true}, decodeData[wire.JoinResult](t, env))
	assert.True(t, f.hub.IsMember(bob.ID, wire.ConversationChannel(convID)))

	f.send(carol, wire.EventJoinConversation, wire.ConversationRef{ConversationID: f.convID})
	env = recv(t, carol)
	assert.Equal(t, wire.JoinResult{ConversationID: f.convID, Joined: false}, decodeData[wire.JoinResult](t, env))
	assert.False(t, f.hub.IsMember(carol.ID, wire.ConversationChannel(f.convID)))
}

func TestEngine_MessageRead(t *testing.T) {
	f := newFixture(t, nil)
	bob := f.connect(t, f.bob)

	f.send(bob, wire.EventMessageRead, wire.MessageRef{MessageID: "m1", ConversationID: f.convID})
	f.send(bob, wire.EventMessageRead, wire.MessageRef{ConversationID: f.convID})
	f.flush(t)

	require.Equal(t, 1, f.receipts.count())
	assert.Equal(t, wire.MessageRef{MessageID: "m1", ConversationID: f.convID}, f.receipts.calls[0])
}

func TestEngine_RateLimit(t *testing.T) {
	f := newFixture(t, nil)

	c := NewConn(f.bob, ConnOptions{SendBuffer: 4, RPS: 0.001, Burst: 1})
	require.NoError(t, f.engine.Connect(context.Background(), c))

	for i := 0; i < 3; i++ {
		f.send(c, wire.EventMessageRead, wire.MessageRef{MessageID: "m1", ConversationID: f.convID})
	}
	f.flush(t)
	assert.Equal(t, 1, f.receipts.count())
}

func TestEngine_ExpireTyping(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	f := newFixture(t, clock)
	alice := f.connect(t, f.alice)
	bob := f.connect(t, f.bob)
	_ = recv(t, alice)

	f.send(alice, wire.EventTypingStart, wire.ConversationRef{ConversationID: f.convID})
	_ = recv(t, bob)

	n, err := f.engine.ExpireTyping(context.Background(), 10*time.Second)
	require.NoError(t, err)
	assert.Zero(t, n)

	mu.Lock()
	now = now.Add(11 * time.Second)
	mu.Unlock()

	n, err = f.engine.ExpireTyping(context.Background(), 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	env := recv(t, bob)
	assert.Equal(t, wire.EventUserTyping, env.Event)
	assert.False(t, decodeData[wire.Typing](t, env).Typing)
}

func TestEngine_StopClosesConnections(t *testing.T) {
	f := newFixture(t, nil)

	hub := NewHub(discardLogger(), nil)
	e := NewEngine(Config{Store: f.store, Hub: hub, Logger: discardLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	c := NewConn(f.alice, ConnOptions{})
	require.NoError(t, e.Connect(context.Background(), c))
	assert.Equal(t, 1, hub.Len())

	cancel()
	<-done

	_, open := <-c.Send()
	assert.False(t, open)
	assert.Equal(t, 0, hub.Len())
	assert.ErrorIs(t, e.Do(context.Background(), func(context.Context) error { return nil }), ErrStopped)
}

func seriesCount(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return len(mf.GetMetric())
		}
	}
	return 0
}

func TestEngine_UnknownEventsShareOneLabel(t *testing.T) {
	f := newFixture(t, nil)

	reg := prometheus.NewRegistry()
	e := NewEngine(Config{
		Store:    f.store,
		Hub:      NewHub(discardLogger(), nil),
		Receipts: f.receipts,
		Logger:   discardLogger(),
		Metrics:  metrics.New(reg),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c := NewConn(f.alice, ConnOptions{SendBuffer: 16})
	require.NoError(t, e.Connect(context.Background(), c))

	for i := 0; i < 200; i++ {
		e.Handle(c, wire.Envelope{Event: fmt.Sprintf("junk.%d", i), Data: json.RawMessage(`{}`)})
	}
	e.Handle(c, wire.Envelope{Event: wire.EventTypingStop, Data: json.RawMessage(`{"conversation_id":"` + f.convID + `"}`)})
	require.NoError(t, e.Do(context.Background(), func(context.Context) error { return nil }))

	assert.Equal(t, 1, seriesCount(t, reg, "neosocial_realtime_events_total"))
	assert.Equal(t, 1, seriesCount(t, reg, "neosocial_realtime_events_dropped_total"))
}

func TestEngine_ConnectOutlivesCallerContext(t *testing.T) {
	f := newFixture(t, nil)

	release := make(chan struct{})
	blocked := make(chan struct{})
	go func() {
		_ = f.engine.Do(context.Background(), func(context.Context) error {
			close(blocked)
			<-release
			return nil
		})
	}()
	<-blocked

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewConn(f.alice, ConnOptions{SendBuffer: 16})
	result := make(chan error, 1)
	go func() { result <- f.engine.Connect(ctx, c) }()

	require.Eventually(t, func() bool { return f.engine.QueueDepth() == 1 }, time.Second, time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)
	close(release)

	select {
	case err := <-result:
		require.NoError(t, err, "a queued connect reports the loop's answer")
	case <-time.After(time.Second):
		t.Fatal("connect did not return")
	}

	online, err := f.engine.Online(context.Background(), f.alice.UserID)
	require.NoError(t, err)
	assert.True(t, online)

	f.engine.Disconnect(c)
	online, err = f.engine.Online(context.Background(), f.alice.UserID)
	require.NoError(t, err)
	assert.False(t, online, "the caller can always release what it registered")
	assert.Zero(t, f.hub.Len())
}

func TestEngine_ConnectWithDoneContext(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.engine.Connect(ctx, NewConn(f.alice, ConnOptions{}))
	assert.ErrorIs(t, err, context.Canceled)
	f.flush(t)
	assert.Zero(t, f.hub.Len())
}
