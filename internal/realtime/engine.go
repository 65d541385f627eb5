// Package realtime is the live side of the messaging core: presence,
// channel membership, typing indicators and the single loop that owns them.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vadim/neo-social/internal/apperr"
	account "github.com/vadim/neo-social/internal/domain/account/entity"
	"github.com/vadim/neo-social/internal/metrics"
	"github.com/vadim/neo-social/internal/realtime/wire"
	"github.com/vadim/neo-social/internal/store"
)

// ErrStopped is returned by calls made after the loop has exited
var ErrStopped = errors.New("realtime engine stopped")

// ReadReceipts marks one message read and announces it
type ReadReceipts interface {
	MarkMessageRead(ctx context.Context, identity account.Identity, conversationID, messageID string) (bool, error)
}

// Engine serializes every event that touches presence or typing state
// through one goroutine. Store calls made while handling an event block the
// loop until they return.
type Engine struct {
	store    store.Store
	hub      *Hub
	presence *Presence
	typing   *Typing
	receipts ReadReceipts

	events       chan event
	done         chan struct{}
	eventTimeout time.Duration
	now          func() time.Time

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Config wires an engine to its collaborators
type Config struct {
	Store    store.Store
	Hub      *Hub
	Presence *Presence
	Typing   *Typing
	Receipts ReadReceipts

	QueueSize    int
	EventTimeout time.Duration
	Now          func() time.Time

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type event struct {
	name string
	conn *Conn
	data json.RawMessage

	call  func(ctx context.Context) error
	reply chan error
}

// NewEngine creates an engine. Run must be started before events are handled.
func NewEngine(cfg Config) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Presence == nil {
		cfg.Presence = NewPresence()
	}
	if cfg.Typing == nil {
		cfg.Typing = NewTyping()
	}

	return &Engine{
		store:        cfg.Store,
		hub:          cfg.Hub,
		presence:     cfg.Presence,
		typing:       cfg.Typing,
		receipts:     cfg.Receipts,
		events:       make(chan event, cfg.QueueSize),
		done:         make(chan struct{}),
		eventTimeout: cfg.EventTimeout,
		now:          cfg.Now,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
}

// QueueDepth returns the number of events waiting for the loop
func (e *Engine) QueueDepth() float64 {
	return float64(len(e.events))
}

// Run processes events until ctx is cancelled. On exit all presence and
// typing state is dropped and every connection is closed.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("realtime engine started", "queue_size", cap(e.events))
	defer func() {
		e.presence.Reset()
		e.typing.Reset()
		e.hub.CloseAll()
		e.updateGauges()
		close(e.done)
		e.logger.Info("realtime engine stopped")
	}()

	for {
		select {
		case ev := <-e.events:
			e.process(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) process(ctx context.Context, ev event) {
	ctx, cancel := context.WithTimeout(ctx, e.eventTimeout)
	defer cancel()

	var err error
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while handling event", "event", ev.name, "panic", r)
			err = fmt.Errorf("panic handling %s: %v", ev.name, r)
		}
		if ev.reply != nil {
			ev.reply <- err
		}
	}()

	if ev.call != nil {
		err = ev.call(ctx)
		return
	}

	e.handle(ctx, ev)
}

// Do runs fn on the loop and waits for its result. Once accepted, fn runs to
// completion even if ctx is cancelled while waiting.
func (e *Engine) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	reply := make(chan error, 1)
	ev := event{name: "call", call: fn, reply: reply}

	select {
	case e.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// Connect registers an authenticated connection, joins it to its personal
// channel and to every conversation the user is in, and announces the user
// online on the first connection. A rejected connection is not registered.
//
// ctx only bounds the wait for a queue slot. Once queued, Connect waits for
// the loop so a nil error always means the connection is registered.
func (e *Engine) Connect(ctx context.Context, c *Conn) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	reply := make(chan error, 1)
	ev := event{name: "connect", reply: reply, call: func(ctx context.Context) error {
		return e.connect(ctx, c)
	}}

	select {
	case e.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}

	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrStopped
	}
}

// Disconnect tears down a connection. It is safe to call for connections
// that were never registered.
func (e *Engine) Disconnect(c *Conn) {
	select {
	case e.events <- event{name: "disconnect", conn: c}:
	case <-e.done:
	}
}

// Handle queues one inbound frame. Frames over the connection's rate or
// arriving while the queue is full are dropped.
func (e *Engine) Handle(c *Conn, env wire.Envelope) {
	if !c.Allow() {
		e.metrics.EventDropped("rate_limited")
		e.logger.Debug("rate limited live event", "event", env.Event, "user_id", c.Identity.UserID)
		return
	}

	select {
	case e.events <- event{name: env.Event, conn: c, data: env.Data}:
	case <-e.done:
	default:
		e.metrics.EventDropped("queue_full")
		e.logger.Warn("event queue full, dropping live event", "event", env.Event, "user_id", c.Identity.UserID)
	}
}

// Online reports whether a user has a live connection
func (e *Engine) Online(ctx context.Context, userID string) (bool, error) {
	var online bool
	err := e.Do(ctx, func(context.Context) error {
		online = e.presence.IsOnline(userID)
		return nil
	})
	return online, err
}

// TypingUsers returns the users typing in a conversation
func (e *Engine) TypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	var users []string
	err := e.Do(ctx, func(context.Context) error {
		users = e.typing.Users(conversationID)
		return nil
	})
	return users, err
}

// ExpireTyping stops typing entries last signalled more than ttl ago and
// announces each as stopped. It returns the number of expired entries.
func (e *Engine) ExpireTyping(ctx context.Context, ttl time.Duration) (int, error) {
	var n int
	err := e.Do(ctx, func(context.Context) error {
		expired := e.typing.Expire(e.now().Add(-ttl))
		for _, entry := range expired {
			e.hub.Publish(wire.ConversationChannel(entry.ConversationID), wire.EventUserTyping, wire.Typing{
				ConversationID: entry.ConversationID,
				UserID:         entry.UserID,
				Typing:         false,
			})
		}
		n = len(expired)
		return nil
	})
	return n, err
}

func (e *Engine) handle(ctx context.Context, ev event) {
	var err error
	switch ev.name {
	case "disconnect":
		e.metrics.Event(ev.name)
		e.disconnect(ctx, ev.conn)
		return
	case wire.EventJoinConversation:
		err = e.joinConversation(ctx, ev.conn, ev.data)
	case wire.EventTypingStart:
		err = e.typingStart(ctx, ev.conn, ev.data)
	case wire.EventTypingStop:
		err = e.typingStop(ev.conn, ev.data)
	case wire.EventMessageRead:
		err = e.messageRead(ctx, ev.conn, ev.data)
	default:
		e.metrics.EventDropped("unknown_event")
		e.logger.Debug("unknown live event", "event", ev.name, "user_id", ev.conn.Identity.UserID)
		return
	}

	// Only known names become label values
	e.metrics.Event(ev.name)
	if err == nil {
		return
	}

	e.metrics.EventDropped("rejected")
	if errors.Is(err, apperr.ErrPersistence) {
		e.logger.Error("failed to handle live event", "event", ev.name, "user_id", ev.conn.Identity.UserID, "error", err)
	} else {
		e.logger.Debug("dropped live event", "event", ev.name, "user_id", ev.conn.Identity.UserID, "error", err)
	}
}

func (e *Engine) connect(ctx context.Context, c *Conn) error {
	if !c.Identity.Valid() {
		return account.ErrNoIdentity
	}

	user, err := e.store.Users().GetByID(ctx, c.Identity.UserID)
	if err != nil {
		return apperr.Persistence("loading user", err)
	}
	if user == nil {
		return account.ErrUserNotFound
	}
	if !user.IsActive {
		return account.ErrInactiveAccount
	}

	convIDs, err := e.store.Conversations().ListIDsForUser(ctx, user.ID)
	if err != nil {
		return apperr.Persistence("listing conversations", err)
	}

	e.hub.Add(c)
	e.hub.Join(c.ID, wire.UserChannel(user.ID))
	for _, id := range convIDs {
		e.hub.Join(c.ID, wire.ConversationChannel(id))
	}

	first := e.presence.Register(user.ID, c.ID)
	e.updateGauges()
	e.logger.Debug("connection registered", "conn_id", c.ID, "user_id", user.ID, "conversations", len(convIDs))

	if first {
		e.announce(ctx, c.Identity, true)
	}
	return nil
}

func (e *Engine) disconnect(ctx context.Context, c *Conn) {
	e.hub.Remove(c.ID)

	userID, last := e.presence.Unregister(c.ID)
	e.updateGauges()
	if userID == "" {
		return
	}

	for _, convID := range e.typing.ClearUser(userID) {
		e.hub.Publish(wire.ConversationChannel(convID), wire.EventUserTyping, wire.Typing{
			ConversationID: convID,
			UserID:         userID,
			Username:       c.Identity.Username,
			Typing:         false,
		})
	}

	e.logger.Debug("connection unregistered", "conn_id", c.ID, "user_id", userID, "last", last)
	if last {
		e.announce(ctx, c.Identity, false)
	}
}

// announce sends user.online to every peer sharing a conversation with the user
func (e *Engine) announce(ctx context.Context, identity account.Identity, online bool) {
	peers, err := e.store.Conversations().ListPeers(ctx, identity.UserID)
	if err != nil {
		e.logger.Error("failed to list peers for presence", "user_id", identity.UserID, "error", err)
		return
	}

	body := wire.Presence{
		UserID:   identity.UserID,
		Username: identity.Username,
		Online:   online,
	}
	for _, peer := range peers {
		e.hub.Publish(wire.UserChannel(peer), wire.EventUserOnline, body)
	}
}

func (e *Engine) joinConversation(ctx context.Context, c *Conn, data json.RawMessage) error {
	var ref wire.ConversationRef
	if err := decode(data, &ref, &ref.ConversationID); err != nil {
		return err
	}

	ok, err := e.store.Conversations().IsParticipant(ctx, ref.ConversationID, c.Identity.UserID)
	if err != nil {
		e.hub.SendTo(c.ID, wire.EventJoinConversation, wire.JoinResult{ConversationID: ref.ConversationID})
		return apperr.Persistence("checking participant", err)
	}

	joined := ok && e.hub.Join(c.ID, wire.ConversationChannel(ref.ConversationID))
	e.hub.SendTo(c.ID, wire.EventJoinConversation, wire.JoinResult{
		ConversationID: ref.ConversationID,
		Joined:         joined,
	})
	if !ok {
		return fmt.Errorf("%w: not a participant", apperr.ErrForbidden)
	}
	return nil
}

func (e *Engine) typingStart(ctx context.Context, c *Conn, data json.RawMessage) error {
	var ref wire.ConversationRef
	if err := decode(data, &ref, &ref.ConversationID); err != nil {
		return err
	}

	ok, err := e.store.Conversations().IsParticipant(ctx, ref.ConversationID, c.Identity.UserID)
	if err != nil {
		return apperr.Persistence("checking participant", err)
	}
	if !ok {
		return fmt.Errorf("%w: not a participant", apperr.ErrForbidden)
	}

	e.typing.Start(ref.ConversationID, c.Identity.UserID, e.now())
	e.publishTyping(c, ref.ConversationID, true)
	return nil
}

func (e *Engine) typingStop(c *Conn, data json.RawMessage) error {
	var ref wire.ConversationRef
	if err := decode(data, &ref, &ref.ConversationID); err != nil {
		return err
	}

	existed := e.typing.Stop(ref.ConversationID, c.Identity.UserID)
	if !existed && !e.hub.IsMember(c.ID, wire.ConversationChannel(ref.ConversationID)) {
		return fmt.Errorf("%w: not a member of the conversation channel", apperr.ErrForbidden)
	}

	e.publishTyping(c, ref.ConversationID, false)
	return nil
}

func (e *Engine) publishTyping(c *Conn, conversationID string, typing bool) {
	e.hub.PublishExcept(wire.ConversationChannel(conversationID), wire.EventUserTyping, wire.Typing{
		ConversationID: conversationID,
		UserID:         c.Identity.UserID,
		Username:       c.Identity.Username,
		Typing:         typing,
	}, c.ID)
}

func (e *Engine) messageRead(ctx context.Context, c *Conn, data json.RawMessage) error {
	var ref wire.MessageRef
	if err := decode(data, &ref, &ref.ConversationID); err != nil {
		return err
	}
	if ref.MessageID == "" {
		return fmt.Errorf("%w: message_id is required", apperr.ErrValidation)
	}

	_, err := e.receipts.MarkMessageRead(ctx, c.Identity, ref.ConversationID, ref.MessageID)
	return err
}

func (e *Engine) updateGauges() {
	e.metrics.SetConnections(e.hub.Len())
	e.metrics.SetOnlineUsers(e.presence.OnlineUsers())
}

// decode unmarshals event data and requires a conversation id
func decode(data json.RawMessage, v any, conversationID *string) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing event data", apperr.ErrValidation)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed event data: %v", apperr.ErrValidation, err)
	}
	if *conversationID == "" {
		return fmt.Errorf("%w: conversation_id is required", apperr.ErrValidation)
	}
	return nil
}
