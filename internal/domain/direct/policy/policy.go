package policy

import (
	"context"
	"time"

	account "github.com/vadim/neo-social/internal/domain/account/entity"
	"github.com/vadim/neo-social/internal/domain/direct/entity"
	"github.com/vadim/neo-social/internal/domain/direct/service"
	notification "github.com/vadim/neo-social/internal/domain/notification/entity"
	"github.com/vadim/neo-social/internal/metrics"
	"github.com/vadim/neo-social/internal/realtime/wire"
)

// DirectService defines the interface for the direct service
type DirectService interface {
	StartConversation(ctx context.Context, in service.StartConversationInput) (*service.StartConversationOutput, error)
	SendMessage(ctx context.Context, in service.SendMessageInput) (*service.SendMessageOutput, error)
	DeleteMessage(ctx context.Context, identity account.Identity, messageID string) (*entity.Message, error)
	ToggleReaction(ctx context.Context, in service.ToggleReactionInput) (*service.ToggleReactionOutput, error)
	Reactions(ctx context.Context, identity account.Identity, messageID string) ([]entity.Reaction, error)
	ListConversations(ctx context.Context, in service.ListConversationsInput) ([]entity.ConversationSummary, error)
	OpenConversation(ctx context.Context, in service.OpenConversationInput) (*service.OpenConversationOutput, error)
	MarkMessageRead(ctx context.Context, in service.MarkMessageReadInput) (*service.MarkMessageReadOutput, error)
}

// Publisher pushes an event to every connection in a channel
type Publisher interface {
	Publish(channel, event string, payload any)
}

// NotificationDeliverer pushes recorded notifications to their targets
type NotificationDeliverer interface {
	Deliver(ctx context.Context, n *notification.Notification)
}

// PresenceChecker reports whether a user has a live connection
type PresenceChecker interface {
	IsOnline(userID string) bool
}

// Policy runs direct operations for an authenticated caller and fans the
// results out to live channels once they are persisted.
//
// Methods touch the presence registry and must run on the realtime loop.
type Policy struct {
	svc       DirectService
	publisher Publisher
	notifier  NotificationDeliverer
	presence  PresenceChecker
	metrics   *metrics.Metrics
}

// New creates a new direct policy
func New(svc DirectService, publisher Publisher, notifier NotificationDeliverer, presence PresenceChecker, m *metrics.Metrics) *Policy {
	return &Policy{
		svc:       svc,
		publisher: publisher,
		notifier:  notifier,
		presence:  presence,
		metrics:   m,
	}
}

// Sender is the author card embedded in message.new
type Sender struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

// MessagePayload is a message as broadcast to clients
type MessagePayload struct {
	entity.Message
	Sender Sender `json:"sender"`
}

// StartConversation gets or creates the direct conversation with a user
func (p *Policy) StartConversation(ctx context.Context, identity account.Identity, recipientID string) (*service.StartConversationOutput, error) {
	return p.svc.StartConversation(ctx, service.StartConversationInput{
		Identity:    identity,
		RecipientID: recipientID,
	})
}

// SendMessageInput represents input for sending a message
type SendMessageInput struct {
	Identity       account.Identity
	ConversationID string
	RecipientID    string
	Content        string
	MediaURL       string
	Type           entity.MessageType
	ReplyToID      string
}

// SendMessage persists a message, then broadcasts message.new to the
// conversation channel and delivers the recipient's notification
func (p *Policy) SendMessage(ctx context.Context, in SendMessageInput) (*MessagePayload, error) {
	out, err := p.svc.SendMessage(ctx, service.SendMessageInput{
		Identity:       in.Identity,
		ConversationID: in.ConversationID,
		RecipientID:    in.RecipientID,
		Content:        in.Content,
		MediaURL:       in.MediaURL,
		Type:           in.Type,
		ReplyToID:      in.ReplyToID,
	})
	if err != nil {
		return nil, err
	}

	payload := &MessagePayload{
		Message: *out.Message,
		Sender: Sender{
			ID:             in.Identity.UserID,
			Username:       in.Identity.Username,
			ProfilePicture: in.Identity.ProfilePicture,
		},
	}

	p.publisher.Publish(wire.ConversationChannel(out.Message.ConversationID), wire.EventMessageNew, map[string]any{
		"message": payload,
	})
	for _, n := range out.Notifications {
		p.notifier.Deliver(ctx, n)
	}
	p.metrics.MessageSent()

	return payload, nil
}

// DeleteMessage removes the caller's message and broadcasts message.deleted
func (p *Policy) DeleteMessage(ctx context.Context, identity account.Identity, messageID string) error {
	msg, err := p.svc.DeleteMessage(ctx, identity, messageID)
	if err != nil {
		return err
	}

	p.publisher.Publish(wire.ConversationChannel(msg.ConversationID), wire.EventMessageDeleted, map[string]any{
		"message_id":      msg.ID,
		"conversation_id": msg.ConversationID,
	})
	return nil
}

// ReactionEvent is the body of message.reaction
type ReactionEvent struct {
	MessageID      string                `json:"message_id"`
	ConversationID string                `json:"conversation_id"`
	UserID         string                `json:"user_id"`
	Username       string                `json:"username"`
	Emoji          string                `json:"emoji"`
	Action         entity.ReactionAction `json:"action"`
}

// ToggleReaction toggles the caller's reaction and broadcasts message.reaction
func (p *Policy) ToggleReaction(ctx context.Context, identity account.Identity, messageID, emoji string) (*ReactionEvent, error) {
	out, err := p.svc.ToggleReaction(ctx, service.ToggleReactionInput{
		Identity:  identity,
		MessageID: messageID,
		Emoji:     emoji,
	})
	if err != nil {
		return nil, err
	}

	ev := &ReactionEvent{
		MessageID:      out.Message.ID,
		ConversationID: out.Message.ConversationID,
		UserID:         identity.UserID,
		Username:       identity.Username,
		Emoji:          out.Emoji,
		Action:         out.Action,
	}
	p.publisher.Publish(wire.ConversationChannel(ev.ConversationID), wire.EventMessageReaction, ev)
	return ev, nil
}

// Reactions lists a message's reactions
func (p *Policy) Reactions(ctx context.Context, identity account.Identity, messageID string) ([]entity.Reaction, error) {
	return p.svc.Reactions(ctx, identity, messageID)
}

// ListConversations lists the caller's conversations with the other
// participant's presence filled in
func (p *Policy) ListConversations(ctx context.Context, identity account.Identity, limit, offset int) ([]entity.ConversationSummary, error) {
	list, err := p.svc.ListConversations(ctx, service.ListConversationsInput{
		Identity: identity,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, err
	}

	for i := range list {
		if other := list[i].OtherUser; other != nil {
			other.Online = p.presence.IsOnline(other.ID)
		}
	}
	return list, nil
}

// OpenConversation returns a page of messages and marks the caller's
// incoming messages read without broadcasting per-message receipts
func (p *Policy) OpenConversation(ctx context.Context, in service.OpenConversationInput) (*service.OpenConversationOutput, error) {
	return p.svc.OpenConversation(ctx, in)
}

// ReadEvent is the body of message.read
type ReadEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

// MarkMessageRead marks one message read and broadcasts message.read when
// its state changed. It reports whether a receipt was emitted.
func (p *Policy) MarkMessageRead(ctx context.Context, identity account.Identity, conversationID, messageID string) (bool, error) {
	out, err := p.svc.MarkMessageRead(ctx, service.MarkMessageReadInput{
		Identity:       identity,
		ConversationID: conversationID,
		MessageID:      messageID,
	})
	if err != nil {
		return false, err
	}
	if !out.Changed {
		return false, nil
	}

	p.publisher.Publish(wire.ConversationChannel(conversationID), wire.EventMessageRead, ReadEvent{
		MessageID:      out.Message.ID,
		ConversationID: conversationID,
		UserID:         identity.UserID,
		ReadAt:         *out.Message.ReadAt,
	})
	return true, nil
}
