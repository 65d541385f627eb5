package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/neo-social/internal/apperr"
	account "github.com/vadim/neo-social/internal/domain/account/entity"
	"github.com/vadim/neo-social/internal/domain/direct/entity"
	notification "github.com/vadim/neo-social/internal/domain/notification/entity"
	"github.com/vadim/neo-social/internal/store"
)

// NotificationRecorder persists a notification inside the caller's transaction
type NotificationRecorder interface {
	Record(ctx context.Context, repo store.NotificationRepository, n notification.Notification) (*notification.Notification, error)
}

// Service handles direct conversation business logic
type Service struct {
	store    store.Store
	notifier NotificationRecorder
	clock    *orderedClock
}

// Option configures the service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.clock.now = now }
}

// New creates a new direct message service
func New(st store.Store, notifier NotificationRecorder, opts ...Option) *Service {
	s := &Service{
		store:    st,
		notifier: notifier,
		clock:    &orderedClock{now: time.Now},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartConversationInput represents input for starting a direct conversation
type StartConversationInput struct {
	Identity    account.Identity
	RecipientID string
}

// StartConversationOutput represents output from starting a direct conversation
type StartConversationOutput struct {
	Conversation *entity.Conversation
	Created      bool
}

// StartConversation gets or creates the direct conversation with a recipient
func (s *Service) StartConversation(ctx context.Context, in StartConversationInput) (*StartConversationOutput, error) {
	var out StartConversationOutput
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		conv, created, err := s.getOrCreate(ctx, tx, in.Identity.UserID, in.RecipientID)
		if err != nil {
			return err
		}
		out.Conversation, out.Created = conv, created
		return nil
	})
	if err != nil {
		return nil, wrapCommit(err)
	}
	return &out, nil
}

func (s *Service) getOrCreate(ctx context.Context, tx store.Store, senderID, recipientID string) (*entity.Conversation, bool, error) {
	if recipientID == "" {
		return nil, false, entity.ErrRecipientRequired
	}
	if recipientID == senderID {
		return nil, false, entity.ErrSelfConversation
	}

	recipient, err := tx.Users().GetByID(ctx, recipientID)
	if err != nil {
		return nil, false, apperr.Persistence("loading recipient", err)
	}
	if recipient == nil || !recipient.IsActive {
		return nil, false, entity.ErrRecipientNotFound
	}

	now := s.clock.Now()
	conv, created, err := tx.Conversations().GetOrCreateDirect(ctx, &entity.Conversation{
		ID:        uuid.New().String(),
		DirectKey: entity.DirectKey(senderID, recipientID),
		CreatedAt: now,
		UpdatedAt: now,
	}, senderID, recipientID)
	if err != nil {
		return nil, false, apperr.Persistence("getting or creating conversation", err)
	}
	return conv, created, nil
}

// SendMessageInput represents input for sending a message.
// An empty ConversationID targets the direct conversation with RecipientID.
type SendMessageInput struct {
	Identity       account.Identity
	ConversationID string
	RecipientID    string
	Content        string
	MediaURL       string
	Type           entity.MessageType
	ReplyToID      string
}

// SendMessageOutput represents output from sending a message
type SendMessageOutput struct {
	Message             *entity.Message
	ConversationCreated bool
	Notifications       []*notification.Notification
}

// SendMessage validates and persists a message, bumps the conversation and
// records a notification for the other participant, all in one transaction.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*SendMessageOutput, error) {
	content, mediaURL, typ, err := entity.NormalizeMessage(in.Content, in.MediaURL, in.Type)
	if err != nil {
		return nil, err
	}

	senderID := in.Identity.UserID
	var out SendMessageOutput

	err = s.store.WithinTx(ctx, func(tx store.Store) error {
		conv, err := s.resolveConversation(ctx, tx, senderID, in.ConversationID, in.RecipientID, &out)
		if err != nil {
			return err
		}

		if in.ReplyToID != "" {
			parent, err := tx.Messages().GetByID(ctx, in.ReplyToID)
			if err != nil {
				return apperr.Persistence("loading reply target", err)
			}
			if parent == nil || parent.ConversationID != conv.ID {
				return entity.ErrInvalidReplyTo
			}
		}

		now := s.clock.Now()
		msg := &entity.Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			SenderID:       senderID,
			Content:        content,
			Type:           typ,
			MediaURL:       mediaURL,
			ReplyToID:      in.ReplyToID,
			CreatedAt:      now,
		}
		if err := tx.Messages().Create(ctx, msg); err != nil {
			return apperr.Persistence("creating message", err)
		}
		if err := tx.Conversations().Touch(ctx, conv.ID, now); err != nil {
			return apperr.Persistence("touching conversation", err)
		}
		out.Message = msg

		participants, err := tx.Conversations().ParticipantIDs(ctx, conv.ID)
		if err != nil {
			return apperr.Persistence("loading participants", err)
		}
		for _, userID := range participants {
			if userID == senderID {
				continue
			}
			n, err := s.notifier.Record(ctx, tx.Notifications(), notification.Notification{
				UserID:         userID,
				FromUserID:     senderID,
				Type:           notification.TypeMessage,
				ConversationID: conv.ID,
				MessageID:      msg.ID,
			})
			if err != nil {
				return err
			}
			if n != nil {
				out.Notifications = append(out.Notifications, n)
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapCommit(err)
	}

	return &out, nil
}

func (s *Service) resolveConversation(ctx context.Context, tx store.Store, senderID, conversationID, recipientID string, out *SendMessageOutput) (*entity.Conversation, error) {
	if conversationID == "" {
		conv, created, err := s.getOrCreate(ctx, tx, senderID, recipientID)
		if err != nil {
			return nil, err
		}
		out.ConversationCreated = created
		return conv, nil
	}

	conv, err := tx.Conversations().GetByID(ctx, conversationID)
	if err != nil {
		return nil, apperr.Persistence("loading conversation", err)
	}
	if conv == nil {
		return nil, entity.ErrConversationNotFound
	}
	if err := requireParticipant(ctx, tx, conv.ID, senderID); err != nil {
		return nil, err
	}
	return conv, nil
}

// DeleteMessage removes a message sent by the caller and returns it
func (s *Service) DeleteMessage(ctx context.Context, identity account.Identity, messageID string) (*entity.Message, error) {
	var deleted *entity.Message
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		msg, err := tx.Messages().GetByID(ctx, messageID)
		if err != nil {
			return apperr.Persistence("loading message", err)
		}
		if msg == nil {
			return entity.ErrMessageNotFound
		}
		if msg.SenderID != identity.UserID {
			return entity.ErrNotSender
		}
		if err := tx.Messages().Delete(ctx, msg.ID); err != nil {
			return apperr.Persistence("deleting message", err)
		}
		deleted = msg
		return nil
	})
	if err != nil {
		return nil, wrapCommit(err)
	}
	return deleted, nil
}

// ToggleReactionInput represents input for reacting to a message
type ToggleReactionInput struct {
	Identity  account.Identity
	MessageID string
	Emoji     string
}

// ToggleReactionOutput represents output from reacting to a message
type ToggleReactionOutput struct {
	Message *entity.Message
	Emoji   string
	Action  entity.ReactionAction
}

// ToggleReaction adds the caller's reaction, or removes it if it exists
func (s *Service) ToggleReaction(ctx context.Context, in ToggleReactionInput) (*ToggleReactionOutput, error) {
	emoji, err := entity.ValidateEmoji(in.Emoji)
	if err != nil {
		return nil, err
	}

	out := ToggleReactionOutput{Emoji: emoji}
	err = s.store.WithinTx(ctx, func(tx store.Store) error {
		msg, err := tx.Messages().GetByID(ctx, in.MessageID)
		if err != nil {
			return apperr.Persistence("loading message", err)
		}
		if msg == nil {
			return entity.ErrMessageNotFound
		}
		if err := requireParticipant(ctx, tx, msg.ConversationID, in.Identity.UserID); err != nil {
			return err
		}
		out.Message = msg

		existing, err := tx.Reactions().Find(ctx, msg.ID, in.Identity.UserID, emoji)
		if err != nil {
			return apperr.Persistence("finding reaction", err)
		}
		if existing != nil {
			if err := tx.Reactions().Delete(ctx, existing.ID); err != nil {
				return apperr.Persistence("deleting reaction", err)
			}
			out.Action = entity.ReactionRemoved
			return nil
		}

		if err := tx.Reactions().Create(ctx, &entity.Reaction{
			ID:        uuid.New().String(),
			MessageID: msg.ID,
			UserID:    in.Identity.UserID,
			Emoji:     emoji,
			CreatedAt: s.clock.Now(),
		}); err != nil {
			return apperr.Persistence("creating reaction", err)
		}
		out.Action = entity.ReactionAdded
		return nil
	})
	if err != nil {
		return nil, wrapCommit(err)
	}
	return &out, nil
}

// HasUserReacted reports whether a user currently reacts to a message with emoji
func (s *Service) HasUserReacted(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	re, err := s.store.Reactions().Find(ctx, messageID, userID, emoji)
	if err != nil {
		return false, apperr.Persistence("finding reaction", err)
	}
	return re != nil, nil
}

// Reactions lists a message's reactions for a participant
func (s *Service) Reactions(ctx context.Context, identity account.Identity, messageID string) ([]entity.Reaction, error) {
	msg, err := s.store.Messages().GetByID(ctx, messageID)
	if err != nil {
		return nil, apperr.Persistence("loading message", err)
	}
	if msg == nil {
		return nil, entity.ErrMessageNotFound
	}
	if err := requireParticipant(ctx, s.store, msg.ConversationID, identity.UserID); err != nil {
		return nil, err
	}

	list, err := s.store.Reactions().ListByMessage(ctx, messageID)
	if err != nil {
		return nil, apperr.Persistence("listing reactions", err)
	}
	return list, nil
}

// ListConversationsInput represents input for listing conversations
type ListConversationsInput struct {
	Identity account.Identity
	Limit    int
	Offset   int
}

// ListConversations returns the caller's conversations, most recently
// updated first, with the other participant, last message and unread count
func (s *Service) ListConversations(ctx context.Context, in ListConversationsInput) ([]entity.ConversationSummary, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 50
	}

	viewer := in.Identity.UserID
	convs, err := s.store.Conversations().ListForUser(ctx, viewer, limit, in.Offset)
	if err != nil {
		return nil, apperr.Persistence("listing conversations", err)
	}

	summaries := make([]entity.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary := entity.ConversationSummary{Conversation: conv}

		participants, err := s.store.Conversations().ParticipantIDs(ctx, conv.ID)
		if err != nil {
			return nil, apperr.Persistence("loading participants", err)
		}
		for _, userID := range participants {
			if userID == viewer {
				continue
			}
			u, err := s.store.Users().GetByID(ctx, userID)
			if err != nil {
				return nil, apperr.Persistence("loading participant", err)
			}
			if u != nil {
				other := u.Summary()
				summary.OtherUser = &other
			}
			break
		}

		if summary.LastMessage, err = s.store.Messages().Last(ctx, conv.ID); err != nil {
			return nil, apperr.Persistence("loading last message", err)
		}
		if summary.UnreadCount, err = s.store.Messages().UnreadCount(ctx, conv.ID, viewer); err != nil {
			return nil, apperr.Persistence("counting unread messages", err)
		}

		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// OpenConversationInput represents input for opening a conversation thread
type OpenConversationInput struct {
	Identity       account.Identity
	ConversationID string
	AfterID        string
	Limit          int
}

// OpenConversationOutput represents output from opening a conversation thread
type OpenConversationOutput struct {
	Messages   []entity.Message
	MarkedRead int64
	HasMore    bool
}

// OpenConversation marks every unread message addressed to the caller as
// read in one batch and returns a page of messages, oldest first
func (s *Service) OpenConversation(ctx context.Context, in OpenConversationInput) (*OpenConversationOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 50
	}

	conv, err := s.store.Conversations().GetByID(ctx, in.ConversationID)
	if err != nil {
		return nil, apperr.Persistence("loading conversation", err)
	}
	if conv == nil {
		return nil, entity.ErrConversationNotFound
	}
	if err := requireParticipant(ctx, s.store, conv.ID, in.Identity.UserID); err != nil {
		return nil, err
	}

	if in.AfterID != "" {
		cursor, err := s.store.Messages().GetByID(ctx, in.AfterID)
		if err != nil {
			return nil, apperr.Persistence("loading cursor message", err)
		}
		if cursor == nil || cursor.ConversationID != conv.ID {
			return nil, entity.ErrMessageNotFound
		}
	}

	marked, err := s.store.Messages().MarkRead(ctx, conv.ID, in.Identity.UserID, s.clock.Now())
	if err != nil {
		return nil, apperr.Persistence("marking messages read", err)
	}

	messages, err := s.store.Messages().List(ctx, conv.ID, in.AfterID, limit+1)
	if err != nil {
		return nil, apperr.Persistence("listing messages", err)
	}

	out := &OpenConversationOutput{MarkedRead: marked}
	if len(messages) > limit {
		messages = messages[:limit]
		out.HasMore = true
	}
	out.Messages = messages
	return out, nil
}

// MarkMessageReadInput represents input for a single read receipt
type MarkMessageReadInput struct {
	Identity       account.Identity
	ConversationID string
	MessageID      string
}

// MarkMessageReadOutput represents output from a single read receipt.
// Changed is false when the message was already read.
type MarkMessageReadOutput struct {
	Message *entity.Message
	Changed bool
}

// MarkMessageRead marks one message the caller received as read
func (s *Service) MarkMessageRead(ctx context.Context, in MarkMessageReadInput) (*MarkMessageReadOutput, error) {
	if err := requireParticipant(ctx, s.store, in.ConversationID, in.Identity.UserID); err != nil {
		return nil, err
	}

	msg, err := s.store.Messages().GetByID(ctx, in.MessageID)
	if err != nil {
		return nil, apperr.Persistence("loading message", err)
	}
	if msg == nil || msg.ConversationID != in.ConversationID {
		return nil, entity.ErrMessageNotFound
	}
	if msg.SenderID == in.Identity.UserID {
		return nil, entity.ErrOwnMessage
	}

	now := s.clock.Now()
	changed, err := s.store.Messages().MarkOneRead(ctx, msg.ID, in.Identity.UserID, now)
	if err != nil {
		return nil, apperr.Persistence("marking message read", err)
	}
	if changed {
		msg.Read, msg.ReadAt = true, &now
	}

	return &MarkMessageReadOutput{Message: msg, Changed: changed}, nil
}

// UnreadCount counts unread messages in a conversation addressed to viewerID
func (s *Service) UnreadCount(ctx context.Context, conversationID, viewerID string) (int, error) {
	count, err := s.store.Messages().UnreadCount(ctx, conversationID, viewerID)
	if err != nil {
		return 0, apperr.Persistence("counting unread messages", err)
	}
	return count, nil
}

// IsParticipant reports whether userID participates in a conversation
func (s *Service) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	ok, err := s.store.Conversations().IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return false, apperr.Persistence("checking participant", err)
	}
	return ok, nil
}

func requireParticipant(ctx context.Context, st store.Store, conversationID, userID string) error {
	ok, err := st.Conversations().IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return apperr.Persistence("checking participant", err)
	}
	if !ok {
		return entity.ErrNotParticipant
	}
	return nil
}

func wrapCommit(err error) error {
	if apperr.Kind(err) != nil {
		return err
	}
	return apperr.Persistence("committing", err)
}
