// Package store is the persistence contract of the messaging core.
//
// Repositories expose the exact query shapes the core needs. Lookups return
// (nil, nil) when the row does not exist. Store has two implementations:
// Postgres for production and Memory for tests and database-less runs.
package store

import (
	"context"
	"time"

	account "github.com/vadim/neo-social/internal/domain/account/entity"
	direct "github.com/vadim/neo-social/internal/domain/direct/entity"
	follow "github.com/vadim/neo-social/internal/domain/follow/entity"
	notification "github.com/vadim/neo-social/internal/domain/notification/entity"
)

// Store groups the repositories and runs units of work atomically
type Store interface {
	Users() UserRepository
	Conversations() ConversationRepository
	Messages() MessageRepository
	Reactions() ReactionRepository
	Notifications() NotificationRepository
	Follows() FollowRepository

	// WithinTx runs fn against a transactional view of the store. Any error
	// returned by fn rolls back every write made through tx. Nested calls
	// join the outer transaction.
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	Ping(ctx context.Context) error
}

// UserRepository reads user accounts owned by the wider backend
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*account.User, error)
}

// ConversationRepository stores direct conversations and their participants
type ConversationRepository interface {
	// GetOrCreateDirect inserts conv with participants a and b unless a
	// conversation with the same direct key exists. It returns the stored
	// conversation and whether it was created by this call.
	GetOrCreateDirect(ctx context.Context, conv *direct.Conversation, a, b string) (*direct.Conversation, bool, error)
	FindDirect(ctx context.Context, a, b string) (*direct.Conversation, error)
	GetByID(ctx context.Context, id string) (*direct.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
	// ListIDsForUser returns ids of every conversation userID participates in.
	ListIDsForUser(ctx context.Context, userID string) ([]string, error)
	// ListPeers returns the distinct other participants across userID's conversations.
	ListPeers(ctx context.Context, userID string) ([]string, error)
	// ListForUser returns userID's conversations, most recently updated first.
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]direct.Conversation, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

// MessageRepository stores messages in conversation order
type MessageRepository interface {
	Create(ctx context.Context, msg *direct.Message) error
	GetByID(ctx context.Context, id string) (*direct.Message, error)
	// List returns up to limit messages oldest first, strictly after afterID
	// when it is not empty.
	List(ctx context.Context, conversationID, afterID string, limit int) ([]direct.Message, error)
	Last(ctx context.Context, conversationID string) (*direct.Message, error)
	Delete(ctx context.Context, id string) error
	// MarkRead marks every unread message not sent by notSentBy as read.
	MarkRead(ctx context.Context, conversationID, notSentBy string, at time.Time) (int64, error)
	// MarkOneRead marks one message read if it is unread and not sent by readerID.
	MarkOneRead(ctx context.Context, id, readerID string, at time.Time) (bool, error)
	UnreadCount(ctx context.Context, conversationID, viewerID string) (int, error)
}

// ReactionRepository stores (message, user, emoji) reactions
type ReactionRepository interface {
	Find(ctx context.Context, messageID, userID, emoji string) (*direct.Reaction, error)
	Create(ctx context.Context, r *direct.Reaction) error
	Delete(ctx context.Context, id string) error
	ListByMessage(ctx context.Context, messageID string) ([]direct.Reaction, error)
}

// NotificationRepository stores notification records
type NotificationRepository interface {
	Create(ctx context.Context, n *notification.Notification) error
	// FindUnread returns an unread notification describing the same event as match.
	FindUnread(ctx context.Context, match notification.Notification) (*notification.Notification, error)
	GetByID(ctx context.Context, id string) (*notification.Notification, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]notification.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// FollowRepository stores follow relationships
type FollowRepository interface {
	Get(ctx context.Context, followerID, followedID string) (*follow.Follow, error)
	Create(ctx context.Context, f *follow.Follow) error
	UpdateStatus(ctx context.Context, followerID, followedID string, status follow.Status) error
	Delete(ctx context.Context, followerID, followedID string) error
}
