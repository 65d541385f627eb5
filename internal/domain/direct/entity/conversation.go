package entity

import (
	"time"

	account "github.com/vadim/neo-social/internal/domain/account/entity"
)

// Conversation is a direct thread between exactly two users
type Conversation struct {
	ID        string    `json:"id"`
	DirectKey string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"` // bumped on every new message
}

// Participant links one user to one conversation
type Participant struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationSummary is a conversation as listed for one viewer
type ConversationSummary struct {
	Conversation
	OtherUser   *account.Summary `json:"other_user,omitempty"`
	LastMessage *Message         `json:"last_message,omitempty"`
	UnreadCount int              `json:"unread_count"`
}

// DirectKey is the ordered pair key for a direct conversation.
// DirectKey(a, b) == DirectKey(b, a).
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
