package entity

import (
	"fmt"
	"time"

	"github.com/vadim/neo-social/internal/apperr"
	account "github.com/vadim/neo-social/internal/domain/account/entity"
)

// Type is the trigger of a notification
type Type string

const (
	TypeLike    Type = "like"
	TypeComment Type = "comment"
	TypeFollow  Type = "follow"
	TypeMessage Type = "message"
	TypeMention Type = "mention"
)

// Valid reports whether t is a known notification type
func (t Type) Valid() bool {
	switch t {
	case TypeLike, TypeComment, TypeFollow, TypeMessage, TypeMention:
		return true
	}
	return false
}

// Notification records one fan-out event for a target user.
// Reference fields are empty when not applicable.
type Notification struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	FromUserID     string    `json:"from_user_id,omitempty"`
	Type           Type      `json:"notification_type"`
	PostID         string    `json:"post_id,omitempty"`
	CommentID      string    `json:"comment_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

// SameTarget reports whether two notifications describe the same event,
// ignoring identity, read state and time.
func (n Notification) SameTarget(o Notification) bool {
	return n.UserID == o.UserID &&
		n.FromUserID == o.FromUserID &&
		n.Type == o.Type &&
		n.PostID == o.PostID &&
		n.CommentID == o.CommentID &&
		n.ConversationID == o.ConversationID &&
		n.MessageID == o.MessageID
}

// View is a notification with its source user resolved
type View struct {
	Notification
	FromUser *account.Summary `json:"from_user,omitempty"`
}

var (
	ErrNotificationNotFound = fmt.Errorf("%w: notification not found", apperr.ErrNotFound)
	ErrNotOwner             = fmt.Errorf("%w: notification belongs to another user", apperr.ErrForbidden)
	ErrInvalidType          = fmt.Errorf("%w: invalid notification type", apperr.ErrValidation)
	ErrTargetRequired       = fmt.Errorf("%w: notification target is required", apperr.ErrValidation)
)
