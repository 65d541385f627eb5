package entity

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MessageType represents the type of a direct message
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeVoice MessageType = "voice"
)

// Valid reports whether t is a known message type
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeVoice:
		return true
	}
	return false
}

// Message represents a direct message.
// Content and MediaURL are empty when absent.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content,omitempty"`
	Type           MessageType `json:"type"`
	MediaURL       string      `json:"media_url,omitempty"`
	ReplyToID      string      `json:"reply_to_id,omitempty"`
	Read           bool        `json:"read"`
	ReadAt         *time.Time  `json:"read_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Reaction is a toggleable (message, user, emoji) association
type Reaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionAction is the outcome of a reaction toggle
type ReactionAction string

const (
	ReactionAdded   ReactionAction = "added"
	ReactionRemoved ReactionAction = "removed"
)

// MaxContentLength is the maximum length of message content in characters
const MaxContentLength = 5000

// MaxEmojiLength bounds a reaction value in characters
const MaxEmojiLength = 10

// NormalizeMessage trims content, fills the default type and validates the
// content/media combination.
func NormalizeMessage(content, mediaURL string, typ MessageType) (string, string, MessageType, error) {
	content = strings.TrimSpace(content)
	mediaURL = strings.TrimSpace(mediaURL)

	if content == "" && mediaURL == "" {
		return "", "", "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", "", "", ErrMessageTooLong
	}

	if typ == "" {
		typ = MessageTypeText
		if mediaURL != "" {
			typ = MessageTypeImage
		}
	}
	if !typ.Valid() {
		return "", "", "", ErrInvalidMessageType
	}
	if typ != MessageTypeText && mediaURL == "" {
		return "", "", "", ErrMediaRequired
	}

	return content, mediaURL, typ, nil
}

// ValidateEmoji validates a reaction value
func ValidateEmoji(emoji string) (string, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return "", ErrEmojiRequired
	}
	if utf8.RuneCountInString(emoji) > MaxEmojiLength {
		return "", ErrEmojiTooLong
	}
	return emoji, nil
}
