// Package wire names the live channels and events exchanged with clients.
package wire

import "encoding/json"

// Inbound events (client -> server)
const (
	EventJoinConversation = "join.conversation"
	EventTypingStart      = "typing.start"
	EventTypingStop       = "typing.stop"
	EventMessageRead      = "message.read"
)

// Outbound events (server -> client)
const (
	EventUserOnline      = "user.online"
	EventUserTyping      = "user.typing"
	EventMessageNew      = "message.new"
	EventMessageDeleted  = "message.deleted"
	EventMessageReaction = "message.reaction"
	EventNotificationNew = "notification.new"
)

const (
	conversationPrefix = "conversation:"
	userPrefix         = "user:"
)

// ConversationChannel names the broadcast group of a conversation
func ConversationChannel(id string) string { return conversationPrefix + id }

// UserChannel names a user's personal channel
func UserChannel(id string) string { return userPrefix + id }

// Envelope is the frame format in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an outbound frame
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// ConversationRef is the body of join and typing events
type ConversationRef struct {
	ConversationID string `json:"conversation_id"`
}

// MessageRef is the body of an inbound read receipt
type MessageRef struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// JoinResult answers a join.conversation request
type JoinResult struct {
	ConversationID string `json:"conversation_id"`
	Joined         bool   `json:"joined"`
}

// Presence is the body of user.online
type Presence struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// Typing is the body of user.typing
type Typing struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	Typing         bool   `json:"typing"`
}
