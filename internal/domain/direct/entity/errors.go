package entity

import (
	"fmt"

	"github.com/vadim/neo-social/internal/apperr"
)

// Domain errors for direct messages
var (
	ErrConversationNotFound = fmt.Errorf("%w: conversation not found", apperr.ErrNotFound)
	ErrMessageNotFound      = fmt.Errorf("%w: message not found", apperr.ErrNotFound)
	ErrRecipientNotFound    = fmt.Errorf("%w: recipient not found", apperr.ErrNotFound)

	ErrEmptyMessage       = fmt.Errorf("%w: message content or media is required", apperr.ErrValidation)
	ErrMessageTooLong     = fmt.Errorf("%w: message exceeds maximum length", apperr.ErrValidation)
	ErrInvalidMessageType = fmt.Errorf("%w: invalid message type", apperr.ErrValidation)
	ErrMediaRequired      = fmt.Errorf("%w: media is required for this message type", apperr.ErrValidation)
	ErrRecipientRequired  = fmt.Errorf("%w: recipient is required", apperr.ErrValidation)
	ErrSelfConversation   = fmt.Errorf("%w: cannot start conversation with yourself", apperr.ErrValidation)
	ErrInvalidReplyTo     = fmt.Errorf("%w: reply must reference a message in the same conversation", apperr.ErrValidation)
	ErrEmojiRequired      = fmt.Errorf("%w: emoji is required", apperr.ErrValidation)
	ErrEmojiTooLong       = fmt.Errorf("%w: emoji exceeds maximum length", apperr.ErrValidation)
	ErrOwnMessage         = fmt.Errorf("%w: cannot mark your own message as read", apperr.ErrValidation)

	ErrNotParticipant = fmt.Errorf("%w: not a participant of this conversation", apperr.ErrForbidden)
	ErrNotSender      = fmt.Errorf("%w: only the sender can delete this message", apperr.ErrForbidden)
)
