package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	account "github.com/vadim/neo-social/internal/domain/account/entity"
	"github.com/vadim/neo-social/internal/domain/direct/entity"
	"github.com/vadim/neo-social/internal/domain/direct/policy"
	"github.com/vadim/neo-social/internal/domain/direct/service"
	"github.com/vadim/neo-social/internal/httpx/auth"
	"github.com/vadim/neo-social/internal/httpx/response"
)

// DirectPolicy defines the interface for direct message operations
type DirectPolicy interface {
	StartConversation(ctx context.Context, identity account.Identity, recipientID string) (*service.StartConversationOutput, error)
	SendMessage(ctx context.Context, in policy.SendMessageInput) (*policy.MessagePayload, error)
	DeleteMessage(ctx context.Context, identity account.Identity, messageID string) error
	ToggleReaction(ctx context.Context, identity account.Identity, messageID, emoji string) (*policy.ReactionEvent, error)
	Reactions(ctx context.Context, identity account.Identity, messageID string) ([]entity.Reaction, error)
	ListConversations(ctx context.Context, identity account.Identity, limit, offset int) ([]entity.ConversationSummary, error)
	OpenConversation(ctx context.Context, in service.OpenConversationInput) (*service.OpenConversationOutput, error)
	MarkMessageRead(ctx context.Context, identity account.Identity, conversationID, messageID string) (bool, error)
}

// Executor runs a call on the realtime loop so it is serialized with live events
type Executor interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// DirectHandler handles HTTP requests for direct conversations
type DirectHandler struct {
	policy DirectPolicy
	exec   Executor
}

// NewDirectHandler creates a new direct conversation handler
func NewDirectHandler(p DirectPolicy, exec Executor) *DirectHandler {
	return &DirectHandler{policy: p, exec: exec}
}

// RegisterRoutes registers direct conversation routes
func (h *DirectHandler) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", h.ListConversations())
		r.Post("/direct/{userId}", h.StartConversation())
		r.Get("/{conversationId}/messages", h.GetMessages())
		r.Post("/{conversationId}/messages", h.SendMessage())
		r.Post("/{conversationId}/messages/{messageId}/read", h.MarkRead())
	})

	r.Route("/messages", func(r chi.Router) {
		// New message to a recipient, creating the conversation if needed
		r.Post("/", h.SendMessage())
		r.Delete("/{messageId}", h.DeleteMessage())
		r.Get("/{messageId}/reactions", h.ListReactions())
		r.Post("/{messageId}/reactions", h.ToggleReaction())
	})
}

// ListConversationsResponse represents the response for listing conversations
type ListConversationsResponse struct {
	Conversations []entity.ConversationSummary `json:"conversations"`
	Limit         int                          `json:"limit"`
	Offset        int                          `json:"offset"`
}

// ListConversations handles GET /conversations
func (h *DirectHandler) ListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		limit := parseLimit(r, 50, 100)
		offset := 0
		if o := r.URL.Query().Get("offset"); o != "" {
			if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
				offset = parsed
			}
		}

		var list []entity.ConversationSummary
		err := h.exec.Do(r.Context(), func(ctx context.Context) error {
			var err error
			list, err = h.policy.ListConversations(ctx, identity, limit, offset)
			return err
		})
		if err != nil {
			response.FromError(w, err, "failed to list conversations")
			return
		}

		response.OK(w, ListConversationsResponse{
			Conversations: list,
			Limit:         limit,
			Offset:        offset,
		})
	}
}

// StartConversationResponse represents the response for starting a conversation
type StartConversationResponse struct {
	Conversation *entity.Conversation `json:"conversation"`
	Created      bool                 `json:"created"`
}

// StartConversation handles POST /conversations/direct/{userId}
func (h *DirectHandler) StartConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		recipientID := chi.URLParam(r, "userId")

		var out *service.StartConversationOutput
		err := h.exec.Do(r.Context(), func(ctx context.Context) error {
			var err error
			out, err = h.policy.StartConversation(ctx, identity, recipientID)
			return err
		})
		if err != nil {
			response.FromError(w, err, "failed to start conversation")
			return
		}

		code := http.StatusOK
		if out.Created {
			code = http.StatusCreated
		}
		response.JSON(w, code, StartConversationResponse{
			Conversation: out.Conversation,
			Created:      out.Created,
		})
	}
}

// GetMessagesResponse represents the response for getting messages
type GetMessagesResponse struct {
	Messages   []entity.Message `json:"messages"`
	MarkedRead int64            `json:"marked_read"`
	HasMore    bool             `json:"has_more"`
}

// GetMessages handles GET /conversations/{conversationId}/messages.
// Opening the thread marks the caller's incoming messages read.
func (h *DirectHandler) GetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		in := service.OpenConversationInput{
			Identity:       identity,
			ConversationID: chi.URLParam(r, "conversationId"),
			AfterID:        r.URL.Query().Get("after"),
			Limit:          parseLimit(r, 50, 100),
		}

		var out *service.OpenConversationOutput
		err := h.exec.Do(r.Context(), func(ctx context.Context) error {
			var err error
			out, err = h.policy.OpenConversation(ctx, in)
			return err
		})
		if err != nil {
			response.FromError(w, err, "failed to get messages")
			return
		}

		messages := out.Messages
		if messages == nil {
			messages = []entity.Message{}
		}
		response.OK(w, GetMessagesResponse{
			Messages:   messages,
			MarkedRead: out.MarkedRead,
			HasMore:    out.HasMore,
		})
	}
}

// SendMessageRequest represents the request body for sending a message
type SendMessageRequest struct {
	RecipientID string             `json:"recipient_id"`
	Content     string             `json:"content"`
	MediaURL    string             `json:"media_url"`
	Type        entity.MessageType `json:"message_type"`
	ReplyToID   string             `json:"reply_to_id"`
}

// SendMessage handles POST /conversations/{conversationId}/messages and POST /messages
func (h *DirectHandler) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}

		in := policy.SendMessageInput{
			Identity:       identity,
			ConversationID: chi.URLParam(r, "conversationId"),
			RecipientID:    req.RecipientID,
			Content:        req.Content,
			MediaURL:       req.MediaURL,
			Type:           req.Type,
			ReplyToID:      req.ReplyToID,
		}

		var msg *policy.MessagePayload
		err := h.exec.Do(r.Context(), func(ctx context.Context) error {
			var err error
			msg, err = h.policy.SendMessage(ctx, in)
			return err
		})
		if err != nil {
			response.FromError(w, err, "failed to send message")
			return
		}

		response.Created(w, map[string]any{"message": msg})
	}
}

// DeleteMessage handles DELETE /messages/{messageId}
func (h *DirectHandler) DeleteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		messageID := chi.URLParam(r, "messageId")

		err := h.exec.Do(r.Context(), func(ctx context.Context) error {
			return h.policy.DeleteMessage(ctx, identity, messageID)
		})
		if err != nil {
			response.FromError(w, err, "failed to delete message")
			return
		}

		response.NoContent(w)
	}
}

// ToggleReactionRequest represents the request body for reacting to a message
type ToggleReactionRequest struct {
	Emoji string `json:"emoji"`
}

// ToggleReaction handles POST /messages/{messageId}/reactions
func (h *DirectHandler) ToggleReaction() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		var req ToggleReactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		messageID := chi.URLParam(r, "messageId")

		var ev *policy.ReactionEvent
		err := h.exec.Do(r.Context(), func(ctx context.Context) error {
			var err error
			ev, err = h.policy.ToggleReaction(ctx, identity, messageID, req.Emoji)
			return err
		})
		if err != nil {
			response.FromError(w, err, "failed to react to message")
			return
		}

		response.OK(w, ev)
	}
}

// ListReactions handles GET /messages/{messageId}/reactions
func (h *DirectHandler) ListReactions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		list, err := h.policy.Reactions(r.Context(), identity, chi.URLParam(r, "messageId"))
		if err != nil {
			response.FromError(w, err, "failed to list reactions")
			return
		}
		if list == nil {
			list = []entity.Reaction{}
		}

		response.OK(w, map[string]any{"reactions": list})
	}
}

// MarkRead handles POST /conversations/{conversationId}/messages/{messageId}/read
func (h *DirectHandler) MarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		conversationID := chi.URLParam(r, "conversationId")
		messageID := chi.URLParam(r, "messageId")

		var changed bool
		err := h.exec.Do(r.Context(), func(ctx context.Context) error {
			var err error
			changed, err = h.policy.MarkMessageRead(ctx, identity, conversationID, messageID)
			return err
		})
		if err != nil {
			response.FromError(w, err, "failed to mark message read")
			return
		}

		response.OK(w, map[string]bool{"changed": changed})
	}
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (account.Identity, bool) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "authentication required")
	}
	return identity, ok
}

func parseLimit(r *http.Request, def, maxLimit int) int {
	limit := def
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, maxLimit)
		}
	}
	return limit
}
