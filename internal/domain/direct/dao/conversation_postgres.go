package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vadim/neo-social/internal/database"
	"github.com/vadim/neo-social/internal/domain/direct/entity"
)

// ConversationPostgres implements conversation repository for PostgreSQL
type ConversationPostgres struct {
	db database.Querier
}

// NewConversationPostgres creates a new PostgreSQL conversation repository
func NewConversationPostgres(db database.Querier) *ConversationPostgres {
	return &ConversationPostgres{db: db}
}

// GetOrCreateDirect inserts a direct conversation and its two participants.
// The unique direct_key makes a concurrent insert for the same pair a no-op,
// after which the existing row is returned. Callers run it inside a transaction.
func (r *ConversationPostgres) GetOrCreateDirect(ctx context.Context, conv *entity.Conversation, a, b string) (*entity.Conversation, bool, error) {
	query := `
		INSERT INTO dm_conversations (id, direct_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (direct_key) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, conv.ID, conv.DirectKey, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("inserting conversation: %w", err)
	}

	if tag.RowsAffected() == 0 {
		existing, err := r.getByDirectKey(ctx, conv.DirectKey)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("conversation %s vanished after conflict", conv.DirectKey)
		}
		return existing, false, nil
	}

	participants := `
		INSERT INTO dm_conversation_participants (conversation_id, user_id, created_at)
		VALUES ($1, $2, $4), ($1, $3, $4)
	`
	if _, err := r.db.Exec(ctx, participants, conv.ID, a, b, conv.CreatedAt); err != nil {
		return nil, false, fmt.Errorf("inserting participants: %w", err)
	}

	return conv, true, nil
}

// FindDirect finds the direct conversation between two users
func (r *ConversationPostgres) FindDirect(ctx context.Context, a, b string) (*entity.Conversation, error) {
	return r.getByDirectKey(ctx, entity.DirectKey(a, b))
}

// GetByID retrieves a conversation by ID
func (r *ConversationPostgres) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	query := `
		SELECT id, direct_key, created_at, updated_at
		FROM dm_conversations
		WHERE id = $1
	`
	return scanConversation(r.db.QueryRow(ctx, query, id))
}

func (r *ConversationPostgres) getByDirectKey(ctx context.Context, key string) (*entity.Conversation, error) {
	query := `
		SELECT id, direct_key, created_at, updated_at
		FROM dm_conversations
		WHERE direct_key = $1
	`
	return scanConversation(r.db.QueryRow(ctx, query, key))
}

// IsParticipant reports whether a user participates in a conversation
func (r *ConversationPostgres) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM dm_conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)
	`

	var ok bool
	if err := r.db.QueryRow(ctx, query, conversationID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking participant: %w", err)
	}
	return ok, nil
}

// ParticipantIDs returns the user ids participating in a conversation
func (r *ConversationPostgres) ParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	query := `
		SELECT user_id FROM dm_conversation_participants
		WHERE conversation_id = $1
		ORDER BY created_at, user_id
	`
	return r.queryStrings(ctx, "participants", query, conversationID)
}

// ListIDsForUser returns every conversation id a user participates in
func (r *ConversationPostgres) ListIDsForUser(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT conversation_id FROM dm_conversation_participants
		WHERE user_id = $1
	`
	return r.queryStrings(ctx, "conversation ids", query, userID)
}

// ListPeers returns distinct users sharing a conversation with userID
func (r *ConversationPostgres) ListPeers(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT DISTINCT other.user_id
		FROM dm_conversation_participants me
		JOIN dm_conversation_participants other
		  ON other.conversation_id = me.conversation_id AND other.user_id <> me.user_id
		WHERE me.user_id = $1
	`
	return r.queryStrings(ctx, "peers", query, userID)
}

// ListForUser retrieves a user's conversations, most recently updated first
func (r *ConversationPostgres) ListForUser(ctx context.Context, userID string, limit, offset int) ([]entity.Conversation, error) {
	query := `
		SELECT c.id, c.direct_key, c.created_at, c.updated_at
		FROM dm_conversations c
		JOIN dm_conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC, c.id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []entity.Conversation
	for rows.Next() {
		var conv entity.Conversation
		if err := rows.Scan(&conv.ID, &conv.DirectKey, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		conversations = append(conversations, conv)
	}

	return conversations, rows.Err()
}

// Touch bumps a conversation's updated_at
func (r *ConversationPostgres) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx, "UPDATE dm_conversations SET updated_at = $2 WHERE id = $1", id, at)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return nil
}

func (r *ConversationPostgres) queryStrings(ctx context.Context, what, query string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", what, err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", what, err)
	}
	return ids, nil
}

// scanConversation scans a single conversation row
func scanConversation(row pgx.Row) (*entity.Conversation, error) {
	var conv entity.Conversation

	err := row.Scan(&conv.ID, &conv.DirectKey, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	return &conv, nil
}
