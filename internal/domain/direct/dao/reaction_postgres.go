package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vadim/neo-social/internal/database"
	"github.com/vadim/neo-social/internal/domain/direct/entity"
)

// ReactionPostgres implements reaction repository for PostgreSQL
type ReactionPostgres struct {
	db database.Querier
}

// NewReactionPostgres creates a new PostgreSQL reaction repository
func NewReactionPostgres(db database.Querier) *ReactionPostgres {
	return &ReactionPostgres{db: db}
}

// Find looks up one user's reaction with an emoji on a message
func (r *ReactionPostgres) Find(ctx context.Context, messageID, userID, emoji string) (*entity.Reaction, error) {
	query := `
		SELECT id, message_id, user_id, emoji, created_at
		FROM dm_message_reactions
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3
	`

	var re entity.Reaction
	err := r.db.QueryRow(ctx, query, messageID, userID, emoji).Scan(
		&re.ID, &re.MessageID, &re.UserID, &re.Emoji, &re.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning reaction: %w", err)
	}
	return &re, nil
}

// Create inserts a reaction
func (r *ReactionPostgres) Create(ctx context.Context, re *entity.Reaction) error {
	query := `
		INSERT INTO dm_message_reactions (id, message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.db.Exec(ctx, query, re.ID, re.MessageID, re.UserID, re.Emoji, re.CreatedAt); err != nil {
		return fmt.Errorf("inserting reaction: %w", err)
	}
	return nil
}

// Delete removes a reaction
func (r *ReactionPostgres) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, "DELETE FROM dm_message_reactions WHERE id = $1", id); err != nil {
		return fmt.Errorf("deleting reaction: %w", err)
	}
	return nil
}

// ListByMessage returns a message's reactions in creation order
func (r *ReactionPostgres) ListByMessage(ctx context.Context, messageID string) ([]entity.Reaction, error) {
	query := `
		SELECT id, message_id, user_id, emoji, created_at
		FROM dm_message_reactions
		WHERE message_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying reactions: %w", err)
	}

	reactions, err := pgx.CollectRows(rows, pgx.RowToStructByPos[entity.Reaction])
	if err != nil {
		return nil, fmt.Errorf("scanning reactions: %w", err)
	}
	return reactions, nil
}
