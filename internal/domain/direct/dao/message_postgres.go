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

const messageColumns = `id, conversation_id, sender_id, content, message_type, media_url, reply_to_id, read, read_at, created_at`

// MessagePostgres implements message repository for PostgreSQL
type MessagePostgres struct {
	db database.Querier
}

// NewMessagePostgres creates a new PostgreSQL message repository
func NewMessagePostgres(db database.Querier) *MessagePostgres {
	return &MessagePostgres{db: db}
}

// Create inserts a message
func (r *MessagePostgres) Create(ctx context.Context, msg *entity.Message) error {
	query := `
		INSERT INTO dm_messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Exec(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		nullable(msg.Content),
		msg.Type,
		nullable(msg.MediaURL),
		nullable(msg.ReplyToID),
		msg.Read,
		msg.ReadAt,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	return nil
}

// GetByID retrieves a message by ID
func (r *MessagePostgres) GetByID(ctx context.Context, id string) (*entity.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM dm_messages WHERE id = $1`

	msg, err := scanMessage(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	return msg, nil
}

// List retrieves messages oldest first, after the cursor message when given
func (r *MessagePostgres) List(ctx context.Context, conversationID, afterID string, limit int) ([]entity.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM dm_messages
		WHERE conversation_id = $1
		  AND ($2::text = '' OR (created_at, id) > (
		      SELECT created_at, id FROM dm_messages WHERE id = $2
		  ))
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, conversationID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []entity.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, *msg)
	}

	return messages, rows.Err()
}

// Last retrieves the newest message of a conversation
func (r *MessagePostgres) Last(ctx context.Context, conversationID string) (*entity.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM dm_messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	msg, err := scanMessage(r.db.QueryRow(ctx, query, conversationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning last message: %w", err)
	}
	return msg, nil
}

// Delete removes a message; its reactions cascade
func (r *MessagePostgres) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM dm_messages WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

// MarkRead marks all unread messages not sent by notSentBy as read
func (r *MessagePostgres) MarkRead(ctx context.Context, conversationID, notSentBy string, at time.Time) (int64, error) {
	query := `
		UPDATE dm_messages
		SET read = TRUE, read_at = $3
		WHERE conversation_id = $1 AND sender_id <> $2 AND read = FALSE
	`

	tag, err := r.db.Exec(ctx, query, conversationID, notSentBy, at)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkOneRead marks a single message read for its recipient
func (r *MessagePostgres) MarkOneRead(ctx context.Context, id, readerID string, at time.Time) (bool, error) {
	query := `
		UPDATE dm_messages
		SET read = TRUE, read_at = $3
		WHERE id = $1 AND sender_id <> $2 AND read = FALSE
	`

	tag, err := r.db.Exec(ctx, query, id, readerID, at)
	if err != nil {
		return false, fmt.Errorf("marking message read: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UnreadCount counts unread messages addressed to viewerID
func (r *MessagePostgres) UnreadCount(ctx context.Context, conversationID, viewerID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM dm_messages
		WHERE conversation_id = $1 AND sender_id <> $2 AND read = FALSE
	`

	var count int
	if err := r.db.QueryRow(ctx, query, conversationID, viewerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}

// scanMessage scans a message from a row or rows cursor
func scanMessage(row pgx.Row) (*entity.Message, error) {
	var msg entity.Message
	var content, mediaURL, replyTo *string

	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&content,
		&msg.Type,
		&mediaURL,
		&replyTo,
		&msg.Read,
		&msg.ReadAt,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Content = deref(content)
	msg.MediaURL = deref(mediaURL)
	msg.ReplyToID = deref(replyTo)
	return &msg, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
