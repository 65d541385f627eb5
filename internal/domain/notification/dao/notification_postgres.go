package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vadim/neo-social/internal/database"
	"github.com/vadim/neo-social/internal/domain/notification/entity"
)

const notificationColumns = `id, user_id, from_user_id, notification_type, post_id, comment_id, conversation_id, message_id, read, created_at`

// NotificationPostgres implements notification repository for PostgreSQL
type NotificationPostgres struct {
	db database.Querier
}

// NewNotificationPostgres creates a new PostgreSQL notification repository
func NewNotificationPostgres(db database.Querier) *NotificationPostgres {
	return &NotificationPostgres{db: db}
}

// Create inserts a notification
func (r *NotificationPostgres) Create(ctx context.Context, n *entity.Notification) error {
	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Exec(ctx, query,
		n.ID,
		n.UserID,
		n.FromUserID,
		n.Type,
		n.PostID,
		n.CommentID,
		n.ConversationID,
		n.MessageID,
		n.Read,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// FindUnread returns an unread notification for the same event
func (r *NotificationPostgres) FindUnread(ctx context.Context, match entity.Notification) (*entity.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1 AND from_user_id = $2 AND notification_type = $3
		  AND post_id = $4 AND comment_id = $5 AND conversation_id = $6 AND message_id = $7
		  AND read = FALSE
		LIMIT 1
	`

	row := r.db.QueryRow(ctx, query,
		match.UserID,
		match.FromUserID,
		match.Type,
		match.PostID,
		match.CommentID,
		match.ConversationID,
		match.MessageID,
	)
	return scanNotification(row)
}

// GetByID retrieves a notification by ID
func (r *NotificationPostgres) GetByID(ctx context.Context, id string) (*entity.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	return scanNotification(r.db.QueryRow(ctx, query, id))
}

// ListForUser returns a user's notifications, newest first
func (r *NotificationPostgres) ListForUser(ctx context.Context, userID string, limit int) ([]entity.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}

	list, err := pgx.CollectRows(rows, pgx.RowToStructByPos[entity.Notification])
	if err != nil {
		return nil, fmt.Errorf("scanning notifications: %w", err)
	}
	return list, nil
}

// CountUnread counts a user's unread notifications
func (r *NotificationPostgres) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE", userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting notifications: %w", err)
	}
	return count, nil
}

// MarkRead marks one notification read
func (r *NotificationPostgres) MarkRead(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, "UPDATE notifications SET read = TRUE WHERE id = $1", id); err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	return nil
}

// MarkAllRead marks all of a user's notifications read
func (r *NotificationPostgres) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx, "UPDATE notifications SET read = TRUE WHERE user_id = $1 AND read = FALSE", userID)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (*entity.Notification, error) {
	var n entity.Notification

	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.FromUserID,
		&n.Type,
		&n.PostID,
		&n.CommentID,
		&n.ConversationID,
		&n.MessageID,
		&n.Read,
		&n.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning notification: %w", err)
	}
	return &n, nil
}
