package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vadim/neo-social/internal/database"
	"github.com/vadim/neo-social/internal/domain/follow/entity"
)

// FollowPostgres implements follow repository for PostgreSQL
type FollowPostgres struct {
	db database.Querier
}

// NewFollowPostgres creates a new PostgreSQL follow repository
func NewFollowPostgres(db database.Querier) *FollowPostgres {
	return &FollowPostgres{db: db}
}

// Get retrieves the relationship from follower to followed
func (r *FollowPostgres) Get(ctx context.Context, followerID, followedID string) (*entity.Follow, error) {
	query := `
		SELECT follower_id, followed_id, status, created_at
		FROM follows
		WHERE follower_id = $1 AND followed_id = $2
	`

	var f entity.Follow
	err := r.db.QueryRow(ctx, query, followerID, followedID).Scan(&f.FollowerID, &f.FollowedID, &f.Status, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning follow: %w", err)
	}
	return &f, nil
}

// Create inserts a relationship
func (r *FollowPostgres) Create(ctx context.Context, f *entity.Follow) error {
	query := `
		INSERT INTO follows (follower_id, followed_id, status, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.Exec(ctx, query, f.FollowerID, f.FollowedID, f.Status, f.CreatedAt); err != nil {
		return fmt.Errorf("inserting follow: %w", err)
	}
	return nil
}

// UpdateStatus changes a relationship's status
func (r *FollowPostgres) UpdateStatus(ctx context.Context, followerID, followedID string, status entity.Status) error {
	query := `UPDATE follows SET status = $3 WHERE follower_id = $1 AND followed_id = $2`
	if _, err := r.db.Exec(ctx, query, followerID, followedID, status); err != nil {
		return fmt.Errorf("updating follow status: %w", err)
	}
	return nil
}

// Delete removes a relationship
func (r *FollowPostgres) Delete(ctx context.Context, followerID, followedID string) error {
	query := `DELETE FROM follows WHERE follower_id = $1 AND followed_id = $2`
	if _, err := r.db.Exec(ctx, query, followerID, followedID); err != nil {
		return fmt.Errorf("deleting follow: %w", err)
	}
	return nil
}
