package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vadim/neo-social/internal/database"
	"github.com/vadim/neo-social/internal/domain/account/entity"
)

// UserPostgres reads the backend's users table
type UserPostgres struct {
	db database.Querier
}

// NewUserPostgres creates a new PostgreSQL user repository
func NewUserPostgres(db database.Querier) *UserPostgres {
	return &UserPostgres{db: db}
}

// GetByID retrieves a user by ID
func (r *UserPostgres) GetByID(ctx context.Context, id string) (*entity.User, error) {
	query := `
		SELECT id, username, full_name, profile_picture, is_private, is_active, created_at
		FROM users
		WHERE id = $1
	`

	var u entity.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Username,
		&u.FullName,
		&u.ProfilePicture,
		&u.IsPrivate,
		&u.IsActive,
		&u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	return &u, nil
}
