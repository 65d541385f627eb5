package entity

import (
	"fmt"
	"time"

	"github.com/vadim/neo-social/internal/apperr"
)

// Status is the state of a follow relationship.
// A missing row is StatusNone.
type Status string

const (
	StatusNone     Status = "none"
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
)

// Follow is a directed follower -> followed relationship
type Follow struct {
	FollowerID string    `json:"follower_id"`
	FollowedID string    `json:"followed_id"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

var (
	ErrSelfFollow       = fmt.Errorf("%w: cannot follow yourself", apperr.ErrValidation)
	ErrAlreadyFollowing = fmt.Errorf("%w: already following this user", apperr.ErrValidation)
	ErrRequestPending   = fmt.Errorf("%w: follow request already sent", apperr.ErrValidation)
	ErrNotFollowing     = fmt.Errorf("%w: not following this user", apperr.ErrValidation)
	ErrUserNotFound     = fmt.Errorf("%w: user not found", apperr.ErrNotFound)
	ErrRequestNotFound  = fmt.Errorf("%w: follow request not found", apperr.ErrNotFound)
)
