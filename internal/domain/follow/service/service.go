package service

import (
	"context"
	"time"

	"github.com/vadim/neo-social/internal/apperr"
	account "github.com/vadim/neo-social/internal/domain/account/entity"
	"github.com/vadim/neo-social/internal/domain/follow/entity"
	notification "github.com/vadim/neo-social/internal/domain/notification/entity"
	"github.com/vadim/neo-social/internal/store"
)

// Notifier records notifications in a transaction and delivers them after commit
type Notifier interface {
	Record(ctx context.Context, repo store.NotificationRepository, n notification.Notification) (*notification.Notification, error)
	Deliver(ctx context.Context, n *notification.Notification)
}

// Service runs the follow state machine: none -> pending|accepted,
// pending -> accepted, pending|accepted -> none. A follow notification is
// emitted only on entering accepted.
type Service struct {
	store    store.Store
	notifier Notifier
	now      func() time.Time
}

// New creates a follow service
func New(st store.Store, notifier Notifier) *Service {
	return &Service{store: st, notifier: notifier, now: time.Now}
}

// Status returns the relationship state from follower to followed
func (s *Service) Status(ctx context.Context, followerID, followedID string) (entity.Status, error) {
	f, err := s.store.Follows().Get(ctx, followerID, followedID)
	if err != nil {
		return "", apperr.Persistence("loading follow", err)
	}
	if f == nil {
		return entity.StatusNone, nil
	}
	return f.Status, nil
}

// Follow starts following target. Private targets get a pending request.
func (s *Service) Follow(ctx context.Context, identity account.Identity, targetID string) (entity.Status, error) {
	if targetID == identity.UserID {
		return "", entity.ErrSelfFollow
	}

	var status entity.Status
	var created *notification.Notification

	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		target, err := tx.Users().GetByID(ctx, targetID)
		if err != nil {
			return apperr.Persistence("loading user", err)
		}
		if target == nil || !target.IsActive {
			return entity.ErrUserNotFound
		}

		existing, err := tx.Follows().Get(ctx, identity.UserID, targetID)
		if err != nil {
			return apperr.Persistence("loading follow", err)
		}
		if existing != nil {
			if existing.Status == entity.StatusPending {
				return entity.ErrRequestPending
			}
			return entity.ErrAlreadyFollowing
		}

		status = entity.StatusAccepted
		if target.IsPrivate {
			status = entity.StatusPending
		}

		if err := tx.Follows().Create(ctx, &entity.Follow{
			FollowerID: identity.UserID,
			FollowedID: targetID,
			Status:     status,
			CreatedAt:  s.now().UTC(),
		}); err != nil {
			return apperr.Persistence("creating follow", err)
		}

		if status != entity.StatusAccepted {
			return nil
		}
		created, err = s.notifier.Record(ctx, tx.Notifications(), notification.Notification{
			UserID:     targetID,
			FromUserID: identity.UserID,
			Type:       notification.TypeFollow,
		})
		return err
	})
	if err != nil {
		return "", wrapCommit(err)
	}

	s.notifier.Deliver(ctx, created)
	return status, nil
}

// Accept accepts requester's pending request to follow the caller
func (s *Service) Accept(ctx context.Context, identity account.Identity, requesterID string) error {
	var created *notification.Notification

	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := requirePending(ctx, tx, requesterID, identity.UserID); err != nil {
			return err
		}
		if err := tx.Follows().UpdateStatus(ctx, requesterID, identity.UserID, entity.StatusAccepted); err != nil {
			return apperr.Persistence("accepting follow", err)
		}

		var err error
		created, err = s.notifier.Record(ctx, tx.Notifications(), notification.Notification{
			UserID:     requesterID,
			FromUserID: identity.UserID,
			Type:       notification.TypeFollow,
		})
		return err
	})
	if err != nil {
		return wrapCommit(err)
	}

	s.notifier.Deliver(ctx, created)
	return nil
}

// Decline drops requester's pending request to follow the caller
func (s *Service) Decline(ctx context.Context, identity account.Identity, requesterID string) error {
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		if err := requirePending(ctx, tx, requesterID, identity.UserID); err != nil {
			return err
		}
		if err := tx.Follows().Delete(ctx, requesterID, identity.UserID); err != nil {
			return apperr.Persistence("declining follow", err)
		}
		return nil
	})
	return wrapCommit(err)
}

// Unfollow removes the caller's relationship with target, pending or accepted
func (s *Service) Unfollow(ctx context.Context, identity account.Identity, targetID string) error {
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		existing, err := tx.Follows().Get(ctx, identity.UserID, targetID)
		if err != nil {
			return apperr.Persistence("loading follow", err)
		}
		if existing == nil {
			return entity.ErrNotFollowing
		}
		if err := tx.Follows().Delete(ctx, identity.UserID, targetID); err != nil {
			return apperr.Persistence("deleting follow", err)
		}
		return nil
	})
	return wrapCommit(err)
}

func requirePending(ctx context.Context, tx store.Store, followerID, followedID string) error {
	f, err := tx.Follows().Get(ctx, followerID, followedID)
	if err != nil {
		return apperr.Persistence("loading follow", err)
	}
	if f == nil || f.Status != entity.StatusPending {
		return entity.ErrRequestNotFound
	}
	return nil
}

func wrapCommit(err error) error {
	if err == nil || apperr.Kind(err) != nil {
		return err
	}
	return apperr.Persistence("committing", err)
}
