package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/neo-social/internal/apperr"
	account "github.com/vadim/neo-social/internal/domain/account/entity"
	"github.com/vadim/neo-social/internal/domain/notification/entity"
	"github.com/vadim/neo-social/internal/metrics"
	"github.com/vadim/neo-social/internal/realtime/wire"
	"github.com/vadim/neo-social/internal/store"
)

// Publisher pushes an event to every connection in a channel
type Publisher interface {
	Publish(channel, event string, payload any)
}

// Service records notifications and pushes them to their targets.
//
// One dedup policy applies to every type: a notification is not recorded
// while an unread one describing the same event exists.
type Service struct {
	store     store.Store
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures the service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics records created notifications
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a notification service
func New(st store.Store, publisher Publisher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     st,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record persists n through repo unless it is a self-notification or a
// duplicate of an unread one. It returns nil when nothing was recorded.
// Callers pass the repository of their own transaction.
func (s *Service) Record(ctx context.Context, repo store.NotificationRepository, n entity.Notification) (*entity.Notification, error) {
	if !n.Type.Valid() {
		return nil, entity.ErrInvalidType
	}
	if n.UserID == "" {
		return nil, entity.ErrTargetRequired
	}
	if n.FromUserID == n.UserID {
		return nil, nil
	}

	dup, err := repo.FindUnread(ctx, n)
	if err != nil {
		return nil, apperr.Persistence("finding duplicate notification", err)
	}
	if dup != nil {
		return nil, nil
	}

	n.ID = uuid.New().String()
	n.Read = false
	n.CreatedAt = s.now().UTC()

	if err := repo.Create(ctx, &n); err != nil {
		return nil, apperr.Persistence("creating notification", err)
	}

	s.metrics.Notification(string(n.Type))
	return &n, nil
}

// Deliver pushes a recorded notification to its target's personal channel.
// Delivery is best effort.
func (s *Service) Deliver(ctx context.Context, n *entity.Notification) {
	if n == nil {
		return
	}

	view := entity.View{Notification: *n}
	if n.FromUserID != "" {
		from, err := s.store.Users().GetByID(ctx, n.FromUserID)
		if err != nil {
			s.logger.Warn("failed to load notification source", "notification_id", n.ID, "error", err)
		} else if from != nil {
			summary := from.Summary()
			view.FromUser = &summary
		}
	}

	s.publisher.Publish(wire.UserChannel(n.UserID), wire.EventNotificationNew, map[string]any{
		"notification": view,
	})
}

// Notify records n in its own transaction and delivers it after commit.
// Triggers outside the messaging core (likes, comments, mentions) use this.
func (s *Service) Notify(ctx context.Context, n entity.Notification) (*entity.Notification, error) {
	var created *entity.Notification
	err := s.store.WithinTx(ctx, func(tx store.Store) error {
		var err error
		created, err = s.Record(ctx, tx.Notifications(), n)
		return err
	})
	if err != nil {
		return nil, wrapCommit(err)
	}

	s.Deliver(ctx, created)
	return created, nil
}

// ListInput represents input for listing notifications
type ListInput struct {
	Identity account.Identity
	Limit    int
}

// List returns the caller's notifications, newest first, with source users
func (s *Service) List(ctx context.Context, in ListInput) ([]entity.View, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 50
	}

	list, err := s.store.Notifications().ListForUser(ctx, in.Identity.UserID, limit)
	if err != nil {
		return nil, apperr.Persistence("listing notifications", err)
	}

	users := make(map[string]*account.Summary)
	views := make([]entity.View, 0, len(list))
	for _, n := range list {
		view := entity.View{Notification: n}
		if n.FromUserID != "" {
			summary, ok := users[n.FromUserID]
			if !ok {
				u, err := s.store.Users().GetByID(ctx, n.FromUserID)
				if err != nil {
					return nil, apperr.Persistence("loading notification source", err)
				}
				if u != nil {
					sum := u.Summary()
					summary = &sum
				}
				users[n.FromUserID] = summary
			}
			view.FromUser = summary
		}
		views = append(views, view)
	}

	return views, nil
}

// UnreadCount counts the caller's unread notifications
func (s *Service) UnreadCount(ctx context.Context, identity account.Identity) (int, error) {
	count, err := s.store.Notifications().CountUnread(ctx, identity.UserID)
	if err != nil {
		return 0, apperr.Persistence("counting notifications", err)
	}
	return count, nil
}

// MarkRead marks one of the caller's notifications read
func (s *Service) MarkRead(ctx context.Context, identity account.Identity, id string) error {
	n, err := s.store.Notifications().GetByID(ctx, id)
	if err != nil {
		return apperr.Persistence("loading notification", err)
	}
	if n == nil {
		return entity.ErrNotificationNotFound
	}
	if n.UserID != identity.UserID {
		return entity.ErrNotOwner
	}
	if n.Read {
		return nil
	}

	if err := s.store.Notifications().MarkRead(ctx, id); err != nil {
		return apperr.Persistence("marking notification read", err)
	}
	return nil
}

// MarkAllRead marks every notification of the caller read
func (s *Service) MarkAllRead(ctx context.Context, identity account.Identity) (int64, error) {
	n, err := s.store.Notifications().MarkAllRead(ctx, identity.UserID)
	if err != nil {
		return 0, apperr.Persistence("marking notifications read", err)
	}
	return n, nil
}

func wrapCommit(err error) error {
	if apperr.Kind(err) != nil {
		return err
	}
	return apperr.Persistence("committing", err)
}
