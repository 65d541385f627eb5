package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/neo-social/internal/database"
	accountdao "github.com/vadim/neo-social/internal/domain/account/dao"
	directdao "github.com/vadim/neo-social/internal/domain/direct/dao"
	followdao "github.com/vadim/neo-social/internal/domain/follow/dao"
	notificationdao "github.com/vadim/neo-social/internal/domain/notification/dao"
)

// Postgres is the PostgreSQL-backed Store
type Postgres struct {
	pool *pgxpool.Pool
	db   database.Querier
	inTx bool
}

// NewPostgres creates a store over a connection pool
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, db: pool}
}

func (s *Postgres) Users() UserRepository { return accountdao.NewUserPostgres(s.db) }

func (s *Postgres) Conversations() ConversationRepository {
	return directdao.NewConversationPostgres(s.db)
}

func (s *Postgres) Messages() MessageRepository { return directdao.NewMessagePostgres(s.db) }

func (s *Postgres) Reactions() ReactionRepository { return directdao.NewReactionPostgres(s.db) }

func (s *Postgres) Notifications() NotificationRepository {
	return notificationdao.NewNotificationPostgres(s.db)
}

func (s *Postgres) Follows() FollowRepository { return followdao.NewFollowPostgres(s.db) }

// WithinTx runs fn in a database transaction
func (s *Postgres) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&Postgres{pool: s.pool, db: tx, inTx: true})
	})
}

// Ping checks database connectivity
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
