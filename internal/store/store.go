package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx operations the stores need. Both *pgxpool.Pool
// and pgx.Tx satisfy it, so the same stores work inside and outside
// transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Stores struct {
	db DBTX
}

func NewStores(db DBTX) *Stores {
	return &Stores{db: db}
}

func (s *Stores) RateLimits() RateLimitStore {
	return newRateLimitStore(s.db)
}

func (s *Stores) ProviderEvents() ProviderEventStore {
	return newProviderEventStore(s.db)
}

func (s *Stores) ProviderSnapshots() ProviderSnapshotStore {
	return newProviderSnapshotStore(s.db)
}

func (s *Stores) DeliveryEvents() DeliveryEventStore {
	return newDeliveryEventStore(s.db)
}

func (s *Stores) DomainHealth() DomainHealthStore {
	return newDomainHealthStore(s.db)
}

func (s *Stores) Suppressions() SuppressionStore {
	return newSuppressionStore(s.db)
}

func (s *Stores) SendingDomains() SendingDomainStore {
	return newSendingDomainStore(s.db)
}
