package store

import (
	"context"
	"errors"
	"time"

	"stratos.app/sendguard/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// RateLimitStore defines the contract for fixed-window counter access.
// Increment must be atomic at the store level (upsert with count = count + 1),
// never read-then-write from application code.
type RateLimitStore interface {
	Increment(ctx context.Context, tenantID, domain string, kind model.WindowKind, windowStart time.Time) (int64, error)
	GetCount(ctx context.Context, tenantID, domain string, kind model.WindowKind, windowStart time.Time) (int64, error)
	Prune(ctx context.Context, kind model.WindowKind, olderThan time.Time) (int64, error)
}

// ProviderEventStore defines the contract for the append-only provider
// send-outcome log.
type ProviderEventStore interface {
	Append(ctx context.Context, event *model.ProviderEvent) error
	// WindowCounts aggregates terminal outcomes and latency for a provider
	// over [since, now).
	WindowCounts(ctx context.Context, provider string, since time.Time) (success, failure, fallback int64, avgLatencyMs *float64, err error)
	// Providers returns every provider that has events on record.
	Providers(ctx context.Context) ([]string, error)
	DeleteBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// ProviderSnapshotStore defines the contract for derived health snapshots.
type ProviderSnapshotStore interface {
	Get(ctx context.Context, provider string) (*model.ProviderHealthSnapshot, error)
	Upsert(ctx context.Context, snapshot *model.ProviderHealthSnapshot) error
	List(ctx context.Context) ([]model.ProviderHealthSnapshot, error)
}

// DeliveryEventStore defines the contract for deduplicated delivery-feedback
// events. Insert must be a unique-constraint insert: two concurrent
// deliveries of the same provider event id must produce exactly one row.
type DeliveryEventStore interface {
	// Insert persists the event; created is false when the provider event id
	// was already on record.
	Insert(ctx context.Context, event *model.DeliveryEvent) (created bool, err error)
	CountsForDomain(ctx context.Context, tenantID, domain string, since time.Time) (model.DeliveryCounts, error)
	CountsForTenant(ctx context.Context, tenantID string, from, to time.Time) (model.DeliveryCounts, error)
	// ActiveDomains lists (tenant, domain) pairs with any delivery feedback
	// since the given time.
	ActiveDomains(ctx context.Context, since time.Time) ([]model.SendingDomain, error)
	DeleteBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// DomainHealthStore defines the contract for per-domain health records.
type DomainHealthStore interface {
	Get(ctx context.Context, tenantID, domain string) (*model.DomainHealthRecord, error)
	ListByTenant(ctx context.Context, tenantID string) ([]model.DomainHealthRecord, error)
	Upsert(ctx context.Context, record *model.DomainHealthRecord) error
}

// SuppressionStore defines the contract for the recipient suppression list.
type SuppressionStore interface {
	// Add is idempotent per (tenant, email); created is false on repeat.
	Add(ctx context.Context, suppression *model.Suppression) (created bool, err error)
	FindByEmails(ctx context.Context, tenantID string, emails []string) ([]model.Suppression, error)
}

// SendingDomainStore resolves a tenant's active sending domain from the
// application-owned domain configuration. Read-only here.
type SendingDomainStore interface {
	GetActiveDomain(ctx context.Context, tenantID string) (*model.SendingDomain, error)
}
