package store

import (
	"context"
	"fmt"
	"time"

	"stratos.app/sendguard/internal/model"
)

type deliveryEventStore struct {
	db DBTX
}

func newDeliveryEventStore(db DBTX) DeliveryEventStore {
	return &deliveryEventStore{db: db}
}

// Insert persists a delivery event keyed by the provider's own event id.
// ON CONFLICT DO NOTHING makes the dedupe atomic: of two concurrent
// deliveries of the same webhook, exactly one inserts a row.
func (s *deliveryEventStore) Insert(ctx context.Context, event *model.DeliveryEvent) (bool, error) {
	const q = `
		INSERT INTO delivery_events
			(id, provider_event_id, message_id, tenant_id, domain, kind, bounce_kind, recipient, payload_digest, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (provider_event_id) DO NOTHING`

	var bounceKind *string
	if event.BounceKind != nil {
		k := string(*event.BounceKind)
		bounceKind = &k
	}

	tag, err := s.db.Exec(ctx, q,
		event.ID,
		event.ProviderEventID,
		event.MessageID,
		event.TenantID,
		event.Domain,
		string(event.Kind),
		bounceKind,
		event.Recipient,
		event.PayloadDigest,
		event.OccurredAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting delivery event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *deliveryEventStore) CountsForDomain(ctx context.Context, tenantID, domain string, since time.Time) (model.DeliveryCounts, error) {
	const q = `
		SELECT
			COUNT(*) FILTER (WHERE kind IN ('delivered', 'bounced')),
			COUNT(*) FILTER (WHERE kind = 'delivered'),
			COUNT(*) FILTER (WHERE kind = 'bounced'),
			COUNT(*) FILTER (WHERE kind = 'bounced' AND bounce_kind = 'hard'),
			COUNT(*) FILTER (WHERE kind = 'complained'),
			COUNT(*) FILTER (WHERE kind = 'opened'),
			COUNT(*) FILTER (WHERE kind = 'clicked')
		FROM delivery_events
		WHERE tenant_id = $1 AND domain = $2 AND occurred_at >= $3`

	var counts model.DeliveryCounts
	err := s.db.QueryRow(ctx, q, tenantID, domain, since).Scan(
		&counts.Sent,
		&counts.Delivered,
		&counts.Bounced,
		&counts.HardBounced,
		&counts.Complained,
		&counts.Opened,
		&counts.Clicked,
	)
	if err != nil {
		return model.DeliveryCounts{}, fmt.Errorf("aggregating domain delivery events: %w", err)
	}
	return counts, nil
}

func (s *deliveryEventStore) CountsForTenant(ctx context.Context, tenantID string, from, to time.Time) (model.DeliveryCounts, error) {
	const q = `
		SELECT
			COUNT(*) FILTER (WHERE kind IN ('delivered', 'bounced')),
			COUNT(*) FILTER (WHERE kind = 'delivered'),
			COUNT(*) FILTER (WHERE kind = 'bounced'),
			COUNT(*) FILTER (WHERE kind = 'bounced' AND bounce_kind = 'hard'),
			COUNT(*) FILTER (WHERE kind = 'complained'),
			COUNT(*) FILTER (WHERE kind = 'opened'),
			COUNT(*) FILTER (WHERE kind = 'clicked')
		FROM delivery_events
		WHERE tenant_id = $1 AND occurred_at >= $2 AND occurred_at < $3`

	var counts model.DeliveryCounts
	err := s.db.QueryRow(ctx, q, tenantID, from, to).Scan(
		&counts.Sent,
		&counts.Delivered,
		&counts.Bounced,
		&counts.HardBounced,
		&counts.Complained,
		&counts.Opened,
		&counts.Clicked,
	)
	if err != nil {
		return model.DeliveryCounts{}, fmt.Errorf("aggregating tenant delivery events: %w", err)
	}
	return counts, nil
}

func (s *deliveryEventStore) ActiveDomains(ctx context.Context, since time.Time) ([]model.SendingDomain, error) {
	const q = `
		SELECT DISTINCT tenant_id, domain FROM delivery_events
		WHERE occurred_at >= $1
		ORDER BY tenant_id, domain`

	rows, err := s.db.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("listing active domains: %w", err)
	}
	defer rows.Close()

	var domains []model.SendingDomain
	for rows.Next() {
		var d model.SendingDomain
		if err := rows.Scan(&d.TenantID, &d.Domain); err != nil {
			return nil, fmt.Errorf("scanning active domain: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

func (s *deliveryEventStore) DeleteBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	const q = `DELETE FROM delivery_events WHERE occurred_at < $1`

	tag, err := s.db.Exec(ctx, q, olderThan)
	if err != nil {
		return 0, fmt.Errorf("deleting old delivery events: %w", err)
	}
	return tag.RowsAffected(), nil
}
