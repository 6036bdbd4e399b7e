package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stratos.app/sendguard/internal/model"
)

type domainHealthStore struct {
	db DBTX
}

func newDomainHealthStore(db DBTX) DomainHealthStore {
	return &domainHealthStore{db: db}
}

func (s *domainHealthStore) Get(ctx context.Context, tenantID, domain string) (*model.DomainHealthRecord, error) {
	const q = `
		SELECT tenant_id, domain, bounce_rate, complaint_rate, status, consecutive_bad_checks, last_checked_at, updated_at
		FROM domain_health
		WHERE tenant_id = $1 AND domain = $2`

	record, err := scanDomainHealth(s.db.QueryRow(ctx, q, tenantID, domain))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading domain health: %w", err)
	}
	return record, nil
}

func (s *domainHealthStore) ListByTenant(ctx context.Context, tenantID string) ([]model.DomainHealthRecord, error) {
	const q = `
		SELECT tenant_id, domain, bounce_rate, complaint_rate, status, consecutive_bad_checks, last_checked_at, updated_at
		FROM domain_health
		WHERE tenant_id = $1
		ORDER BY domain`

	rows, err := s.db.Query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing domain health: %w", err)
	}
	defer rows.Close()

	var records []model.DomainHealthRecord
	for rows.Next() {
		record, err := scanDomainHealth(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning domain health: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func (s *domainHealthStore) Upsert(ctx context.Context, record *model.DomainHealthRecord) error {
	const q = `
		INSERT INTO domain_health
			(tenant_id, domain, bounce_rate, complaint_rate, status, consecutive_bad_checks, last_checked_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (tenant_id, domain) DO UPDATE SET
			bounce_rate = EXCLUDED.bounce_rate,
			complaint_rate = EXCLUDED.complaint_rate,
			status = EXCLUDED.status,
			consecutive_bad_checks = EXCLUDED.consecutive_bad_checks,
			last_checked_at = EXCLUDED.last_checked_at,
			updated_at = now()`

	_, err := s.db.Exec(ctx, q,
		record.TenantID,
		record.Domain,
		record.BounceRate,
		record.ComplaintRate,
		string(record.Status),
		record.ConsecutiveBadChecks,
		record.LastCheckedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting domain health: %w", err)
	}
	return nil
}

func scanDomainHealth(row pgx.Row) (*model.DomainHealthRecord, error) {
	var (
		record model.DomainHealthRecord
		status string
	)
	err := row.Scan(
		&record.TenantID,
		&record.Domain,
		&record.BounceRate,
		&record.ComplaintRate,
		&status,
		&record.ConsecutiveBadChecks,
		&record.LastCheckedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Status = model.DomainStatus(status)
	return &record, nil
}
