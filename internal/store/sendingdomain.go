package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stratos.app/sendguard/internal/model"
)

type sendingDomainStore struct {
	db DBTX
}

func newSendingDomainStore(db DBTX) SendingDomainStore {
	return &sendingDomainStore{db: db}
}

// GetActiveDomain resolves the tenant's active sending domain. Custom domains
// win over platform subdomains; suspended or unverified domains never resolve.
func (s *sendingDomainStore) GetActiveDomain(ctx context.Context, tenantID string) (*model.SendingDomain, error) {
	const q = `
		SELECT company_id, domain_name, reply_to_email
		FROM company_email_domains
		WHERE company_id = $1
		  AND status = 'verified'
		  AND sending_enabled
		  AND NOT is_suspended
		ORDER BY is_platform_subdomain ASC, created_at DESC
		LIMIT 1`

	var domain model.SendingDomain
	err := s.db.QueryRow(ctx, q, tenantID).Scan(&domain.TenantID, &domain.Domain, &domain.ReplyToEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resolving active sending domain: %w", err)
	}
	return &domain, nil
}
