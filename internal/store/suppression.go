package store

import (
	"context"
	"fmt"
	"strings"

	"stratos.app/sendguard/internal/model"
)

type suppressionStore struct {
	db DBTX
}

func newSuppressionStore(db DBTX) SuppressionStore {
	return &suppressionStore{db: db}
}

func (s *suppressionStore) Add(ctx context.Context, suppression *model.Suppression) (bool, error) {
	const q = `
		INSERT INTO email_suppressions (id, tenant_id, email, reason, detail)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, email) DO NOTHING`

	tag, err := s.db.Exec(ctx, q,
		suppression.ID,
		suppression.TenantID,
		strings.ToLower(strings.TrimSpace(suppression.Email)),
		string(suppression.Reason),
		suppression.Detail,
	)
	if err != nil {
		return false, fmt.Errorf("adding suppression: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *suppressionStore) FindByEmails(ctx context.Context, tenantID string, emails []string) ([]model.Suppression, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	normalized := make([]string, 0, len(emails))
	for _, email := range emails {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(email)))
	}

	const q = `
		SELECT id, tenant_id, email, reason, detail, created_at
		FROM email_suppressions
		WHERE tenant_id = $1 AND email = ANY($2)`

	rows, err := s.db.Query(ctx, q, tenantID, normalized)
	if err != nil {
		return nil, fmt.Errorf("finding suppressions: %w", err)
	}
	defer rows.Close()

	var suppressions []model.Suppression
	for rows.Next() {
		var (
			suppression model.Suppression
			reason      string
		)
		if err := rows.Scan(&suppression.ID, &suppression.TenantID, &suppression.Email, &reason, &suppression.Detail, &suppression.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning suppression: %w", err)
		}
		suppression.Reason = model.SuppressionReason(reason)
		suppressions = append(suppressions, suppression)
	}
	return suppressions, rows.Err()
}
