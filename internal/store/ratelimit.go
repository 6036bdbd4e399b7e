package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stratos.app/sendguard/internal/model"
)

type rateLimitStore struct {
	db DBTX
}

func newRateLimitStore(db DBTX) RateLimitStore {
	return &rateLimitStore{db: db}
}

// Increment bumps the counter for the given window, creating it lazily on
// first use. The upsert is the atomicity boundary: concurrent sends for the
// same tenant/domain never lose updates.
func (s *rateLimitStore) Increment(ctx context.Context, tenantID, domain string, kind model.WindowKind, windowStart time.Time) (int64, error) {
	const q = `
		INSERT INTO email_rate_limit_counters (tenant_id, domain, window_kind, window_start, count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (tenant_id, domain, window_kind, window_start)
		DO UPDATE SET count = email_rate_limit_counters.count + 1
		RETURNING count`

	var count int64
	if err := s.db.QueryRow(ctx, q, tenantID, domain, string(kind), windowStart).Scan(&count); err != nil {
		return 0, fmt.Errorf("incrementing %s counter: %w", kind, err)
	}
	return count, nil
}

func (s *rateLimitStore) GetCount(ctx context.Context, tenantID, domain string, kind model.WindowKind, windowStart time.Time) (int64, error) {
	const q = `
		SELECT count FROM email_rate_limit_counters
		WHERE tenant_id = $1 AND domain = $2 AND window_kind = $3 AND window_start = $4`

	var count int64
	err := s.db.QueryRow(ctx, q, tenantID, domain, string(kind), windowStart).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No counter yet for this window: nothing sent.
			return 0, nil
		}
		return 0, fmt.Errorf("reading %s counter: %w", kind, err)
	}
	return count, nil
}

func (s *rateLimitStore) Prune(ctx context.Context, kind model.WindowKind, olderThan time.Time) (int64, error) {
	const q = `
		DELETE FROM email_rate_limit_counters
		WHERE window_kind = $1 AND window_start < $2`

	tag, err := s.db.Exec(ctx, q, string(kind), olderThan)
	if err != nil {
		return 0, fmt.Errorf("pruning %s counters: %w", kind, err)
	}
	return tag.RowsAffected(), nil
}
