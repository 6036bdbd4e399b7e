package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"stratos.app/sendguard/internal/model"
)

type providerEventStore struct {
	db DBTX
}

func newProviderEventStore(db DBTX) ProviderEventStore {
	return &providerEventStore{db: db}
}

func (s *providerEventStore) Append(ctx context.Context, event *model.ProviderEvent) error {
	const q = `
		INSERT INTO provider_events
			(id, provider, outcome, correlation_id, error_code, latency_ms, tenant_id, domain, fallback_to, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.Exec(ctx, q,
		event.ID,
		event.Provider,
		string(event.Outcome),
		event.CorrelationID,
		event.ErrorCode,
		event.LatencyMs,
		event.TenantID,
		event.Domain,
		event.FallbackTo,
		event.Reason,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("appending provider event: %w", err)
	}
	return nil
}

func (s *providerEventStore) WindowCounts(ctx context.Context, provider string, since time.Time) (int64, int64, int64, *float64, error) {
	const q = `
		SELECT
			COUNT(*) FILTER (WHERE outcome = 'success'),
			COUNT(*) FILTER (WHERE outcome = 'failure'),
			COUNT(*) FILTER (WHERE outcome = 'fallback_triggered'),
			AVG(latency_ms) FILTER (WHERE outcome IN ('success', 'failure'))
		FROM provider_events
		WHERE provider = $1 AND occurred_at >= $2`

	var (
		success, failure, fallback int64
		avgLatency                 pgtype.Float8
	)
	if err := s.db.QueryRow(ctx, q, provider, since).Scan(&success, &failure, &fallback, &avgLatency); err != nil {
		return 0, 0, 0, nil, fmt.Errorf("aggregating provider events: %w", err)
	}

	var avg *float64
	if avgLatency.Valid {
		v := avgLatency.Float64
		avg = &v
	}
	return success, failure, fallback, avg, nil
}

func (s *providerEventStore) Providers(ctx context.Context) ([]string, error) {
	const q = `SELECT DISTINCT provider FROM provider_events ORDER BY provider`

	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

func (s *providerEventStore) DeleteBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	const q = `DELETE FROM provider_events WHERE occurred_at < $1`

	tag, err := s.db.Exec(ctx, q, olderThan)
	if err != nil {
		return 0, fmt.Errorf("deleting old provider events: %w", err)
	}
	return tag.RowsAffected(), nil
}

type providerSnapshotStore struct {
	db DBTX
}

func newProviderSnapshotStore(db DBTX) ProviderSnapshotStore {
	return &providerSnapshotStore{db: db}
}

func (s *providerSnapshotStore) Get(ctx context.Context, provider string) (*model.ProviderHealthSnapshot, error) {
	const q = `
		SELECT provider, window_start, window_end, success_count, failure_count, fallback_count,
			failure_rate, avg_latency_ms, status, last_status_change_at, last_alert_at, updated_at
		FROM provider_health_snapshots
		WHERE provider = $1`

	snapshot, err := scanSnapshot(s.db.QueryRow(ctx, q, provider))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading provider snapshot: %w", err)
	}
	return snapshot, nil
}

func (s *providerSnapshotStore) Upsert(ctx context.Context, snapshot *model.ProviderHealthSnapshot) error {
	const q = `
		INSERT INTO provider_health_snapshots
			(provider, window_start, window_end, success_count, failure_count, fallback_count,
			 failure_rate, avg_latency_ms, status, last_status_change_at, last_alert_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (provider) DO UPDATE SET
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			success_count = EXCLUDED.success_count,
			failure_count = EXCLUDED.failure_count,
			fallback_count = EXCLUDED.fallback_count,
			failure_rate = EXCLUDED.failure_rate,
			avg_latency_ms = EXCLUDED.avg_latency_ms,
			status = EXCLUDED.status,
			last_status_change_at = EXCLUDED.last_status_change_at,
			last_alert_at = EXCLUDED.last_alert_at,
			updated_at = now()`

	_, err := s.db.Exec(ctx, q,
		snapshot.Provider,
		snapshot.WindowStart,
		snapshot.WindowEnd,
		snapshot.SuccessCount,
		snapshot.FailureCount,
		snapshot.FallbackCount,
		snapshot.FailureRate,
		snapshot.AvgLatencyMs,
		string(snapshot.Status),
		snapshot.LastStatusChangeAt,
		snapshot.LastAlertAt,
	)
	if err != nil {
		return fmt.Errorf("upserting provider snapshot: %w", err)
	}
	return nil
}

func (s *providerSnapshotStore) List(ctx context.Context) ([]model.ProviderHealthSnapshot, error) {
	const q = `
		SELECT provider, window_start, window_end, success_count, failure_count, fallback_count,
			failure_rate, avg_latency_ms, status, last_status_change_at, last_alert_at, updated_at
		FROM provider_health_snapshots
		ORDER BY provider`

	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing provider snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []model.ProviderHealthSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning provider snapshot: %w", err)
		}
		snapshots = append(snapshots, *snapshot)
	}
	return snapshots, rows.Err()
}

func scanSnapshot(row pgx.Row) (*model.ProviderHealthSnapshot, error) {
	var (
		snapshot    model.ProviderHealthSnapshot
		status      string
		avgLatency  pgtype.Float8
		lastAlertAt pgtype.Timestamptz
	)
	err := row.Scan(
		&snapshot.Provider,
		&snapshot.WindowStart,
		&snapshot.WindowEnd,
		&snapshot.SuccessCount,
		&snapshot.FailureCount,
		&snapshot.FallbackCount,
		&snapshot.FailureRate,
		&avgLatency,
		&status,
		&snapshot.LastStatusChangeAt,
		&lastAlertAt,
		&snapshot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	snapshot.Status = model.ProviderStatus(status)
	if avgLatency.Valid {
		v := avgLatency.Float64
		snapshot.AvgLatencyMs = &v
	}
	if lastAlertAt.Valid {
		t := lastAlertAt.Time
		snapshot.LastAlertAt = &t
	}
	return &snapshot, nil
}
