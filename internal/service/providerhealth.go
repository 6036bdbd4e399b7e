package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stratos.app/sendguard/common/id"
	"stratos.app/sendguard/common/logger"
	"stratos.app/sendguard/core/config"
	"stratos.app/sendguard/internal/model"
	"stratos.app/sendguard/internal/queue"
	"stratos.app/sendguard/internal/store"
)

// SendSuccessParams describes one successful provider send.
type SendSuccessParams struct {
	Provider      string
	CorrelationID string
	LatencyMs     *int64
	TenantID      *string
	Domain        *string
}

// SendFailureParams describes one failed provider send.
type SendFailureParams struct {
	Provider      string
	CorrelationID string
	ErrorCode     *string
	LatencyMs     *int64
	TenantID      *string
	Domain        *string
}

// FallbackParams describes a send redirected from one provider to another.
type FallbackParams struct {
	FromProvider  string
	ToProvider    string
	CorrelationID string
	Reason        *string
	TenantID      *string
	Domain        *string
}

// ProviderHealthService watches transport provider reliability. Every send
// outcome lands in an append-only event log; a rolling-window failure rate
// derived from that log drives the healthy/degraded/down classification and
// operator alerts.
//
// Recording is best-effort by contract: an unreachable event log must never
// block or fail the send path it observes.
type ProviderHealthService interface {
	RecordProviderEvent(ctx context.Context, event *model.ProviderEvent) error
	RecordSendSuccess(ctx context.Context, params SendSuccessParams) error
	RecordSendFailure(ctx context.Context, params SendFailureParams) error
	RecordFallbackTriggered(ctx context.Context, params FallbackParams) error
	// CheckProviderAlert recomputes the provider's rolling-window snapshot,
	// persists it, and decides whether a down alert should fire.
	CheckProviderAlert(ctx context.Context, provider string) (*model.AlertDecision, error)
	// CheckAllProviders runs CheckProviderAlert for every provider with
	// events on record. Used by the scheduler.
	CheckAllProviders(ctx context.Context) error
	GetProviderStats(ctx context.Context, provider string) (*model.ProviderHealthSnapshot, error)
	GetProviderHealthDashboard(ctx context.Context) ([]model.ProviderHealthSnapshot, error)
	CleanupOldEvents(ctx context.Context) (int64, error)
}

type providerHealthService struct {
	events    store.ProviderEventStore
	snapshots store.ProviderSnapshotStore
	alerts    queue.Producer
	cfg       config.ProviderHealthConfig
	logger    *slog.Logger
	now       func() time.Time

	// Snapshot upserts are single-writer per provider within this process.
	// Two concurrent checks for the same provider would race on the
	// read-compare-upsert sequence and could double-fire an alert.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewProviderHealthService(events store.ProviderEventStore, snapshots store.ProviderSnapshotStore, alerts queue.Producer, cfg config.ProviderHealthConfig, log *slog.Logger) ProviderHealthService {
	if log == nil {
		log = slog.Default()
	}
	return &providerHealthService{
		events:    events,
		snapshots: snapshots,
		alerts:    alerts,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *providerHealthService) RecordProviderEvent(ctx context.Context, event *model.ProviderEvent) error {
	if event.Provider == "" || event.CorrelationID == "" {
		return fmt.Errorf("provider and correlation_id are required")
	}
	switch event.Outcome {
	case model.OutcomeSuccess, model.OutcomeFailure, model.OutcomeFallbackTriggered:
	default:
		return fmt.Errorf("unknown outcome %q", event.Outcome)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Provider:  logger.Ptr(event.Provider),
		Component: "sendguard.service.providerhealth",
	})

	if event.ID == 0 {
		event.ID = id.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}

	if err := s.events.Append(ctx, event); err != nil {
		// Best effort. The send already happened; losing one observation is
		// cheaper than failing the caller.
		s.logger.ErrorContext(ctx, "failed to record provider event",
			"error", err,
			"outcome", event.Outcome,
			"correlation_id", event.CorrelationID)
		return nil
	}

	s.logger.DebugContext(ctx, "provider event recorded",
		"outcome", event.Outcome,
		"correlation_id", event.CorrelationID)
	return nil
}

func (s *providerHealthService) RecordSendSuccess(ctx context.Context, params SendSuccessParams) error {
	return s.RecordProviderEvent(ctx, &model.ProviderEvent{
		Provider:      params.Provider,
		Outcome:       model.OutcomeSuccess,
		CorrelationID: params.CorrelationID,
		LatencyMs:     params.LatencyMs,
		TenantID:      params.TenantID,
		Domain:        params.Domain,
	})
}

func (s *providerHealthService) RecordSendFailure(ctx context.Context, params SendFailureParams) error {
	return s.RecordProviderEvent(ctx, &model.ProviderEvent{
		Provider:      params.Provider,
		Outcome:       model.OutcomeFailure,
		CorrelationID: params.CorrelationID,
		ErrorCode:     params.ErrorCode,
		LatencyMs:     params.LatencyMs,
		TenantID:      params.TenantID,
		Domain:        params.Domain,
	})
}

func (s *providerHealthService) RecordFallbackTriggered(ctx context.Context, params FallbackParams) error {
	return s.RecordProviderEvent(ctx, &model.ProviderEvent{
		Provider:      params.FromProvider,
		Outcome:       model.OutcomeFallbackTriggered,
		CorrelationID: params.CorrelationID,
		FallbackTo:    &params.ToProvider,
		Reason:        params.Reason,
		TenantID:      params.TenantID,
		Domain:        params.Domain,
	})
}

func (s *providerHealthService) CheckProviderAlert(ctx context.Context, provider string) (*model.AlertDecision, error) {
	if provider == "" {
		return nil, fmt.Errorf("provider is required")
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Provider:  logger.Ptr(provider),
		Component: "sendguard.service.providerhealth",
	})

	lock := s.providerLock(provider)
	lock.Lock()
	defer lock.Unlock()

	now := s.now().UTC()
	windowStart := now.Add(-s.cfg.Window)

	success, failure, fallback, avgLatency, err := s.events.WindowCounts(ctx, provider, windowStart)
	if err != nil {
		return nil, fmt.Errorf("aggregating provider window: %w", err)
	}

	sample := success + failure
	var failureRate float64
	if sample > 0 {
		failureRate = float64(failure) / float64(sample)
	}

	status := s.classify(sample, failureRate)

	previous, err := s.snapshots.Get(ctx, provider)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("reading provider snapshot: %w", err)
	}

	snapshot := &model.ProviderHealthSnapshot{
		Provider:           provider,
		WindowStart:        windowStart,
		WindowEnd:          now,
		SuccessCount:       success,
		FailureCount:       failure,
		FallbackCount:      fallback,
		FailureRate:        failureRate,
		AvgLatencyMs:       avgLatency,
		Status:             status,
		LastStatusChangeAt: now,
	}

	if previous != nil {
		snapshot.LastAlertAt = previous.LastAlertAt
		if previous.Status == status {
			snapshot.LastStatusChangeAt = previous.LastStatusChangeAt
		} else {
			s.logger.WarnContext(ctx, "provider status changed",
				"from", previous.Status,
				"to", status,
				"failure_rate", failureRate,
				"sample_size", sample)
		}
	}

	decision := &model.AlertDecision{Status: status}
	if status == model.ProviderDown && s.cooldownExpired(snapshot.LastAlertAt, now) {
		decision.ShouldAlert = true
		snapshot.LastAlertAt = &now
	}

	if err := s.snapshots.Upsert(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("upserting provider snapshot: %w", err)
	}

	if decision.ShouldAlert {
		s.logger.ErrorContext(ctx, "provider is down",
			"failure_rate", failureRate,
			"sample_size", sample,
			"window", s.cfg.Window.String())

		if err := s.alerts.Publish(ctx, queue.Alert{
			Kind:        queue.AlertProviderDown,
			Provider:    provider,
			FailureRate: &failureRate,
			Reason:      fmt.Sprintf("failure rate %.2f over %d sends", failureRate, sample),
		}); err != nil {
			// The snapshot already records last_alert_at; a lost publish
			// surfaces again after the cooldown.
			s.logger.ErrorContext(ctx, "failed to publish provider alert", "error", err)
		}
	}

	return decision, nil
}

func (s *providerHealthService) CheckAllProviders(ctx context.Context) error {
	providers, err := s.events.Providers(ctx)
	if err != nil {
		return fmt.Errorf("listing providers: %w", err)
	}

	var failed int
	for _, provider := range providers {
		if _, err := s.CheckProviderAlert(ctx, provider); err != nil {
			failed++
			s.logger.ErrorContext(ctx, "provider alert check failed",
				"error", err,
				"provider", provider)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d provider checks failed", failed, len(providers))
	}
	return nil
}

func (s *providerHealthService) GetProviderStats(ctx context.Context, provider string) (*model.ProviderHealthSnapshot, error) {
	if provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	return s.snapshots.Get(ctx, provider)
}

func (s *providerHealthService) GetProviderHealthDashboard(ctx context.Context) ([]model.ProviderHealthSnapshot, error) {
	return s.snapshots.List(ctx)
}

func (s *providerHealthService) CleanupOldEvents(ctx context.Context) (int64, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "sendguard.service.providerhealth",
	})

	cutoff := s.now().UTC().Add(-s.cfg.EventRetention)
	deleted, err := s.events.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old provider events: %w", err)
	}

	if deleted > 0 {
		s.logger.InfoContext(ctx, "deleted old provider events", "deleted", deleted, "older_than", cutoff)
	}
	return deleted, nil
}

// classify maps a window's failure rate to a status. Below the minimum sample
// the provider reports healthy: a couple of failures out of a couple of sends
// is noise, not an outage.
func (s *providerHealthService) classify(sample int64, failureRate float64) model.ProviderStatus {
	if sample < int64(s.cfg.MinSample) {
		return model.ProviderHealthy
	}
	switch {
	case failureRate >= s.cfg.DownThreshold:
		return model.ProviderDown
	case failureRate >= s.cfg.DegradedThreshold:
		return model.ProviderDegraded
	default:
		return model.ProviderHealthy
	}
}

func (s *providerHealthService) cooldownExpired(lastAlert *time.Time, now time.Time) bool {
	if lastAlert == nil {
		return true
	}
	return now.Sub(*lastAlert) >= s.cfg.AlertCooldown
}

func (s *providerHealthService) providerLock(provider string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[provider]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[provider] = lock
	}
	return lock
}
