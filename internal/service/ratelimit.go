package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stratos.app/sendguard/common/logger"
	"stratos.app/sendguard/core/config"
	"stratos.app/sendguard/internal/model"
	"stratos.app/sendguard/internal/store"
)

var (
	// ErrNoActiveDomain means the tenant has no verified, enabled sending
	// domain to count against.
	ErrNoActiveDomain = errors.New("no active sending domain")
)

const (
	reasonHourlyExceeded   = "hourly_limit_exceeded"
	reasonDailyExceeded    = "daily_limit_exceeded"
	reasonStoreUnavailable = "store_unavailable"
)

// RateLimitService is the admission control for outbound email. Counters are
// fixed calendar windows in the counter store; the check reads, the consume
// increments. Both are bounded by a short timeout so a slow store can never
// stall the send path.
type RateLimitService interface {
	// CheckRateLimit answers whether the tenant has headroom in both the
	// hourly and daily window. It never increments.
	CheckRateLimit(ctx context.Context, tenantID string) (*model.RateLimitDecision, error)
	// IncrementEmailCounter records one admitted send in both windows.
	// admittedAt is the decision's AdmittedAt, so the increment lands in the
	// windows the check evaluated; a zero value counts against now.
	IncrementEmailCounter(ctx context.Context, tenantID string, admittedAt time.Time) error
	// ResetHourlyCounters prunes hourly counter rows past retention. Rollover
	// itself needs no reset: a new window starts a new row.
	ResetHourlyCounters(ctx context.Context) (int64, error)
	// ResetDailyCounters prunes daily counter rows past retention.
	ResetDailyCounters(ctx context.Context) (int64, error)
}

type rateLimitService struct {
	counters store.RateLimitStore
	domains  store.SendingDomainStore
	cfg      config.RateLimitConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewRateLimitService(counters store.RateLimitStore, domains store.SendingDomainStore, cfg config.RateLimitConfig, log *slog.Logger) RateLimitService {
	if log == nil {
		log = slog.Default()
	}
	return &rateLimitService{
		counters: counters,
		domains:  domains,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
	}
}

func (s *rateLimitService) CheckRateLimit(ctx context.Context, tenantID string) (*model.RateLimitDecision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	domain, err := s.resolveDomain(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TenantID:  logger.Ptr(tenantID),
		Domain:    logger.Ptr(domain),
		Component: "sendguard.service.ratelimit",
	})

	now := s.now()
	checkCtx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()

	hourly, err := s.counters.GetCount(checkCtx, tenantID, domain, model.WindowHourly, model.WindowHourly.WindowStart(now))
	if err != nil {
		return s.failPolicy(ctx, now, err), nil
	}
	daily, err := s.counters.GetCount(checkCtx, tenantID, domain, model.WindowDaily, model.WindowDaily.WindowStart(now))
	if err != nil {
		return s.failPolicy(ctx, now, err), nil
	}

	decision := &model.RateLimitDecision{
		Allowed:         true,
		AdmittedAt:      now,
		RemainingHourly: max(s.cfg.HourlyCap-hourly, 0),
		RemainingDaily:  max(s.cfg.DailyCap-daily, 0),
	}

	// Deny on whichever window is exhausted; when both are, point at the
	// nearer rollover.
	switch {
	case hourly >= s.cfg.HourlyCap:
		decision.Allowed = false
		decision.Reason = reasonHourlyExceeded
		retry := model.WindowHourly.NextWindowStart(now).Sub(now)
		decision.RetryAfter = &retry
	case daily >= s.cfg.DailyCap:
		decision.Allowed = false
		decision.Reason = reasonDailyExceeded
		retry := model.WindowDaily.NextWindowStart(now).Sub(now)
		decision.RetryAfter = &retry
	}

	if !decision.Allowed {
		s.logger.WarnContext(ctx, "send denied by rate limit",
			"reason", decision.Reason,
			"hourly_count", hourly,
			"daily_count", daily,
			"retry_after", decision.RetryAfter.String())
	}

	return decision, nil
}

func (s *rateLimitService) IncrementEmailCounter(ctx context.Context, tenantID string, admittedAt time.Time) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}

	domain, err := s.resolveDomain(ctx, tenantID)
	if err != nil {
		return err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TenantID:  logger.Ptr(tenantID),
		Domain:    logger.Ptr(domain),
		Component: "sendguard.service.ratelimit",
	})

	// The admission timestamp picks the windows for both increments, so an
	// attempt admitted just before a boundary is counted against the windows
	// the check actually evaluated.
	if admittedAt.IsZero() {
		admittedAt = s.now()
	}
	incrCtx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()

	hourly, err := s.counters.Increment(incrCtx, tenantID, domain, model.WindowHourly, model.WindowHourly.WindowStart(admittedAt))
	if err != nil {
		return fmt.Errorf("incrementing hourly counter: %w", err)
	}
	daily, err := s.counters.Increment(incrCtx, tenantID, domain, model.WindowDaily, model.WindowDaily.WindowStart(admittedAt))
	if err != nil {
		return fmt.Errorf("incrementing daily counter: %w", err)
	}

	s.logger.DebugContext(ctx, "email counters incremented", "hourly_count", hourly, "daily_count", daily)
	return nil
}

func (s *rateLimitService) ResetHourlyCounters(ctx context.Context) (int64, error) {
	return s.prune(ctx, model.WindowHourly)
}

func (s *rateLimitService) ResetDailyCounters(ctx context.Context) (int64, error) {
	return s.prune(ctx, model.WindowDaily)
}

func (s *rateLimitService) prune(ctx context.Context, kind model.WindowKind) (int64, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "sendguard.service.ratelimit",
	})

	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	pruned, err := s.counters.Prune(ctx, kind, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning %s counters: %w", kind, err)
	}

	if pruned > 0 {
		s.logger.InfoContext(ctx, "pruned expired rate limit counters",
			"window_kind", kind,
			"pruned", pruned,
			"older_than", cutoff)
	}
	return pruned, nil
}

func (s *rateLimitService) resolveDomain(ctx context.Context, tenantID string) (string, error) {
	domain, err := s.domains.GetActiveDomain(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNoActiveDomain
		}
		return "", fmt.Errorf("resolving sending domain: %w", err)
	}
	return domain.Domain, nil
}

// failPolicy maps a counter store error to the configured admission decision.
// Denying by default keeps a flaky store from silently blowing provider
// quotas; fail-open is an explicit operator choice.
func (s *rateLimitService) failPolicy(ctx context.Context, admittedAt time.Time, err error) *model.RateLimitDecision {
	s.logger.ErrorContext(ctx, "rate limit store unavailable",
		"error", err,
		"fail_open", s.cfg.FailOpen)

	return &model.RateLimitDecision{
		Allowed:    s.cfg.FailOpen,
		AdmittedAt: admittedAt,
		Reason:     reasonStoreUnavailable,
	}
}
