package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"stratos.app/sendguard/common/logger"
	"stratos.app/sendguard/internal/service"
)

type SchedulerConfig struct {
	ProviderCheckInterval time.Duration // How often provider snapshots are recomputed
	DomainCheckInterval   time.Duration // How often domain reputation is recomputed
	CleanupInterval       time.Duration // How often old events and counters are pruned
	DeliveryRetention     time.Duration // How long delivery feedback is kept
}

// Scheduler drives the periodic maintenance jobs: counter pruning, provider
// alert checks, domain reputation checks, and event retention cleanup.
// Counter rollover itself needs no job; a new window simply starts a new row.
type Scheduler struct {
	rateLimits     service.RateLimitService
	providerHealth service.ProviderHealthService
	deliverability service.DeliverabilityService
	cfg            SchedulerConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewScheduler(rateLimits service.RateLimitService, providerHealth service.ProviderHealthService, deliverability service.DeliverabilityService, cfg SchedulerConfig) *Scheduler {
	if cfg.ProviderCheckInterval <= 0 {
		cfg.ProviderCheckInterval = time.Minute
	}
	if cfg.DomainCheckInterval <= 0 {
		cfg.DomainCheckInterval = 15 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.DeliveryRetention <= 0 {
		cfg.DeliveryRetention = 90 * 24 * time.Hour
	}
	return &Scheduler{
		rateLimits:     rateLimits,
		providerHealth: providerHealth,
		deliverability: deliverability,
		cfg:            cfg,
		stopCh:         make(chan struct{}),
		stoppedCh:      make(chan struct{}),
	}
}

// Run blocks until Stop() is called or the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "sendguard.worker.scheduler",
	})

	defer close(s.stoppedCh)

	var wg sync.WaitGroup

	s.runTicker(ctx, &wg, "provider_alert_check", s.cfg.ProviderCheckInterval, func(ctx context.Context) error {
		return s.providerHealth.CheckAllProviders(ctx)
	})

	s.runTicker(ctx, &wg, "domain_health_check", s.cfg.DomainCheckInterval, func(ctx context.Context) error {
		return s.deliverability.RunHealthCheckForAllDomains(ctx)
	})

	s.runTicker(ctx, &wg, "retention_cleanup", s.cfg.CleanupInterval, func(ctx context.Context) error {
		if _, err := s.rateLimits.ResetHourlyCounters(ctx); err != nil {
			return err
		}
		if _, err := s.rateLimits.ResetDailyCounters(ctx); err != nil {
			return err
		}
		if _, err := s.providerHealth.CleanupOldEvents(ctx); err != nil {
			return err
		}
		_, err := s.deliverability.CleanupOldDeliveryEvents(ctx, s.cfg.DeliveryRetention)
		return err
	})

	slog.InfoContext(ctx, "scheduler started",
		"provider_check_interval", s.cfg.ProviderCheckInterval,
		"domain_check_interval", s.cfg.DomainCheckInterval,
		"cleanup_interval", s.cfg.CleanupInterval)

	select {
	case <-ctx.Done():
	case <-s.stopCh:
		slog.InfoContext(ctx, "scheduler stopping")
	}

	wg.Wait()
}

// Stop signals the scheduler to stop gracefully.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.stoppedCh
}

func (s *Scheduler) runTicker(ctx context.Context, wg *sync.WaitGroup, name string, interval time.Duration, job func(ctx context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.runJob(ctx, name, job)
			}
		}
	}()
}

func (s *Scheduler) runJob(ctx context.Context, name string, job func(ctx context.Context) error) {
	sc := logger.StartSpan(ctx, "worker."+name)
	defer sc.End()
	ctx = sc.Context()

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in scheduled job", "job", name, "panic", r)
		}
	}()

	start := time.Now()
	if err := job(ctx); err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "scheduled job failed",
			"job", name,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return
	}

	slog.DebugContext(ctx, "scheduled job complete",
		"job", name,
		"duration_ms", time.Since(start).Milliseconds())
}
