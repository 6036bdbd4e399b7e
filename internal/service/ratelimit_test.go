package service_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"stratos.app/sendguard/core/config"
	"stratos.app/sendguard/internal/model"
	"stratos.app/sendguard/internal/service"
	"stratos.app/sendguard/internal/store"
)

var _ = Describe("RateLimitService", func() {
	var (
		ctx      context.Context
		counters *mockRateLimitStore
		domains  *mockSendingDomainStore
		cfg      config.RateLimitConfig
	)

	newService := func() service.RateLimitService {
		return service.NewRateLimitService(counters, domains, cfg, nil)
	}

	BeforeEach(func() {
		ctx = context.Background()
		counters = &mockRateLimitStore{}
		domains = &mockSendingDomainStore{}
		cfg = config.RateLimitConfig{
			HourlyCap:     100,
			DailyCap:      1000,
			CheckTimeout:  2 * time.Second,
			RetentionDays: 35,
		}
	})

	Describe("CheckRateLimit", func() {
		It("allows when both windows have headroom", func() {
			counts := map[model.WindowKind]int64{
				model.WindowHourly: 10,
				model.WindowDaily:  200,
			}
			counters.getCountFn = func(_ context.Context, _, _ string, kind model.WindowKind, _ time.Time) (int64, error) {
				return counts[kind], nil
			}

			decision, err := newService().CheckRateLimit(ctx, "tenant-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Allowed).To(BeTrue())
			Expect(decision.AdmittedAt).NotTo(BeZero())
			Expect(decision.RemainingHourly).To(Equal(int64(90)))
			Expect(decision.RemainingDaily).To(Equal(int64(800)))
			Expect(decision.RetryAfter).To(BeNil())
		})

		It("denies when the hourly cap is reached", func() {
			counters.getCountFn = func(_ context.Context, _, _ string, kind model.WindowKind, _ time.Time) (int64, error) {
				if kind == model.WindowHourly {
					return 100, nil
				}
				return 500, nil
			}

			decision, err := newService().CheckRateLimit(ctx, "tenant-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Allowed).To(BeFalse())
			Expect(decision.Reason).To(Equal("hourly_limit_exceeded"))
			Expect(decision.RemainingHourly).To(BeZero())
			Expect(decision.RetryAfter).NotTo(BeNil())
			Expect(*decision.RetryAfter).To(BeNumerically(">", 0))
			Expect(*decision.RetryAfter).To(BeNumerically("<=", time.Hour))
		})

		It("denies when the daily cap is reached with the daily rollover as retry hint", func() {
			counters.getCountFn = func(_ context.Context, _, _ string, kind model.WindowKind, _ time.Time) (int64, error) {
				if kind == model.WindowDaily {
					return 1000, nil
				}
				return 0, nil
			}

			decision, err := newService().CheckRateLimit(ctx, "tenant-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Allowed).To(BeFalse())
			Expect(decision.Reason).To(Equal("daily_limit_exceeded"))
			Expect(decision.RetryAfter).NotTo(BeNil())
			Expect(*decision.RetryAfter).To(BeNumerically("<=", 24*time.Hour))
		})

		It("queries the calendar-aligned window boundaries in UTC", func() {
			var seen []time.Time
			counters.getCountFn = func(_ context.Context, _, _ string, _ model.WindowKind, windowStart time.Time) (int64, error) {
				seen = append(seen, windowStart)
				return 0, nil
			}

			_, err := newService().CheckRateLimit(ctx, "tenant-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(seen).To(HaveLen(2))

			hourly, daily := seen[0], seen[1]
			Expect(hourly.Location()).To(Equal(time.UTC))
			Expect(hourly.Truncate(time.Hour)).To(Equal(hourly))
			Expect(daily.Truncate(24 * time.Hour)).To(Equal(daily))
			Expect(hourly).To(BeTemporally("~", time.Now().UTC(), time.Hour))
		})

		It("denies on store failure by default", func() {
			counters.getCountFn = func(context.Context, string, string, model.WindowKind, time.Time) (int64, error) {
				return 0, fmt.Errorf("connection refused")
			}

			decision, err := newService().CheckRateLimit(ctx, "tenant-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Allowed).To(BeFalse())
			Expect(decision.Reason).To(Equal("store_unavailable"))
		})

		It("allows on store failure when fail-open is configured", func() {
			cfg.FailOpen = true
			counters.getCountFn = func(context.Context, string, string, model.WindowKind, time.Time) (int64, error) {
				return 0, fmt.Errorf("connection refused")
			}

			decision, err := newService().CheckRateLimit(ctx, "tenant-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Allowed).To(BeTrue())
			Expect(decision.Reason).To(Equal("store_unavailable"))
		})

		It("fails when the tenant has no active sending domain", func() {
			domains.getActiveDomainFn = func(context.Context, string) (*model.SendingDomain, error) {
				return nil, store.ErrNotFound
			}

			_, err := newService().CheckRateLimit(ctx, "tenant-1")
			Expect(err).To(MatchError(service.ErrNoActiveDomain))
		})

		It("rejects an empty tenant id", func() {
			_, err := newService().CheckRateLimit(ctx, "")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("IncrementEmailCounter", func() {
		It("increments both windows with the same admission timestamp", func() {
			type call struct {
				kind  model.WindowKind
				start time.Time
			}
			var calls []call
			counters.incrementFn = func(_ context.Context, _, _ string, kind model.WindowKind, windowStart time.Time) (int64, error) {
				calls = append(calls, call{kind, windowStart})
				return 1, nil
			}

			Expect(newService().IncrementEmailCounter(ctx, "tenant-1", time.Time{})).To(Succeed())
			Expect(calls).To(HaveLen(2))
			Expect(calls[0].kind).To(Equal(model.WindowHourly))
			Expect(calls[1].kind).To(Equal(model.WindowDaily))
			Expect(calls[1].start).To(Equal(model.WindowDaily.WindowStart(calls[0].start)))
		})

		It("counts against the admitted windows even after a boundary has passed", func() {
			var starts []time.Time
			counters.incrementFn = func(_ context.Context, _, _ string, _ model.WindowKind, windowStart time.Time) (int64, error) {
				starts = append(starts, windowStart)
				return 1, nil
			}

			// Admitted a sliver before 14:00; the increment may run after the
			// rollover but must still land in the 13:00 and same-day windows.
			admittedAt := time.Date(2026, 8, 28, 13, 59, 59, 990000000, time.UTC)
			Expect(newService().IncrementEmailCounter(ctx, "tenant-1", admittedAt)).To(Succeed())

			Expect(starts).To(HaveLen(2))
			Expect(starts[0]).To(Equal(time.Date(2026, 8, 28, 13, 0, 0, 0, time.UTC)))
			Expect(starts[1]).To(Equal(time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)))
		})

		It("returns the store error instead of applying the fail policy", func() {
			counters.incrementFn = func(context.Context, string, string, model.WindowKind, time.Time) (int64, error) {
				return 0, fmt.Errorf("connection refused")
			}

			err := newService().IncrementEmailCounter(ctx, "tenant-1", time.Time{})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("counter pruning", func() {
		It("prunes hourly counters past retention", func() {
			var prunedKind model.WindowKind
			var cutoff time.Time
			counters.pruneFn = func(_ context.Context, kind model.WindowKind, olderThan time.Time) (int64, error) {
				prunedKind = kind
				cutoff = olderThan
				return 7, nil
			}

			pruned, err := newService().ResetHourlyCounters(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(pruned).To(Equal(int64(7)))
			Expect(prunedKind).To(Equal(model.WindowHourly))
			Expect(cutoff).To(BeTemporally("~", time.Now().UTC().AddDate(0, 0, -35), time.Minute))
		})

		It("prunes daily counters past retention", func() {
			var prunedKind model.WindowKind
			counters.pruneFn = func(_ context.Context, kind model.WindowKind, _ time.Time) (int64, error) {
				prunedKind = kind
				return 0, nil
			}

			_, err := newService().ResetDailyCounters(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(prunedKind).To(Equal(model.WindowDaily))
		})
	})
})
