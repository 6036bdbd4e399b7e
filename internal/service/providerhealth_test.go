package service_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"stratos.app/sendguard/core/config"
	"stratos.app/sendguard/internal/model"
	"stratos.app/sendguard/internal/queue"
	"stratos.app/sendguard/internal/service"
)

var _ = Describe("ProviderHealthService", func() {
	var (
		ctx       context.Context
		events    *mockProviderEventStore
		snapshots *mockProviderSnapshotStore
		alerts    *mockProducer
		cfg       config.ProviderHealthConfig
	)

	newService := func() service.ProviderHealthService {
		return service.NewProviderHealthService(events, snapshots, alerts, cfg, nil)
	}

	BeforeEach(func() {
		ctx = context.Background()
		events = &mockProviderEventStore{}
		snapshots = &mockProviderSnapshotStore{}
		alerts = &mockProducer{}
		cfg = config.ProviderHealthConfig{
			Window:            15 * time.Minute,
			MinSample:         5,
			DegradedThreshold: 0.30,
			DownThreshold:     0.60,
			AlertCooldown:     30 * time.Minute,
			EventRetention:    30 * 24 * time.Hour,
		}
	})

	Describe("recording send outcomes", func() {
		It("appends a success event with latency", func() {
			var appended *model.ProviderEvent
			events.appendFn = func(_ context.Context, event *model.ProviderEvent) error {
				appended = event
				return nil
			}

			latency := int64(420)
			err := newService().RecordSendSuccess(ctx, service.SendSuccessParams{
				Provider:      "resend",
				CorrelationID: "msg-1",
				LatencyMs:     &latency,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(appended).NotTo(BeNil())
			Expect(appended.Outcome).To(Equal(model.OutcomeSuccess))
			Expect(appended.ID).NotTo(BeZero())
			Expect(appended.OccurredAt).NotTo(BeZero())
			Expect(*appended.LatencyMs).To(Equal(int64(420)))
		})

		It("records the fallback target on fallback events", func() {
			var appended *model.ProviderEvent
			events.appendFn = func(_ context.Context, event *model.ProviderEvent) error {
				appended = event
				return nil
			}

			err := newService().RecordFallbackTriggered(ctx, service.FallbackParams{
				FromProvider:  "resend",
				ToProvider:    "postmark",
				CorrelationID: "msg-2",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(appended.Outcome).To(Equal(model.OutcomeFallbackTriggered))
			Expect(appended.Provider).To(Equal("resend"))
			Expect(*appended.FallbackTo).To(Equal("postmark"))
		})

		It("swallows append failures so the send path never sees them", func() {
			events.appendFn = func(context.Context, *model.ProviderEvent) error {
				return fmt.Errorf("connection refused")
			}

			err := newService().RecordSendFailure(ctx, service.SendFailureParams{
				Provider:      "resend",
				CorrelationID: "msg-3",
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects an event with no provider", func() {
			err := newService().RecordProviderEvent(ctx, &model.ProviderEvent{
				Outcome:       model.OutcomeSuccess,
				CorrelationID: "msg-4",
			})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("CheckProviderAlert", func() {
		It("reports healthy below the minimum sample regardless of rate", func() {
			// 3 of 4 failed: a 75% rate, but not enough evidence.
			events.windowCountsFn = func(context.Context, string, time.Time) (int64, int64, int64, *float64, error) {
				return 1, 3, 0, nil, nil
			}

			decision, err := newService().CheckProviderAlert(ctx, "resend")
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Status).To(Equal(model.ProviderHealthy))
			Expect(decision.ShouldAlert).To(BeFalse())
			Expect(alerts.published).To(BeEmpty())
		})

		It("reports degraded at the degraded threshold without alerting", func() {
			events.windowCountsFn = func(context.Context, string, time.Time) (int64, int64, int64, *float64, error) {
				return 7, 3, 0, nil, nil // 30%
			}

			decision, err := newService().CheckProviderAlert(ctx, "resend")
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Status).To(Equal(model.ProviderDegraded))
			Expect(decision.ShouldAlert).To(BeFalse())
			Expect(alerts.published).To(BeEmpty())
		})

		It("alerts and persists the snapshot when the provider is down", func() {
			events.windowCountsFn = func(context.Context, string, time.Time) (int64, int64, int64, *float64, error) {
				return 2, 8, 1, nil, nil // 80%
			}
			var upserted *model.ProviderHealthSnapshot
			snapshots.upsertFn = func(_ context.Context, snapshot *model.ProviderHealthSnapshot) error {
				upserted = snapshot
				return nil
			}

			decision, err := newService().CheckProviderAlert(ctx, "resend")
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Status).To(Equal(model.ProviderDown))
			Expect(decision.ShouldAlert).To(BeTrue())

			Expect(upserted).NotTo(BeNil())
			Expect(upserted.FailureRate).To(BeNumerically("~", 0.8, 0.001))
			Expect(upserted.FallbackCount).To(Equal(int64(1)))
			Expect(upserted.LastAlertAt).NotTo(BeNil())

			Expect(alerts.published).To(HaveLen(1))
			Expect(alerts.published[0].Kind).To(Equal(queue.AlertProviderDown))
			Expect(alerts.published[0].Provider).To(Equal("resend"))
		})

		It("suppresses a repeat alert inside the cooldown", func() {
			events.windowCountsFn = func(context.Context, string, time.Time) (int64, int64, int64, *float64, error) {
				return 2, 8, 0, nil, nil
			}
			recent := time.Now().UTC().Add(-5 * time.Minute)
			snapshots.getFn = func(context.Context, string) (*model.ProviderHealthSnapshot, error) {
				return &model.ProviderHealthSnapshot{
					Provider:    "resend",
					Status:      model.ProviderDown,
					LastAlertAt: &recent,
				}, nil
			}

			decision, err := newService().CheckProviderAlert(ctx, "resend")
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Status).To(Equal(model.ProviderDown))
			Expect(decision.ShouldAlert).To(BeFalse())
			Expect(alerts.published).To(BeEmpty())
		})

		It("alerts again once the cooldown has expired", func() {
			events.windowCountsFn = func(context.Context, string, time.Time) (int64, int64, int64, *float64, error) {
				return 2, 8, 0, nil, nil
			}
			stale := time.Now().UTC().Add(-45 * time.Minute)
			snapshots.getFn = func(context.Context, string) (*model.ProviderHealthSnapshot, error) {
				return &model.ProviderHealthSnapshot{
					Provider:    "resend",
					Status:      model.ProviderDown,
					LastAlertAt: &stale,
				}, nil
			}

			decision, err := newService().CheckProviderAlert(ctx, "resend")
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.ShouldAlert).To(BeTrue())
			Expect(alerts.published).To(HaveLen(1))
		})

		It("keeps the original status change time when the status is unchanged", func() {
			events.windowCountsFn = func(context.Context, string, time.Time) (int64, int64, int64, *float64, error) {
				return 10, 0, 0, nil, nil
			}
			changed := time.Now().UTC().Add(-2 * time.Hour)
			snapshots.getFn = func(context.Context, string) (*model.ProviderHealthSnapshot, error) {
				return &model.ProviderHealthSnapshot{
					Provider:           "resend",
					Status:             model.ProviderHealthy,
					LastStatusChangeAt: changed,
				}, nil
			}
			var upserted *model.ProviderHealthSnapshot
			snapshots.upsertFn = func(_ context.Context, snapshot *model.ProviderHealthSnapshot) error {
				upserted = snapshot
				return nil
			}

			_, err := newService().CheckProviderAlert(ctx, "resend")
			Expect(err).NotTo(HaveOccurred())
			Expect(upserted.LastStatusChangeAt).To(Equal(changed))
		})
	})

	Describe("CheckAllProviders", func() {
		It("checks every provider with events on record", func() {
			events.providersFn = func(context.Context) ([]string, error) {
				return []string{"resend", "postmark"}, nil
			}
			var checked []string
			events.windowCountsFn = func(_ context.Context, provider string, _ time.Time) (int64, int64, int64, *float64, error) {
				checked = append(checked, provider)
				return 10, 0, 0, nil, nil
			}

			Expect(newService().CheckAllProviders(ctx)).To(Succeed())
			Expect(checked).To(Equal([]string{"resend", "postmark"}))
		})
	})

	Describe("CleanupOldEvents", func() {
		It("deletes events past retention", func() {
			var cutoff time.Time
			events.deleteBeforeFn = func(_ context.Context, olderThan time.Time) (int64, error) {
				cutoff = olderThan
				return 42, nil
			}

			deleted, err := newService().CleanupOldEvents(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(Equal(int64(42)))
			Expect(cutoff).To(BeTemporally("~", time.Now().UTC().Add(-30*24*time.Hour), time.Minute))
		})
	})
})
