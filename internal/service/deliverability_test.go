package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"stratos.app/sendguard/core/config"
	"stratos.app/sendguard/internal/model"
	"stratos.app/sendguard/internal/queue"
	"stratos.app/sendguard/internal/service"
)

func webhookPayload(eventType, from, bounceType string) []byte {
	payload := map[string]any{
		"type":       eventType,
		"created_at": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"email_id": "msg-abc",
			"from":     from,
			"to":       []string{"customer@example.com"},
			"subject":  "Your invoice",
			"tags": []map[string]string{
				{"name": "tenant_id", "value": "tenant-1"},
			},
			"bounce_type": bounceType,
		},
	}
	raw, err := json.Marshal(payload)
	Expect(err).NotTo(HaveOccurred())
	return raw
}

var _ = Describe("DeliverabilityService", func() {
	var (
		ctx          context.Context
		verifier     *mockVerifier
		deliveries   *mockDeliveryEventStore
		domainHealth *mockDomainHealthStore
		suppressions *mockSuppressionStore
		alerts       *mockProducer
		cfg          config.DeliverabilityConfig
		headers      service.WebhookHeaders
	)

	newService := func() service.DeliverabilityService {
		txRunner := &mockTxRunner{
			deliveries:   deliveries,
			suppressions: suppressions,
			domainHealth: domainHealth,
		}
		return service.NewDeliverabilityService(verifier, txRunner, deliveries, domainHealth, suppressions, alerts, cfg, nil)
	}

	BeforeEach(func() {
		ctx = context.Background()
		verifier = &mockVerifier{}
		deliveries = &mockDeliveryEventStore{}
		domainHealth = &mockDomainHealthStore{}
		suppressions = &mockSuppressionStore{}
		alerts = &mockProducer{}
		cfg = config.DeliverabilityConfig{
			Window:                     7 * 24 * time.Hour,
			BounceWarningThreshold:     0.05,
			BounceSuspendThreshold:     0.08,
			ComplaintSuspendThreshold:  0.005,
			ConsecutiveChecksToSuspend: 2,
		}
		headers = service.WebhookHeaders{
			ID:        "evt_123",
			Timestamp: "1700000000",
			Signature: "v1,abc",
		}
	})

	Describe("ProcessResendWebhookEvent", func() {
		It("rejects a delivery with an invalid signature", func() {
			verifier.err = service.ErrInvalidSignature

			_, err := newService().ProcessResendWebhookEvent(ctx, webhookPayload("email.delivered", "ops@acme.com", ""), headers)
			Expect(err).To(MatchError(service.ErrInvalidSignature))
		})

		It("rejects an unparseable payload", func() {
			_, err := newService().ProcessResendWebhookEvent(ctx, []byte("not json"), headers)
			Expect(err).To(MatchError(service.ErrInvalidWebhook))
		})

		It("persists a delivered event keyed by the provider event id", func() {
			var inserted *model.DeliveryEvent
			deliveries.insertFn = func(_ context.Context, event *model.DeliveryEvent) (bool, error) {
				inserted = event
				return true, nil
			}

			result, err := newService().ProcessResendWebhookEvent(ctx, webhookPayload("email.delivered", "Acme <ops@mail.acme.com>", ""), headers)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Persisted).To(BeTrue())
			Expect(result.Duplicate).To(BeFalse())

			Expect(inserted.ProviderEventID).To(Equal("evt_123"))
			Expect(inserted.TenantID).To(Equal("tenant-1"))
			Expect(inserted.Domain).To(Equal("mail.acme.com"))
			Expect(inserted.Kind).To(Equal(model.DeliveryDelivered))
			Expect(inserted.PayloadDigest).NotTo(BeEmpty())
		})

		It("treats a redelivered provider event id as an accepted no-op", func() {
			deliveries.insertFn = func(context.Context, *model.DeliveryEvent) (bool, error) {
				return false, nil
			}
			suppressions.addFn = func(context.Context, *model.Suppression) (bool, error) {
				Fail("suppression must not run for a duplicate delivery")
				return false, nil
			}

			result, err := newService().ProcessResendWebhookEvent(ctx, webhookPayload("email.bounced", "ops@acme.com", "hard"), headers)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Duplicate).To(BeTrue())
			Expect(result.Persisted).To(BeFalse())
		})

		It("acknowledges unknown event types without persisting", func() {
			deliveries.insertFn = func(context.Context, *model.DeliveryEvent) (bool, error) {
				Fail("unknown event types must not be persisted")
				return false, nil
			}

			result, err := newService().ProcessResendWebhookEvent(ctx, webhookPayload("email.delivery_delayed", "ops@acme.com", ""), headers)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Ignored).To(BeTrue())
		})

		It("suppresses the recipient on a hard bounce", func() {
			var suppressed *model.Suppression
			suppressions.addFn = func(_ context.Context, s *model.Suppression) (bool, error) {
				suppressed = s
				return true, nil
			}

			result, err := newService().ProcessResendWebhookEvent(ctx, webhookPayload("email.bounced", "ops@acme.com", "hard"), headers)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Suppressed).To(BeTrue())
			Expect(suppressed.Email).To(Equal("customer@example.com"))
			Expect(suppressed.Reason).To(Equal(model.SuppressionBounce))
		})

		It("does not suppress on a soft bounce", func() {
			suppressions.addFn = func(context.Context, *model.Suppression) (bool, error) {
				Fail("soft bounces must not suppress")
				return false, nil
			}

			result, err := newService().ProcessResendWebhookEvent(ctx, webhookPayload("email.bounced", "ops@acme.com", "soft"), headers)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Suppressed).To(BeFalse())
		})

		It("suppresses the recipient on a complaint", func() {
			var suppressed *model.Suppression
			suppressions.addFn = func(_ context.Context, s *model.Suppression) (bool, error) {
				suppressed = s
				return true, nil
			}

			result, err := newService().ProcessResendWebhookEvent(ctx, webhookPayload("email.complained", "ops@acme.com", ""), headers)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Suppressed).To(BeTrue())
			Expect(suppressed.Reason).To(Equal(model.SuppressionComplaint))
		})

		It("rejects an event that cannot be attributed to a tenant", func() {
			payload := []byte(`{"type":"email.delivered","data":{"from":"ops@acme.com","to":["a@b.c"],"tags":[]}}`)

			_, err := newService().ProcessResendWebhookEvent(ctx, payload, headers)
			Expect(err).To(MatchError(service.ErrInvalidWebhook))
		})
	})

	Describe("RunHealthCheckForAllDomains", func() {
		var upserted map[string]*model.DomainHealthRecord

		BeforeEach(func() {
			upserted = map[string]*model.DomainHealthRecord{}
			deliveries.activeDomainsFn = func(context.Context, time.Time) ([]model.SendingDomain, error) {
				return []model.SendingDomain{{TenantID: "tenant-1", Domain: "mail.acme.com"}}, nil
			}
			domainHealth.upsertFn = func(_ context.Context, record *model.DomainHealthRecord) error {
				upserted[record.Domain] = record
				return nil
			}
		})

		It("reports healthy with nil rates when the window has no sends", func() {
			deliveries.countsForDomainFn = func(context.Context, string, string, time.Time) (model.DeliveryCounts, error) {
				return model.DeliveryCounts{}, nil
			}

			Expect(newService().RunHealthCheckForAllDomains(ctx)).To(Succeed())

			record := upserted["mail.acme.com"]
			Expect(record.Status).To(Equal(model.DomainHealthy))
			Expect(record.BounceRate).To(BeNil())
			Expect(record.ComplaintRate).To(BeNil())
		})

		It("warns above the bounce warning threshold without suspending", func() {
			deliveries.countsForDomainFn = func(context.Context, string, string, time.Time) (model.DeliveryCounts, error) {
				return model.DeliveryCounts{Sent: 100, Delivered: 94, Bounced: 6}, nil
			}

			Expect(newService().RunHealthCheckForAllDomains(ctx)).To(Succeed())

			record := upserted["mail.acme.com"]
			Expect(record.Status).To(Equal(model.DomainWarning))
			Expect(*record.BounceRate).To(BeNumerically("~", 0.06, 0.001))
			Expect(record.ConsecutiveBadChecks).To(BeZero())
			Expect(alerts.published).To(BeEmpty())
		})

		It("requires consecutive bad checks before suspending", func() {
			deliveries.countsForDomainFn = func(context.Context, string, string, time.Time) (model.DeliveryCounts, error) {
				return model.DeliveryCounts{Sent: 100, Delivered: 90, Bounced: 10}, nil
			}

			// First bad check: warning, streak 1, no alert.
			Expect(newService().RunHealthCheckForAllDomains(ctx)).To(Succeed())
			first := upserted["mail.acme.com"]
			Expect(first.Status).To(Equal(model.DomainWarning))
			Expect(first.ConsecutiveBadChecks).To(Equal(1))
			Expect(alerts.published).To(BeEmpty())

			// Second consecutive bad check: suspended, alert published.
			domainHealth.getFn = func(context.Context, string, string) (*model.DomainHealthRecord, error) {
				return first, nil
			}
			Expect(newService().RunHealthCheckForAllDomains(ctx)).To(Succeed())
			second := upserted["mail.acme.com"]
			Expect(second.Status).To(Equal(model.DomainSuspended))
			Expect(second.ConsecutiveBadChecks).To(Equal(2))

			Expect(alerts.published).To(HaveLen(1))
			Expect(alerts.published[0].Kind).To(Equal(queue.AlertDomainSuspended))
			Expect(alerts.published[0].Domain).To(Equal("mail.acme.com"))
		})

		It("does not re-alert for an already suspended domain", func() {
			deliveries.countsForDomainFn = func(context.Context, string, string, time.Time) (model.DeliveryCounts, error) {
				return model.DeliveryCounts{Sent: 100, Bounced: 20, Delivered: 80}, nil
			}
			domainHealth.getFn = func(context.Context, string, string) (*model.DomainHealthRecord, error) {
				return &model.DomainHealthRecord{
					TenantID:             "tenant-1",
					Domain:               "mail.acme.com",
					Status:               model.DomainSuspended,
					ConsecutiveBadChecks: 3,
				}, nil
			}

			Expect(newService().RunHealthCheckForAllDomains(ctx)).To(Succeed())
			Expect(upserted["mail.acme.com"].Status).To(Equal(model.DomainSuspended))
			Expect(alerts.published).To(BeEmpty())
		})

		It("keeps a suspended domain suspended while rates sit in the warning band", func() {
			// 6% bounces: under the suspend threshold but over the warning
			// threshold. Not clean enough to resume sending.
			deliveries.countsForDomainFn = func(context.Context, string, string, time.Time) (model.DeliveryCounts, error) {
				return model.DeliveryCounts{Sent: 100, Delivered: 94, Bounced: 6}, nil
			}
			domainHealth.getFn = func(context.Context, string, string) (*model.DomainHealthRecord, error) {
				return &model.DomainHealthRecord{
					TenantID:             "tenant-1",
					Domain:               "mail.acme.com",
					Status:               model.DomainSuspended,
					ConsecutiveBadChecks: 2,
				}, nil
			}

			Expect(newService().RunHealthCheckForAllDomains(ctx)).To(Succeed())

			record := upserted["mail.acme.com"]
			Expect(record.Status).To(Equal(model.DomainSuspended))
			Expect(record.ConsecutiveBadChecks).To(Equal(2))
			Expect(alerts.published).To(BeEmpty())
		})

		It("recovers a suspended domain once rates fall under the warning thresholds", func() {
			deliveries.countsForDomainFn = func(context.Context, string, string, time.Time) (model.DeliveryCounts, error) {
				return model.DeliveryCounts{Sent: 100, Delivered: 99, Bounced: 1}, nil
			}
			domainHealth.getFn = func(context.Context, string, string) (*model.DomainHealthRecord, error) {
				return &model.DomainHealthRecord{
					TenantID:             "tenant-1",
					Domain:               "mail.acme.com",
					Status:               model.DomainSuspended,
					ConsecutiveBadChecks: 2,
				}, nil
			}

			Expect(newService().RunHealthCheckForAllDomains(ctx)).To(Succeed())

			record := upserted["mail.acme.com"]
			Expect(record.Status).To(Equal(model.DomainHealthy))
			Expect(record.ConsecutiveBadChecks).To(BeZero())
		})

		It("suspends on complaint rate alone", func() {
			deliveries.countsForDomainFn = func(context.Context, string, string, time.Time) (model.DeliveryCounts, error) {
				return model.DeliveryCounts{Sent: 1000, Delivered: 990, Bounced: 10, Complained: 6}, nil
			}
			domainHealth.getFn = func(context.Context, string, string) (*model.DomainHealthRecord, error) {
				return &model.DomainHealthRecord{
					TenantID:             "tenant-1",
					Domain:               "mail.acme.com",
					Status:               model.DomainWarning,
					ConsecutiveBadChecks: 1,
				}, nil
			}

			Expect(newService().RunHealthCheckForAllDomains(ctx)).To(Succeed())
			Expect(upserted["mail.acme.com"].Status).To(Equal(model.DomainSuspended))
		})
	})

	Describe("GetDomainHealth", func() {
		It("returns a healthy record for a never-checked domain", func() {
			record, err := newService().GetDomainHealth(ctx, "tenant-1", "mail.acme.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Status).To(Equal(model.DomainHealthy))
			Expect(record.BounceRate).To(BeNil())
		})
	})

	Describe("GenerateDeliverabilityReport", func() {
		It("computes rates over the requested period", func() {
			var gotFrom, gotTo time.Time
			deliveries.countsForTenantFn = func(_ context.Context, _ string, from, to time.Time) (model.DeliveryCounts, error) {
				gotFrom, gotTo = from, to
				return model.DeliveryCounts{
					Sent:       200,
					Delivered:  190,
					Bounced:    10,
					Complained: 1,
					Opened:     95,
					Clicked:    19,
				}, nil
			}

			from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
			to := time.Date(2026, 8, 8, 0, 0, 0, 0, time.UTC)

			report, err := newService().GenerateDeliverabilityReport(ctx, "tenant-1", from, to)
			Expect(err).NotTo(HaveOccurred())
			Expect(gotFrom).To(Equal(from))
			Expect(gotTo).To(Equal(to))
			Expect(*report.BounceRate).To(BeNumerically("~", 0.05, 0.001))
			Expect(*report.ComplaintRate).To(BeNumerically("~", 0.005, 0.0001))
			Expect(*report.OpenRate).To(BeNumerically("~", 0.5, 0.001))
			Expect(*report.ClickRate).To(BeNumerically("~", 0.1, 0.001))
		})

		It("leaves rates nil for a period with no sends", func() {
			report, err := newService().GenerateDeliverabilityReport(ctx, "tenant-1",
				time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
				time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC))
			Expect(err).NotTo(HaveOccurred())
			Expect(report.BounceRate).To(BeNil())
			Expect(report.OpenRate).To(BeNil())
		})

		It("rejects an empty period", func() {
			at := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
			_, err := newService().GenerateDeliverabilityReport(ctx, "tenant-1", at, at)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("CheckSuppression", func() {
		It("returns the suppressed subset", func() {
			suppressions.findByEmailsFn = func(_ context.Context, _ string, emails []string) ([]model.Suppression, error) {
				return []model.Suppression{{TenantID: "tenant-1", Email: "bad@example.com", Reason: model.SuppressionBounce}}, nil
			}

			found, err := newService().CheckSuppression(ctx, "tenant-1", []string{"good@example.com", "bad@example.com"})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(1))
			Expect(found[0].Email).To(Equal("bad@example.com"))
		})
	})

	Describe("transactional side effects", func() {
		It("propagates a suppression failure so the insert rolls back", func() {
			suppressions.addFn = func(context.Context, *model.Suppression) (bool, error) {
				return false, fmt.Errorf("connection refused")
			}

			_, err := newService().ProcessResendWebhookEvent(ctx, webhookPayload("email.bounced", "ops@acme.com", "hard"), headers)
			Expect(err).To(HaveOccurred())
		})
	})
})
