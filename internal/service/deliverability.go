package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stratos.app/sendguard/common/id"
	"stratos.app/sendguard/common/logger"
	"stratos.app/sendguard/core/config"
	"stratos.app/sendguard/internal/model"
	"stratos.app/sendguard/internal/queue"
	"stratos.app/sendguard/internal/store"
)

// ErrInvalidWebhook means the payload could not be parsed or attributed.
var ErrInvalidWebhook = errors.New("invalid webhook payload")

// ResendWebhookPayload is the envelope Resend posts to the webhook endpoint.
type ResendWebhookPayload struct {
	Type      string            `json:"type"`
	CreatedAt time.Time         `json:"created_at"`
	Data      ResendWebhookData `json:"data"`
}

type ResendWebhookData struct {
	EmailID string      `json:"email_id"`
	From    string      `json:"from"`
	To      []string    `json:"to"`
	Subject string      `json:"subject"`
	Tags    []ResendTag `json:"tags"`
	// BounceType is present on email.bounced events: "hard" for permanent
	// failures, "soft" for transient ones.
	BounceType string `json:"bounce_type"`
}

type ResendTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// WebhookResult reports how one webhook delivery was handled. Duplicate and
// Ignored deliveries are still accepted: the provider retries on anything
// but a 2xx, and retrying those would change nothing.
type WebhookResult struct {
	Kind       model.DeliveryKind `json:"kind,omitempty"`
	Persisted  bool               `json:"persisted"`
	Duplicate  bool               `json:"duplicate"`
	Ignored    bool               `json:"ignored"`
	Suppressed bool               `json:"suppressed"`
}

// DeliverabilityService ingests provider delivery feedback and maintains
// per-domain sending reputation. Hard bounces and spam complaints feed the
// recipient suppression list; rolling bounce/complaint rates drive the
// healthy/warning/suspended domain classification.
type DeliverabilityService interface {
	// ProcessResendWebhookEvent authenticates, parses, and persists one
	// webhook delivery. Redelivery of an already-seen provider event id is a
	// no-op.
	ProcessResendWebhookEvent(ctx context.Context, payload []byte, headers WebhookHeaders) (*WebhookResult, error)
	// HandleBounceWebhook applies bounce side effects: hard bounces suppress
	// the recipient.
	HandleBounceWebhook(ctx context.Context, event *model.DeliveryEvent) (suppressed bool, err error)
	// HandleComplaintWebhook suppresses the complaining recipient.
	HandleComplaintWebhook(ctx context.Context, event *model.DeliveryEvent) (suppressed bool, err error)
	// RunHealthCheckForAllDomains recomputes rolling rates for every domain
	// with recent delivery feedback and reconciles statuses both ways.
	RunHealthCheckForAllDomains(ctx context.Context) error
	GetDomainHealth(ctx context.Context, tenantID, domain string) (*model.DomainHealthRecord, error)
	GetCompanyDomainsHealth(ctx context.Context, tenantID string) ([]model.DomainHealthRecord, error)
	GenerateDeliverabilityReport(ctx context.Context, tenantID string, from, to time.Time) (*model.DeliverabilityReport, error)
	// CheckSuppression returns the subset of emails on the tenant's
	// suppression list, for send-path filtering.
	CheckSuppression(ctx context.Context, tenantID string, emails []string) ([]model.Suppression, error)
	// CleanupOldDeliveryEvents removes delivery feedback past retention.
	CleanupOldDeliveryEvents(ctx context.Context, retention time.Duration) (int64, error)
}

type deliverabilityService struct {
	verifier WebhookVerifier
	txRunner TxRunner
	events   store.DeliveryEventStore
	health   store.DomainHealthStore
	supp     store.SuppressionStore
	alerts   queue.Producer
	cfg      config.DeliverabilityConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewDeliverabilityService(
	verifier WebhookVerifier,
	txRunner TxRunner,
	events store.DeliveryEventStore,
	health store.DomainHealthStore,
	supp store.SuppressionStore,
	alerts queue.Producer,
	cfg config.DeliverabilityConfig,
	log *slog.Logger,
) DeliverabilityService {
	if log == nil {
		log = slog.Default()
	}
	return &deliverabilityService{
		verifier: verifier,
		txRunner: txRunner,
		events:   events,
		health:   health,
		supp:     supp,
		alerts:   alerts,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
	}
}

var deliveryKindByEventType = map[string]model.DeliveryKind{
	"email.delivered":  model.DeliveryDelivered,
	"email.bounced":    model.DeliveryBounced,
	"email.complained": model.DeliveryComplained,
	"email.opened":     model.DeliveryOpened,
	"email.clicked":    model.DeliveryClicked,
}

func (s *deliverabilityService) ProcessResendWebhookEvent(ctx context.Context, payload []byte, headers WebhookHeaders) (*WebhookResult, error) {
	if err := s.verifier.Verify(payload, headers); err != nil {
		return nil, err
	}

	var parsed ResendWebhookPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if parsed.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidWebhook)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ProviderEventID: logger.Ptr(headers.ID),
		EventType:       logger.Ptr(parsed.Type),
		Component:       "sendguard.service.deliverability",
	})

	kind, known := deliveryKindByEventType[parsed.Type]
	if !known {
		// Resend adds event types over time. Acknowledge so the provider
		// stops retrying, but persist nothing.
		s.logger.InfoContext(ctx, "ignoring unknown webhook event type")
		return &WebhookResult{Ignored: true}, nil
	}

	tenantID := tagValue(parsed.Data.Tags, "tenant_id")
	if tenantID == "" {
		tenantID = tagValue(parsed.Data.Tags, "company_id")
	}
	domain := senderDomain(parsed.Data.From)
	if tenantID == "" || domain == "" {
		return nil, fmt.Errorf("%w: event is not attributable to a tenant domain", ErrInvalidWebhook)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TenantID: logger.Ptr(tenantID),
		Domain:   logger.Ptr(domain),
	})

	occurredAt := parsed.CreatedAt
	if occurredAt.IsZero() {
		occurredAt = s.now().UTC()
	}

	digest := sha256.Sum256(payload)
	event := &model.DeliveryEvent{
		ID:              id.New(),
		ProviderEventID: headers.ID,
		TenantID:        tenantID,
		Domain:          domain,
		Kind:            kind,
		PayloadDigest:   hex.EncodeToString(digest[:]),
		OccurredAt:      occurredAt,
	}
	if parsed.Data.EmailID != "" {
		event.MessageID = &parsed.Data.EmailID
	}
	if len(parsed.Data.To) > 0 {
		recipient := parsed.Data.To[0]
		event.Recipient = &recipient
	}
	if kind == model.DeliveryBounced {
		bounceKind := classifyBounce(parsed.Data.BounceType)
		event.BounceKind = &bounceKind
	}

	result := &WebhookResult{Kind: kind}

	// Insert and side effects share a transaction so a crash between them
	// cannot leave a hard bounce recorded without its suppression.
	if err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		created, err := sp.DeliveryEvents().Insert(ctx, event)
		if err != nil {
			return fmt.Errorf("inserting delivery event: %w", err)
		}
		if !created {
			result.Duplicate = true
			return nil
		}
		result.Persisted = true

		switch kind {
		case model.DeliveryBounced:
			result.Suppressed, err = s.handleBounce(ctx, sp.Suppressions(), event)
		case model.DeliveryComplained:
			result.Suppressed, err = s.handleComplaint(ctx, sp.Suppressions(), event)
		}
		return err
	}); err != nil {
		return nil, err
	}

	if result.Duplicate {
		s.logger.InfoContext(ctx, "duplicate webhook delivery deduped")
	} else {
		s.logger.InfoContext(ctx, "webhook event recorded", "suppressed", result.Suppressed)
	}

	return result, nil
}

func (s *deliverabilityService) HandleBounceWebhook(ctx context.Context, event *model.DeliveryEvent) (bool, error) {
	return s.handleBounce(ctx, s.supp, event)
}

func (s *deliverabilityService) HandleComplaintWebhook(ctx context.Context, event *model.DeliveryEvent) (bool, error) {
	return s.handleComplaint(ctx, s.supp, event)
}

func (s *deliverabilityService) handleBounce(ctx context.Context, supp store.SuppressionStore, event *model.DeliveryEvent) (bool, error) {
	// Soft bounces are transient (full mailbox, greylisting). Only permanent
	// failures suppress the recipient.
	if event.BounceKind == nil || *event.BounceKind != model.BounceHard || event.Recipient == nil {
		return false, nil
	}
	return s.addSuppression(ctx, supp, event, model.SuppressionBounce)
}

func (s *deliverabilityService) handleComplaint(ctx context.Context, supp store.SuppressionStore, event *model.DeliveryEvent) (bool, error) {
	if event.Recipient == nil {
		return false, nil
	}
	return s.addSuppression(ctx, supp, event, model.SuppressionComplaint)
}

func (s *deliverabilityService) addSuppression(ctx context.Context, supp store.SuppressionStore, event *model.DeliveryEvent, reason model.SuppressionReason) (bool, error) {
	detail := fmt.Sprintf("provider event %s", event.ProviderEventID)
	created, err := supp.Add(ctx, &model.Suppression{
		ID:       id.New(),
		TenantID: event.TenantID,
		Email:    *event.Recipient,
		Reason:   reason,
		Detail:   &detail,
	})
	if err != nil {
		return false, fmt.Errorf("suppressing recipient: %w", err)
	}
	if created {
		s.logger.WarnContext(ctx, "recipient suppressed", "reason", reason)
	}
	return created, nil
}

func (s *deliverabilityService) RunHealthCheckForAllDomains(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "sendguard.service.deliverability",
	})

	now := s.now().UTC()
	since := now.Add(-s.cfg.Window)

	domains, err := s.events.ActiveDomains(ctx, since)
	if err != nil {
		return fmt.Errorf("listing active domains: %w", err)
	}

	var failed int
	for _, d := range domains {
		if err := s.checkDomain(ctx, d.TenantID, d.Domain, since, now); err != nil {
			failed++
			s.logger.ErrorContext(ctx, "domain health check failed",
				"error", err,
				"tenant_id", d.TenantID,
				"domain", d.Domain)
		}
	}

	s.logger.InfoContext(ctx, "domain health check complete",
		"checked", len(domains),
		"failed", failed)

	if failed > 0 {
		return fmt.Errorf("%d of %d domain checks failed", failed, len(domains))
	}
	return nil
}

func (s *deliverabilityService) checkDomain(ctx context.Context, tenantID, domain string, since, now time.Time) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TenantID: logger.Ptr(tenantID),
		Domain:   logger.Ptr(domain),
	})

	counts, err := s.events.CountsForDomain(ctx, tenantID, domain, since)
	if err != nil {
		return fmt.Errorf("aggregating delivery events: %w", err)
	}

	previous, err := s.health.Get(ctx, tenantID, domain)
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("reading domain health: %w", err)
	}

	record := s.evaluateDomain(tenantID, domain, counts, previous, now)

	if err := s.health.Upsert(ctx, record); err != nil {
		return fmt.Errorf("upserting domain health: %w", err)
	}

	if record.Status == model.DomainSuspended && (previous == nil || previous.Status != model.DomainSuspended) {
		s.logger.ErrorContext(ctx, "sending domain suspended",
			"bounce_rate", deref(record.BounceRate),
			"complaint_rate", deref(record.ComplaintRate),
			"sent_in_window", counts.Sent)

		if err := s.alerts.Publish(ctx, queue.Alert{
			Kind:          queue.AlertDomainSuspended,
			TenantID:      tenantID,
			Domain:        domain,
			BounceRate:    record.BounceRate,
			ComplaintRate: record.ComplaintRate,
			Reason:        fmt.Sprintf("reputation thresholds exceeded over %d sends", counts.Sent),
		}); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish domain alert", "error", err)
		}
	}

	return nil
}

// evaluateDomain derives the next health record from the window's counts and
// the previous record. Suspension requires consecutive bad checks so that one
// noisy window cannot take a domain out of service; recovery requires rates
// back under the warning thresholds.
func (s *deliverabilityService) evaluateDomain(tenantID, domain string, counts model.DeliveryCounts, previous *model.DomainHealthRecord, now time.Time) *model.DomainHealthRecord {
	record := &model.DomainHealthRecord{
		TenantID:      tenantID,
		Domain:        domain,
		Status:        model.DomainHealthy,
		LastCheckedAt: now,
	}

	if counts.Sent == 0 {
		// No sends in the window means no evidence either way. Rates stay
		// null and a previously suspended domain is released.
		return record
	}

	bounceRate := float64(counts.Bounced) / float64(counts.Sent)
	complaintRate := float64(counts.Complained) / float64(counts.Sent)
	record.BounceRate = &bounceRate
	record.ComplaintRate = &complaintRate

	suspendLevel := bounceRate >= s.cfg.BounceSuspendThreshold || complaintRate >= s.cfg.ComplaintSuspendThreshold
	warnLevel := bounceRate >= s.cfg.BounceWarningThreshold

	if suspendLevel {
		record.ConsecutiveBadChecks = 1
		if previous != nil {
			record.ConsecutiveBadChecks = previous.ConsecutiveBadChecks + 1
		}
		if record.ConsecutiveBadChecks >= s.cfg.ConsecutiveChecksToSuspend {
			record.Status = model.DomainSuspended
		} else {
			record.Status = model.DomainWarning
		}
		return record
	}

	if warnLevel {
		record.Status = model.DomainWarning
		if previous != nil && previous.Status == model.DomainSuspended {
			// Warning-band rates are not recovery. The domain stays out of
			// service until rates drop under the warning thresholds.
			record.Status = model.DomainSuspended
			record.ConsecutiveBadChecks = previous.ConsecutiveBadChecks
		}
		return record
	}

	// Rates are back under the warning thresholds; a suspended domain
	// recovers here and the bad-check streak resets.
	return record
}

func (s *deliverabilityService) GetDomainHealth(ctx context.Context, tenantID, domain string) (*model.DomainHealthRecord, error) {
	if tenantID == "" || domain == "" {
		return nil, fmt.Errorf("tenant_id and domain are required")
	}

	record, err := s.health.Get(ctx, tenantID, domain)
	if err == store.ErrNotFound {
		// Never checked means never observed misbehaving.
		return &model.DomainHealthRecord{
			TenantID: tenantID,
			Domain:   domain,
			Status:   model.DomainHealthy,
		}, nil
	}
	return record, err
}

func (s *deliverabilityService) GetCompanyDomainsHealth(ctx context.Context, tenantID string) ([]model.DomainHealthRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	return s.health.ListByTenant(ctx, tenantID)
}

func (s *deliverabilityService) GenerateDeliverabilityReport(ctx context.Context, tenantID string, from, to time.Time) (*model.DeliverabilityReport, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("report period is empty: from must precede to")
	}

	counts, err := s.events.CountsForTenant(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregating report counts: %w", err)
	}

	report := &model.DeliverabilityReport{
		TenantID: tenantID,
		From:     from,
		To:       to,
		Counts:   counts,
	}

	if counts.Sent > 0 {
		report.BounceRate = ratio(counts.Bounced, counts.Sent)
		report.ComplaintRate = ratio(counts.Complained, counts.Sent)
	}
	if counts.Delivered > 0 {
		report.OpenRate = ratio(counts.Opened, counts.Delivered)
		report.ClickRate = ratio(counts.Clicked, counts.Delivered)
	}

	return report, nil
}

func (s *deliverabilityService) CheckSuppression(ctx context.Context, tenantID string, emails []string) ([]model.Suppression, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	return s.supp.FindByEmails(ctx, tenantID, emails)
}

func (s *deliverabilityService) CleanupOldDeliveryEvents(ctx context.Context, retention time.Duration) (int64, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "sendguard.service.deliverability",
	})

	cutoff := s.now().UTC().Add(-retention)
	deleted, err := s.events.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old delivery events: %w", err)
	}

	if deleted > 0 {
		s.logger.InfoContext(ctx, "deleted old delivery events", "deleted", deleted, "older_than", cutoff)
	}
	return deleted, nil
}

func classifyBounce(bounceType string) model.BounceKind {
	// Unknown bounce classifications stay soft: suppression is irreversible
	// enough that it should only happen on an explicit hard signal.
	if strings.EqualFold(bounceType, "hard") || strings.EqualFold(bounceType, "permanent") {
		return model.BounceHard
	}
	return model.BounceSoft
}

func tagValue(tags []ResendTag, name string) string {
	for _, tag := range tags {
		if tag.Name == name {
			return tag.Value
		}
	}
	return ""
}

func senderDomain(from string) string {
	// From may be bare ("ops@acme.com") or display-name formatted
	// ("Acme <ops@acme.com>").
	addr := strings.TrimSuffix(strings.TrimSpace(from), ">")
	if idx := strings.LastIndex(addr, "<"); idx >= 0 {
		addr = addr[idx+1:]
	}
	_, domain, found := strings.Cut(addr, "@")
	if !found {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(domain))
}

func ratio(numerator, denominator int64) *float64 {
	r := float64(numerator) / float64(denominator)
	return &r
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
