package model

import "time"

// DeliveryKind classifies a delivery-feedback webhook event.
type DeliveryKind string

const (
	DeliveryDelivered  DeliveryKind = "delivered"
	DeliveryBounced    DeliveryKind = "bounced"
	DeliveryComplained DeliveryKind = "complained"
	DeliveryOpened     DeliveryKind = "opened"
	DeliveryClicked    DeliveryKind = "clicked"
)

// BounceKind distinguishes permanent failures from transient ones.
// Only hard bounces feed the suppression list.
type BounceKind string

const (
	BounceHard BounceKind = "hard"
	BounceSoft BounceKind = "soft"
)

// DeliveryEvent is one deduplicated delivery-feedback event. The provider's
// own event id is the idempotency key: webhook delivery is at-least-once, so
// a second arrival of the same id must be a no-op.
type DeliveryEvent struct {
	ID              int64        `json:"id"`
	ProviderEventID string       `json:"provider_event_id"`
	MessageID       *string      `json:"message_id,omitempty"`
	TenantID        string       `json:"tenant_id"`
	Domain          string       `json:"domain"`
	Kind            DeliveryKind `json:"kind"`
	BounceKind      *BounceKind  `json:"bounce_kind,omitempty"`
	Recipient       *string      `json:"recipient,omitempty"`
	PayloadDigest   string       `json:"payload_digest"`
	OccurredAt      time.Time    `json:"occurred_at"`
	CreatedAt       time.Time    `json:"created_at"`
}

// DeliveryCounts aggregates delivery events by kind over some period.
type DeliveryCounts struct {
	Sent        int64 `json:"sent"`
	Delivered   int64 `json:"delivered"`
	Bounced     int64 `json:"bounced"`
	HardBounced int64 `json:"hard_bounced"`
	Complained  int64 `json:"complained"`
	Opened      int64 `json:"opened"`
	Clicked     int64 `json:"clicked"`
}

// DeliverabilityReport answers "what happened in period X" for a tenant,
// independent of the live rolling window used for status decisions.
type DeliverabilityReport struct {
	TenantID      string         `json:"tenant_id"`
	From          time.Time      `json:"from"`
	To            time.Time      `json:"to"`
	Counts        DeliveryCounts `json:"counts"`
	BounceRate    *float64       `json:"bounce_rate,omitempty"`
	ComplaintRate *float64       `json:"complaint_rate,omitempty"`
	OpenRate      *float64       `json:"open_rate,omitempty"`
	ClickRate     *float64       `json:"click_rate,omitempty"`
}
