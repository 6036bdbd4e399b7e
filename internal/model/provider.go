package model

import "time"

// ProviderOutcome classifies one recorded send attempt against a transport
// provider.
type ProviderOutcome string

const (
	OutcomeSuccess           ProviderOutcome = "success"
	OutcomeFailure           ProviderOutcome = "failure"
	OutcomeFallbackTriggered ProviderOutcome = "fallback_triggered"
)

// ProviderStatus is the rolling health classification of a provider.
type ProviderStatus string

const (
	ProviderHealthy  ProviderStatus = "healthy"
	ProviderDegraded ProviderStatus = "degraded"
	ProviderDown     ProviderStatus = "down"
)

// ProviderEvent is one immutable entry in a provider's send-outcome log.
type ProviderEvent struct {
	ID            int64           `json:"id"`
	Provider      string          `json:"provider"`
	Outcome       ProviderOutcome `json:"outcome"`
	CorrelationID string          `json:"correlation_id"`
	ErrorCode     *string         `json:"error_code,omitempty"`
	LatencyMs     *int64          `json:"latency_ms,omitempty"`
	TenantID      *string         `json:"tenant_id,omitempty"`
	Domain        *string         `json:"domain,omitempty"`
	// FallbackTo is set on fallback_triggered events: the provider traffic
	// was redirected to.
	FallbackTo *string   `json:"fallback_to,omitempty"`
	Reason     *string   `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ProviderHealthSnapshot is the derived rolling-window summary for one
// provider. It is recomputed from the event log and never hand-edited.
type ProviderHealthSnapshot struct {
	Provider           string         `json:"provider"`
	WindowStart        time.Time      `json:"window_start"`
	WindowEnd          time.Time      `json:"window_end"`
	SuccessCount       int64          `json:"success_count"`
	FailureCount       int64          `json:"failure_count"`
	FallbackCount      int64          `json:"fallback_count"`
	FailureRate        float64        `json:"failure_rate"`
	AvgLatencyMs       *float64       `json:"avg_latency_ms,omitempty"`
	Status             ProviderStatus `json:"status"`
	LastStatusChangeAt time.Time      `json:"last_status_change_at"`
	LastAlertAt        *time.Time     `json:"last_alert_at,omitempty"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// SampleSize is the number of terminal outcomes (success/failure) in the
// window. Fallback events are causal markers, not samples.
func (s ProviderHealthSnapshot) SampleSize() int64 {
	return s.SuccessCount + s.FailureCount
}

// AlertDecision is the result of a provider alert check.
type AlertDecision struct {
	ShouldAlert bool           `json:"should_alert"`
	Status      ProviderStatus `json:"status"`
}
