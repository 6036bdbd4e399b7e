package dto

import (
	"time"

	"stratos.app/sendguard/internal/model"
)

type RecordProviderEventRequest struct {
	Outcome       string  `json:"outcome" binding:"required"`
	CorrelationID string  `json:"correlation_id" binding:"required"`
	ErrorCode     *string `json:"error_code,omitempty"`
	LatencyMs     *int64  `json:"latency_ms,omitempty"`
	TenantID      *string `json:"tenant_id,omitempty"`
	Domain        *string `json:"domain,omitempty"`
	FallbackTo    *string `json:"fallback_to,omitempty"`
	Reason        *string `json:"reason,omitempty"`
}

type RecordProviderEventResponse struct {
	Recorded bool `json:"recorded"`
}

type ProviderStatsResponse struct {
	Provider      string     `json:"provider"`
	Status        string     `json:"status"`
	WindowStart   time.Time  `json:"window_start"`
	WindowEnd     time.Time  `json:"window_end"`
	SuccessCount  int64      `json:"success_count"`
	FailureCount  int64      `json:"failure_count"`
	FallbackCount int64      `json:"fallback_count"`
	FailureRate   float64    `json:"failure_rate"`
	AvgLatencyMs  *float64   `json:"avg_latency_ms,omitempty"`
	LastAlertAt   *time.Time `json:"last_alert_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type ProviderDashboardResponse struct {
	Providers []ProviderStatsResponse `json:"providers"`
}

func NewProviderStatsResponse(s model.ProviderHealthSnapshot) ProviderStatsResponse {
	return ProviderStatsResponse{
		Provider:      s.Provider,
		Status:        string(s.Status),
		WindowStart:   s.WindowStart,
		WindowEnd:     s.WindowEnd,
		SuccessCount:  s.SuccessCount,
		FailureCount:  s.FailureCount,
		FallbackCount: s.FallbackCount,
		FailureRate:   s.FailureRate,
		AvgLatencyMs:  s.AvgLatencyMs,
		LastAlertAt:   s.LastAlertAt,
		UpdatedAt:     s.UpdatedAt,
	}
}
