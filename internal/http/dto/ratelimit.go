package dto

import "time"

type RateLimitCheckResponse struct {
	Allowed         bool      `json:"allowed"`
	AdmittedAt      time.Time `json:"admitted_at"`
	RemainingHourly int64     `json:"remaining_hourly"`
	RemainingDaily  int64     `json:"remaining_daily"`
	RetryAfterSecs  *int64    `json:"retry_after_seconds,omitempty"`
	Reason          string    `json:"reason,omitempty"`
}

// RateLimitConsumeRequest carries the admitted_at echoed from the check
// response. Optional: a consume without it counts against the current window.
type RateLimitConsumeRequest struct {
	AdmittedAt *time.Time `json:"admitted_at"`
}

type RateLimitConsumeResponse struct {
	Consumed bool `json:"consumed"`
}
