package model

import "time"

// WindowKind identifies which fixed admission window a counter belongs to.
type WindowKind string

const (
	WindowHourly WindowKind = "hourly"
	WindowDaily  WindowKind = "daily"
)

// WindowStart returns the boundary of the window containing t.
// Windows are calendar-aligned in UTC, matching provider-side quota windows.
func (k WindowKind) WindowStart(t time.Time) time.Time {
	t = t.UTC()
	switch k {
	case WindowDaily:
		return t.Truncate(24 * time.Hour)
	default:
		return t.Truncate(time.Hour)
	}
}

// NextWindowStart returns the boundary of the window after the one containing t.
func (k WindowKind) NextWindowStart(t time.Time) time.Time {
	start := k.WindowStart(t)
	switch k {
	case WindowDaily:
		return start.Add(24 * time.Hour)
	default:
		return start.Add(time.Hour)
	}
}

// RateLimitCounter is one fixed-window send counter for a tenant's sending
// domain. Counters are created lazily on first increment in a window and only
// ever incremented; a rollover starts a fresh row rather than resetting an
// old one.
type RateLimitCounter struct {
	TenantID    string     `json:"tenant_id"`
	Domain      string     `json:"domain"`
	WindowKind  WindowKind `json:"window_kind"`
	WindowStart time.Time  `json:"window_start"`
	Count       int64      `json:"count"`
	CreatedAt   time.Time  `json:"created_at"`
}

// RateLimitDecision is the admission-control answer for one send attempt.
// Allowed is true only when both windows have headroom. RetryAfter is set
// when denied and points at the nearer window rollover. AdmittedAt is the
// timestamp the windows were evaluated at; callers pass it back when
// consuming so the counted windows are the admitted ones even if the send
// straddles a boundary.
type RateLimitDecision struct {
	Allowed         bool           `json:"allowed"`
	AdmittedAt      time.Time      `json:"admitted_at"`
	RemainingHourly int64          `json:"remaining_hourly"`
	RemainingDaily  int64          `json:"remaining_daily"`
	RetryAfter      *time.Duration `json:"retry_after,omitempty"`
	Reason          string         `json:"reason,omitempty"`
}

// SendingDomain is the tenant's active sending domain, resolved from the
// application-owned domain configuration. Read-only in this subsystem.
type SendingDomain struct {
	TenantID     string  `json:"tenant_id"`
	Domain       string  `json:"domain"`
	ReplyToEmail *string `json:"reply_to_email,omitempty"`
}
