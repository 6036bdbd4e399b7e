package model

import "time"

// DomainStatus is the reputation classification of a sending domain.
// Suspended domains are expected to be blocked by send-path callers;
// the policy decision belongs to the caller, this subsystem only reports.
type DomainStatus string

const (
	DomainHealthy   DomainStatus = "healthy"
	DomainWarning   DomainStatus = "warning"
	DomainSuspended DomainStatus = "suspended"
)

// DomainHealthRecord is the rolling bounce/complaint health of one sending
// domain. Rates are computed over a trailing window against sends in the
// same window, never against all-time counts. A domain with zero sends in
// the window has nil rates and reports healthy: no evidence of harm.
type DomainHealthRecord struct {
	TenantID             string       `json:"tenant_id"`
	Domain               string       `json:"domain"`
	BounceRate           *float64     `json:"bounce_rate,omitempty"`
	ComplaintRate        *float64     `json:"complaint_rate,omitempty"`
	Status               DomainStatus `json:"status"`
	ConsecutiveBadChecks int          `json:"consecutive_bad_checks"`
	LastCheckedAt        time.Time    `json:"last_checked_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// SuppressionReason records why a recipient was suppressed.
type SuppressionReason string

const (
	SuppressionBounce    SuppressionReason = "bounce"
	SuppressionComplaint SuppressionReason = "complaint"
)

// Suppression is one entry in a tenant's recipient suppression list.
// Hard bounces and complaints land here; the send path filters against it.
type Suppression struct {
	ID        int64             `json:"id"`
	TenantID  string            `json:"tenant_id"`
	Email     string            `json:"email"`
	Reason    SuppressionReason `json:"reason"`
	Detail    *string           `json:"detail,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
