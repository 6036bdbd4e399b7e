package dto

import (
	"time"

	"stratos.app/sendguard/internal/model"
)

type WebhookAcceptedResponse struct {
	Accepted  bool `json:"accepted"`
	Duplicate bool `json:"duplicate,omitempty"`
	Ignored   bool `json:"ignored,omitempty"`
}

type DomainHealthResponse struct {
	TenantID             string     `json:"tenant_id"`
	Domain               string     `json:"domain"`
	Status               string     `json:"status"`
	BounceRate           *float64   `json:"bounce_rate,omitempty"`
	ComplaintRate        *float64   `json:"complaint_rate,omitempty"`
	ConsecutiveBadChecks int        `json:"consecutive_bad_checks"`
	LastCheckedAt        *time.Time `json:"last_checked_at,omitempty"`
}

type DomainsHealthResponse struct {
	Domains []DomainHealthResponse `json:"domains"`
}

func NewDomainHealthResponse(r model.DomainHealthRecord) DomainHealthResponse {
	resp := DomainHealthResponse{
		TenantID:             r.TenantID,
		Domain:               r.Domain,
		Status:               string(r.Status),
		BounceRate:           r.BounceRate,
		ComplaintRate:        r.ComplaintRate,
		ConsecutiveBadChecks: r.ConsecutiveBadChecks,
	}
	if !r.LastCheckedAt.IsZero() {
		checked := r.LastCheckedAt
		resp.LastCheckedAt = &checked
	}
	return resp
}

type DeliverabilityReportResponse struct {
	TenantID      string               `json:"tenant_id"`
	From          time.Time            `json:"from"`
	To            time.Time            `json:"to"`
	Counts        model.DeliveryCounts `json:"counts"`
	BounceRate    *float64             `json:"bounce_rate,omitempty"`
	ComplaintRate *float64             `json:"complaint_rate,omitempty"`
	OpenRate      *float64             `json:"open_rate,omitempty"`
	ClickRate     *float64             `json:"click_rate,omitempty"`
}

type CheckSuppressionRequest struct {
	Emails []string `json:"emails" binding:"required"`
}

type SuppressedEmail struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

type CheckSuppressionResponse struct {
	Suppressed []SuppressedEmail `json:"suppressed"`
}
