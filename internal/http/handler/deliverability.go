package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"stratos.app/sendguard/internal/http/dto"
	"stratos.app/sendguard/internal/service"
)

type DeliverabilityHandler struct {
	deliverability service.DeliverabilityService
}

func NewDeliverabilityHandler(deliverability service.DeliverabilityService) *DeliverabilityHandler {
	return &DeliverabilityHandler{deliverability: deliverability}
}

// DomainHealth returns the health record for one sending domain.
func (h *DeliverabilityHandler) DomainHealth(c *gin.Context) {
	ctx := c.Request.Context()

	record, err := h.deliverability.GetDomainHealth(ctx, c.Param("tenant_id"), c.Param("domain"))
	if err != nil {
		slog.ErrorContext(ctx, "failed to read domain health", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read domain health"})
		return
	}

	c.JSON(http.StatusOK, dto.NewDomainHealthResponse(*record))
}

// DomainsHealth returns health records for every checked domain of a tenant.
func (h *DeliverabilityHandler) DomainsHealth(c *gin.Context) {
	ctx := c.Request.Context()

	records, err := h.deliverability.GetCompanyDomainsHealth(ctx, c.Param("tenant_id"))
	if err != nil {
		slog.ErrorContext(ctx, "failed to list domain health", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list domain health"})
		return
	}

	resp := dto.DomainsHealthResponse{Domains: make([]dto.DomainHealthResponse, 0, len(records))}
	for _, record := range records {
		resp.Domains = append(resp.Domains, dto.NewDomainHealthResponse(record))
	}

	c.JSON(http.StatusOK, resp)
}

// Report aggregates delivery feedback over an explicit [from, to) period.
// Defaults to the trailing 7 days when no bounds are given.
func (h *DeliverabilityHandler) Report(c *gin.Context) {
	ctx := c.Request.Context()

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -7)

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		to = parsed
	}

	if !from.Before(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must precede to"})
		return
	}

	report, err := h.deliverability.GenerateDeliverabilityReport(ctx, c.Param("tenant_id"), from, to)
	if err != nil {
		slog.ErrorContext(ctx, "failed to generate deliverability report", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate report"})
		return
	}

	c.JSON(http.StatusOK, dto.DeliverabilityReportResponse{
		TenantID:      report.TenantID,
		From:          report.From,
		To:            report.To,
		Counts:        report.Counts,
		BounceRate:    report.BounceRate,
		ComplaintRate: report.ComplaintRate,
		OpenRate:      report.OpenRate,
		ClickRate:     report.ClickRate,
	})
}

// CheckSuppression returns which of the given recipients are suppressed for
// the tenant. The send path filters its recipient lists through this.
func (h *DeliverabilityHandler) CheckSuppression(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CheckSuppressionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	suppressions, err := h.deliverability.CheckSuppression(ctx, c.Param("tenant_id"), req.Emails)
	if err != nil {
		slog.ErrorContext(ctx, "failed to check suppressions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check suppressions"})
		return
	}

	resp := dto.CheckSuppressionResponse{Suppressed: make([]dto.SuppressedEmail, 0, len(suppressions))}
	for _, s := range suppressions {
		resp.Suppressed = append(resp.Suppressed, dto.SuppressedEmail{
			Email:  s.Email,
			Reason: string(s.Reason),
		})
	}

	c.JSON(http.StatusOK, resp)
}
