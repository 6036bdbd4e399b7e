package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"stratos.app/sendguard/internal/http/dto"
	"stratos.app/sendguard/internal/service"
)

type RateLimitHandler struct {
	rateLimits service.RateLimitService
}

func NewRateLimitHandler(rateLimits service.RateLimitService) *RateLimitHandler {
	return &RateLimitHandler{rateLimits: rateLimits}
}

// Check answers whether the tenant may send right now. Read-only: the send
// path calls Consume separately once the send is actually attempted.
func (h *RateLimitHandler) Check(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := c.Param("tenant_id")

	decision, err := h.rateLimits.CheckRateLimit(ctx, tenantID)
	if err != nil {
		if errors.Is(err, service.ErrNoActiveDomain) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active sending domain"})
			return
		}
		slog.ErrorContext(ctx, "rate limit check failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rate limit check failed"})
		return
	}

	resp := dto.RateLimitCheckResponse{
		Allowed:         decision.Allowed,
		AdmittedAt:      decision.AdmittedAt,
		RemainingHourly: decision.RemainingHourly,
		RemainingDaily:  decision.RemainingDaily,
		Reason:          decision.Reason,
	}
	if decision.RetryAfter != nil {
		secs := int64(decision.RetryAfter.Seconds())
		resp.RetryAfterSecs = &secs
	}

	c.JSON(http.StatusOK, resp)
}

// Consume records one admitted send against both windows. The body may echo
// admitted_at from the check response so a send that straddles a window
// boundary is counted in the windows it was admitted against.
func (h *RateLimitHandler) Consume(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := c.Param("tenant_id")

	var req dto.RateLimitConsumeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	var admittedAt time.Time
	if req.AdmittedAt != nil {
		admittedAt = *req.AdmittedAt
	}

	if err := h.rateLimits.IncrementEmailCounter(ctx, tenantID, admittedAt); err != nil {
		if errors.Is(err, service.ErrNoActiveDomain) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active sending domain"})
			return
		}
		slog.ErrorContext(ctx, "rate limit consume failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record send"})
		return
	}

	c.JSON(http.StatusOK, dto.RateLimitConsumeResponse{Consumed: true})
}
