package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"stratos.app/sendguard/internal/http/dto"
	"stratos.app/sendguard/internal/model"
	"stratos.app/sendguard/internal/service"
	"stratos.app/sendguard/internal/store"
)

type ProviderHandler struct {
	providerHealth service.ProviderHealthService
}

func NewProviderHandler(providerHealth service.ProviderHealthService) *ProviderHandler {
	return &ProviderHandler{providerHealth: providerHealth}
}

// RecordEvent accepts one send outcome from the send path.
func (h *ProviderHandler) RecordEvent(c *gin.Context) {
	ctx := c.Request.Context()
	provider := c.Param("provider")

	var req dto.RecordProviderEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	var err error
	switch model.ProviderOutcome(req.Outcome) {
	case model.OutcomeSuccess:
		err = h.providerHealth.RecordSendSuccess(ctx, service.SendSuccessParams{
			Provider:      provider,
			CorrelationID: req.CorrelationID,
			LatencyMs:     req.LatencyMs,
			TenantID:      req.TenantID,
			Domain:        req.Domain,
		})
	case model.OutcomeFailure:
		err = h.providerHealth.RecordSendFailure(ctx, service.SendFailureParams{
			Provider:      provider,
			CorrelationID: req.CorrelationID,
			ErrorCode:     req.ErrorCode,
			LatencyMs:     req.LatencyMs,
			TenantID:      req.TenantID,
			Domain:        req.Domain,
		})
	case model.OutcomeFallbackTriggered:
		if req.FallbackTo == nil || *req.FallbackTo == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fallback_to is required for fallback_triggered"})
			return
		}
		err = h.providerHealth.RecordFallbackTriggered(ctx, service.FallbackParams{
			FromProvider:  provider,
			ToProvider:    *req.FallbackTo,
			CorrelationID: req.CorrelationID,
			Reason:        req.Reason,
			TenantID:      req.TenantID,
			Domain:        req.Domain,
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown outcome"})
		return
	}

	if err != nil {
		slog.ErrorContext(ctx, "failed to record provider event", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record event"})
		return
	}

	c.JSON(http.StatusAccepted, dto.RecordProviderEventResponse{Recorded: true})
}

// Stats returns the latest snapshot for one provider.
func (h *ProviderHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	provider := c.Param("provider")

	snapshot, err := h.providerHealth.GetProviderStats(ctx, provider)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
			return
		}
		slog.ErrorContext(ctx, "failed to read provider stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read stats"})
		return
	}

	c.JSON(http.StatusOK, dto.NewProviderStatsResponse(*snapshot))
}

// Dashboard returns the latest snapshot for every provider.
func (h *ProviderHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	snapshots, err := h.providerHealth.GetProviderHealthDashboard(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read provider dashboard", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read dashboard"})
		return
	}

	resp := dto.ProviderDashboardResponse{Providers: make([]dto.ProviderStatsResponse, 0, len(snapshots))}
	for _, s := range snapshots {
		resp.Providers = append(resp.Providers, dto.NewProviderStatsResponse(s))
	}

	c.JSON(http.StatusOK, resp)
}
