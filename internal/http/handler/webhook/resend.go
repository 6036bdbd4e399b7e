package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"stratos.app/sendguard/internal/http/dto"
	"stratos.app/sendguard/internal/service"
)

type ResendWebhookHandler struct {
	deliverability service.DeliverabilityService
}

func NewResendWebhookHandler(deliverability service.DeliverabilityService) *ResendWebhookHandler {
	return &ResendWebhookHandler{deliverability: deliverability}
}

// HandleEvent ingests one Resend delivery-feedback webhook. The raw body is
// what the signature covers, so it is read before any parsing.
func (h *ResendWebhookHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	headers := service.WebhookHeaders{
		ID:        c.GetHeader("svix-id"),
		Timestamp: c.GetHeader("svix-timestamp"),
		Signature: c.GetHeader("svix-signature"),
	}

	result, err := h.deliverability.ProcessResendWebhookEvent(ctx, body, headers)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature), errors.Is(err, service.ErrStaleTimestamp):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		case errors.Is(err, service.ErrInvalidWebhook):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		default:
			slog.ErrorContext(ctx, "failed to process webhook", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process webhook"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.WebhookAcceptedResponse{
		Accepted:  true,
		Duplicate: result.Duplicate,
		Ignored:   result.Ignored,
	})
}
