package router

import (
	"github.com/gin-gonic/gin"

	"stratos.app/sendguard/internal/http/handler/webhook"
)

func WebhookRouter(router *gin.RouterGroup, handler *webhook.ResendWebhookHandler) {
	router.POST("/resend", handler.HandleEvent)
}
