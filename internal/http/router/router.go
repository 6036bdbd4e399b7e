package router

import (
	"github.com/gin-gonic/gin"

	"stratos.app/sendguard/internal/http/handler"
	"stratos.app/sendguard/internal/http/handler/webhook"
	"stratos.app/sendguard/internal/http/middleware"
	"stratos.app/sendguard/internal/service"
)

type RouterConfig struct {
	AdminAPIKey string
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Authenticated by the provider signature, not the admin key.
	resendHandler := webhook.NewResendWebhookHandler(services.Deliverability())
	WebhookRouter(router.Group("/webhooks"), resendHandler)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RequireAdminKey(cfg.AdminAPIKey))
	{
		rateLimitHandler := handler.NewRateLimitHandler(services.RateLimits())
		deliverabilityHandler := handler.NewDeliverabilityHandler(services.Deliverability())
		TenantRouter(v1.Group("/tenants"), rateLimitHandler, deliverabilityHandler)

		providerHandler := handler.NewProviderHandler(services.ProviderHealth())
		ProviderRouter(v1.Group("/providers"), providerHandler)
	}
}
