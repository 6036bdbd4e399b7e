package router

import (
	"github.com/gin-gonic/gin"

	"stratos.app/sendguard/internal/http/handler"
)

func TenantRouter(router *gin.RouterGroup, rateLimits *handler.RateLimitHandler, deliverability *handler.DeliverabilityHandler) {
	router.GET("/:tenant_id/rate-limit", rateLimits.Check)
	router.POST("/:tenant_id/rate-limit/consume", rateLimits.Consume)

	router.GET("/:tenant_id/domains", deliverability.DomainsHealth)
	router.GET("/:tenant_id/domains/:domain", deliverability.DomainHealth)
	router.GET("/:tenant_id/reports/deliverability", deliverability.Report)
	router.POST("/:tenant_id/suppressions/check", deliverability.CheckSuppression)
}
