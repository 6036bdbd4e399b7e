package router

import (
	"github.com/gin-gonic/gin"

	"stratos.app/sendguard/internal/http/handler"
)

func ProviderRouter(router *gin.RouterGroup, handler *handler.ProviderHandler) {
	router.GET("", handler.Dashboard)
	router.GET("/:provider", handler.Stats)
	router.POST("/:provider/events", handler.RecordEvent)
}
