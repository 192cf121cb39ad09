package handlers

import (
	"github.com/gin-gonic/gin"

	"eventhub/pulse/pkg/auth"
)

// RegisterRoutes attaches the service's routes to the shared router.
func (h *Handlers) RegisterRoutes(router *gin.Engine, serviceToken string) {
	router.GET("/ws", h.HandleWebSocket)

	router.GET("/stats/footer", h.GetFooterStats)

	adminJWT := []gin.HandlerFunc{
		auth.JWTAuthMiddleware(h.jwtSecret),
		auth.RequireRole(auth.RoleAdmin),
	}

	router.GET("/dashboard/analytics", append(adminJWT, h.GetDashboardAnalytics)...)
	router.GET("/stats/footer/admin", append(adminJWT, h.GetAdminFooterStats)...)

	admin := router.Group("/admin", adminJWT...)
	{
		admin.POST("/cache/clear", h.ClearCache)
		admin.GET("/system/health", h.GetSystemHealth)
	}

	internal := router.Group("/internal", auth.ServiceAuthMiddleware(serviceToken))
	{
		internal.POST("/events", h.NotifyDomainEvent)
	}

	router.NoRoute(h.HandleNotFound)
}
