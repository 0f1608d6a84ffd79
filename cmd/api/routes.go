package main

import (
	"github.com/gin-gonic/gin"

	"call-platform/internal/httpapi"
	"call-platform/internal/rbac"
	"call-platform/internal/telephony"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, gate telephony.AdmissionGate, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: This endpoint should be protected by Twilio signature validation in production.
	webhook := telephony.InboundWebhookHandler{Gate: gate}
	r.POST("/webhooks/twilio/voice", webhook.HandleInboundCall)

	r.POST("/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireAccount())
	{
		campaigns := v1.Group("/campaigns")
		campaigns.Use(rbac.RequireAnyRole(rbac.RoleTenantAdmin, rbac.RolePlatformOperator))
		{
			campaigns.POST("", h.LaunchCampaign)
			campaigns.GET("", h.ListCampaigns)
			campaigns.GET("/:id", h.GetCampaign)
			campaigns.POST("/:id/pause", h.PauseCampaign)
			campaigns.POST("/:id/resume", h.ResumeCampaign)
			campaigns.DELETE("/:id", h.DeleteCampaign)
		}

		v1.GET("/usage/summary", h.UsageSummary)
		v1.GET("/notifications", h.ListNotifications)

		operator := v1.Group("/accounts")
		operator.Use(rbac.RequireAnyRole(rbac.RolePlatformOperator))
		{
			operator.POST("/:id/credit", h.CreditAccount)
		}
	}
}
