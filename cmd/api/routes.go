package main

import (
	"appointment-confirmer/internal/bridge"
	"appointment-confirmer/internal/httpapi"
	"appointment-confirmer/internal/telephony"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, webhooks *telephony.WebhookHandler, mediaStream *bridge.Handler, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: These endpoints should be protected by Twilio signature validation in production.
	r.POST("/webhooks/voice", webhooks.Voice)
	r.POST("/webhooks/status", webhooks.Status)
	r.POST("/webhooks/recording", webhooks.Recording)

	// Media stream websocket; the provider connects here when a call is
	// answered.
	r.GET("/media-stream", mediaStream.MediaStream)

	// Token issuance is the only unauthenticated API route.
	r.POST("/v1/auth/login", h.Login)
	r.POST("/v1/auth/refresh", h.Refresh)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/leads", h.ListLeads)
		v1.GET("/statuses", h.ListStatuses)
		v1.POST("/leads/:recordId/status", h.UpdateLeadStatus)

		campaigns := v1.Group("/campaign")
		{
			campaigns.POST("/start", h.StartCampaign)
			campaigns.POST("/stop", h.StopCampaign)
			campaigns.GET("/status", h.CampaignStatus)
		}

		v1.GET("/calls/history", h.CallHistory)

		// Recording access goes through the proxy so provider credentials
		// never leave the server.
		v1.GET("/recordings/:sid", webhooks.ServeRecording)
	}
}
