package main

import (
	"net/http"

	"commhub/internal/auth"
	"commhub/internal/httpapi"
	"commhub/internal/rbac"
	"commhub/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeOptions struct {
	API      httpapi.Handlers
	Webhooks telephony.WebhookHandler
	// Signature guards the provider webhooks when set.
	Signature gin.HandlerFunc
	DevTokens bool
	Ready     []readyCheck
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, o routeOptions) {
	h := o.API

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", readyHandler(o.Ready))

	authGroup := r.Group("/auth")
	{
		if o.DevTokens {
			authGroup.POST("/token", h.IssueToken)
		}
		authGroup.POST("/refresh", h.RefreshToken)
	}

	// Provider webhooks
	twilio := r.Group("/webhooks/twilio")
	if o.Signature != nil {
		twilio.Use(o.Signature)
	}
	{
		twilio.POST("/bridge", o.Webhooks.HandleBridge)
		twilio.POST("/status", o.Webhooks.HandleStatus)
		twilio.POST("/voice", o.Webhooks.HandleInboundCall)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(h.Auth))
	v1.Use(rbac.RequireOwner())
	{
		v1.GET("/me", h.Me)

		exts := v1.Group("/voip/extensions")
		{
			exts.POST("", h.CreateExtension)
			exts.GET("", h.ListExtensions)
			exts.GET("/:id", h.GetExtension)
			exts.PUT("/:id", h.UpdateExtension)
			exts.DELETE("/:id", h.DeleteExtension)
			exts.POST("/:id/call", h.PlaceExtensionCall)
			exts.POST("/:id/recurring-calls", h.CreateSchedule)
			exts.GET("/:id/recurring-calls", h.ListSchedules)
		}

		recurring := v1.Group("/voip/recurring-calls")
		{
			recurring.PUT("/:id", h.UpdateSchedule)
			recurring.DELETE("/:id", h.DeleteSchedule)
		}

		calls := v1.Group("/calls")
		{
			calls.POST("", h.InitiateCall)
			calls.GET("/active", h.ListActiveCalls)
			calls.GET("/health", h.CallHealth)
			calls.GET("/:id", h.GetCall)
			calls.POST("/:id/end", h.EndCall)
		}

		v1.GET("/reports/calls", h.CallReport)

		// ADMIN routes
		// network_operator is not included; it only reaches the routing overrides.
		admin := v1.Group("/admin")
		{
			ops := admin.Group("")
			ops.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAdmin))
			ops.GET("/extensions", h.AdminListExtensions)
			ops.GET("/recurring-calls", h.AdminListSchedules)
			ops.POST("/recurring-calls/run", h.AdminRunSchedules)
			ops.GET("/registrar/status", h.RegistrarStatus)
			ops.GET("/registrar/calls", h.RegistrarCalls)
			ops.POST("/registrar/start", h.RegistrarStart)
			ops.POST("/registrar/stop", h.RegistrarStop)
			ops.GET("/audit", h.AuditTrail)

			overrides := admin.Group("/routing/overrides")
			overrides.Use(rbac.RequireAnyRole(rbac.RoleNetworkOperator))
			overrides.GET("", h.ListOverrides)
			overrides.PUT("", h.SetOverride)
			overrides.DELETE("/:number", h.DeleteOverride)
		}
	}
}
