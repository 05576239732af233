package main

import (
	"callkit-bridge/internal/httpapi"
	"callkit-bridge/internal/push"
	"callkit-bridge/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, webhooks push.WebhookHandler, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	authGroup := r.Group("/auth")
	{
		if h.Auth != nil && h.Auth.BootstrapEnabled() {
			authGroup.POST("/token", h.IssueToken)
		}
		authGroup.POST("/refresh", h.RefreshToken)
	}

	// Push gateway webhooks.
	hooks := r.Group("/webhooks/push")
	hooks.Use(authMW, rbac.RequireAnyRole(rbac.RolePushGateway))
	{
		hooks.POST("", webhooks.HandleSignal)
		hooks.POST("/token", webhooks.HandleToken)
	}

	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// Bridge methods and the event stream are for app clients.
		// The hidden operator role may call methods to fix stuck calls.
		methods := v1.Group("/methods")
		methods.Use(rbac.RequireAnyRole(rbac.RoleApp, rbac.RoleOperator), httpapi.OperatorSource())
		{
			methods.POST("/:method", h.InvokeMethod)
		}

		v1.GET("/events", rbac.RequireAnyRole(rbac.RoleApp), h.Stream)

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleOperator))
		{
			admin.GET("/calls/:call_id/history", h.CallHistory)
		}
	}
}
