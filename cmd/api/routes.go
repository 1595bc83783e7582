package main

import (
	"tuonane/internal/httpapi"
	"tuonane/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", h.Me)
		v1.GET("/wallet", h.GetWallet)
		v1.GET("/earnings", h.ListEarnings)

		callsGroup := v1.Group("/calls")
		{
			callsGroup.POST("", h.StartCall)
			callsGroup.GET("/pending", h.ListPendingCalls)
			callsGroup.GET("/:call_id", h.GetCall)
			callsGroup.POST("/:call_id/accept", h.AcceptCall)
			callsGroup.POST("/:call_id/confirm", h.ConfirmCall)
			callsGroup.POST("/:call_id/reject", h.RejectCall)
			callsGroup.POST("/:call_id/cancel", h.CancelCall)
			callsGroup.POST("/:call_id/hangup", h.HangupCall)
		}

		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAdmin())
		{
			admin.POST("/wallets/credit", h.AdminCredit)
			admin.GET("/reports/calls", h.AdminCallsReport)
			admin.GET("/reports/money", h.AdminMoneyReport)
		}
	}
}
