package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers all routes on the router
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.POST("/sync/gmail", h.TriggerGmailSync)
		api.POST("/sync/calendar", h.TriggerCalendarSync)

		api.GET("/preview/gmail", h.PreviewGmail)
		api.GET("/preview/calendar", h.PreviewCalendar)

		api.GET("/jobs/:id", h.GetJob)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}
