// Package api assembles the HTTP surface: authenticated management
// routes, probe agent routes, and the unauthenticated push endpoints.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pulsegrid/pulsegrid/internal/api/handlers"
	"github.com/pulsegrid/pulsegrid/internal/api/middleware"
	"github.com/pulsegrid/pulsegrid/internal/config"
)

type Server struct {
	Router *gin.Engine
}

func NewServer(cfg *config.Config, handler *handlers.Handler, probeAuth middleware.ProbeAuthenticator, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Push endpoints: token in path, rate limited, no JWT.
	public := router.Group("/api/public")
	{
		public.GET("/heartbeat/:token", handler.HeartbeatPing)
		public.POST("/remote-write/:token", handler.RemoteWrite)
	}

	// Agent endpoints: probe bearer token.
	agent := router.Group("/api/v1/probes/agent")
	agent.Use(middleware.ProbeAuth(probeAuth))
	{
		agent.POST("/heartbeat", handler.ProbeHeartbeat)
		agent.GET("/jobs", handler.ProbeFetchJobs)
		agent.POST("/jobs/:id/result", handler.ProbeSubmitResult)
	}

	// Management endpoints: user JWT.
	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthRequired(cfg.Auth.JWTSecret))
	{
		v1.POST("/monitors", handler.CreateMonitor)
		v1.GET("/monitors", handler.ListMonitors)
		v1.GET("/monitors/:id", handler.GetMonitor)
		v1.PATCH("/monitors/:id", handler.UpdateMonitor)
		v1.DELETE("/monitors/:id", handler.DeleteMonitor)
		v1.POST("/monitors/:id/check", handler.TriggerCheck)
		v1.GET("/monitors/:id/history", handler.GetMonitorHistory)

		v1.POST("/probes", handler.RegisterProbe)
		v1.GET("/probes", handler.ListProbes)
		v1.PATCH("/probes/:id", handler.UpdateProbe)
		v1.DELETE("/probes/:id", handler.DeleteProbe)

		v1.POST("/alerts/policies", handler.CreateAlertPolicy)
		v1.GET("/alerts/policies", handler.ListAlertPolicies)
		v1.PUT("/alerts/policies/:id", handler.UpdateAlertPolicy)
		v1.DELETE("/alerts/policies/:id", handler.DeleteAlertPolicy)
		v1.POST("/alerts/channels", handler.CreateChannel)
		v1.GET("/alerts/channels", handler.ListChannels)
		v1.DELETE("/alerts/channels/:id", handler.DeleteChannel)
		v1.GET("/alerts/history", handler.GetAlertHistory)

		v1.GET("/incidents", handler.ListIncidents)
		v1.GET("/incidents/:id", handler.GetIncident)
		v1.POST("/incidents/:id/ack", handler.AcknowledgeIncident)
		v1.POST("/incidents/:id/comments", handler.CommentIncident)
	}

	return &Server{Router: router}
}
