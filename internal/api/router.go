// Package api assembles the HTTP surface: routing, middleware, and handler
// wiring.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sitesafe/ptwcore/internal/api/handlers"
	"github.com/sitesafe/ptwcore/internal/api/middleware"
	"github.com/sitesafe/ptwcore/internal/auth"
	"github.com/sitesafe/ptwcore/internal/config"
	"github.com/sitesafe/ptwcore/internal/offline"
	"github.com/sitesafe/ptwcore/internal/queue"
	"github.com/sitesafe/ptwcore/internal/scope"
	"github.com/sitesafe/ptwcore/internal/service"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"
)

// Deps carries everything the router wires together.
type Deps struct {
	DB            *gorm.DB
	Authenticator *auth.Authenticator
	Resolver      *scope.Resolver
	Service       *service.PermitService
	Reconciler    *offline.Reconciler
	Notifier      queue.Notifier
	EncKey        []byte
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	// Public routes
	public := router.Group("/api/v1")
	{
		public.GET("/health", handlers.HealthCheck)
		public.POST("/auth/login", handlers.Login(deps.Authenticator))
	}

	permitHandler := handlers.NewPermitHandler(deps.Service)
	typeHandler := handlers.NewPermitTypeHandler(deps.Service.Registry())
	syncHandler := handlers.NewSyncHandler(deps.Reconciler)
	adminHandler := handlers.NewAdminHandler(deps.DB, deps.EncKey)

	// Protected routes (require authentication and a resolved scope)
	protected := router.Group("/api/v1/ptw")
	protected.Use(deps.Authenticator.Middleware())
	protected.Use(middleware.ResolveScope(deps.Resolver))
	protected.Use(nudgeMiddleware(deps.Notifier))
	{
		protected.GET("/permit-types", typeHandler.List)
		protected.GET("/permit-types/:id", typeHandler.Get)
		protected.GET("/permit-types/:id/template", typeHandler.ResolveTemplate)

		protected.POST("/permits", permitHandler.Create)
		protected.GET("/permits", permitHandler.List)
		protected.GET("/permits/:id", permitHandler.Get)
		protected.POST("/permits/:id/transition", permitHandler.Transition)
		protected.GET("/permits/:id/audit", permitHandler.AuditTrail)
		protected.GET("/kpis", permitHandler.KPIs)

		protected.POST("/permits/:id/gas-readings", permitHandler.AddGasReading)
		protected.POST("/permits/:id/workers", permitHandler.AttachWorker)
		protected.DELETE("/permits/:id/workers/:worker_id", permitHandler.DetachWorker)
		protected.POST("/permits/:id/hazards", permitHandler.AddHazard)
		protected.POST("/permits/:id/toolbox-talks", permitHandler.RecordToolboxTalk)

		protected.GET("/permits/:id/isolation-points", permitHandler.IsolationStatus)
		protected.POST("/permits/:id/isolation-points", permitHandler.AssignIsolationPoint)
		protected.POST("/permits/:id/isolation-points/:point_id/transition", permitHandler.TransitionIsolationPoint)

		protected.POST("/permits/:id/extensions", permitHandler.RequestExtension)
		protected.POST("/permits/:id/extensions/:extension_id/decision", permitHandler.DecideExtension)

		protected.GET("/permits/:id/closeout", permitHandler.GetCloseout)
		protected.PATCH("/permits/:id/closeout", permitHandler.PatchCloseout)

		protected.POST("/sync", syncHandler.Apply)

		admin := protected.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			admin.GET("/webhooks", adminHandler.ListWebhookEndpoints)
			admin.POST("/webhooks", adminHandler.CreateWebhookEndpoint)
			admin.PUT("/webhooks/:id", adminHandler.UpdateWebhookEndpoint)
			admin.DELETE("/webhooks/:id", adminHandler.DeleteWebhookEndpoint)
			admin.GET("/outbox", adminHandler.ListOutboxEvents)
			admin.POST("/outbox/:id/requeue", adminHandler.RequeueOutboxEvent)
		}
	}

	// Metrics and Swagger documentation
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	slog.Info("API router initialized", "mode", cfg.Server.Mode)
	return router
}

// nudgeMiddleware wakes the outbox worker after any successful mutation so
// webhooks go out without waiting for the next poll.
func nudgeMiddleware(notifier queue.Notifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if notifier == nil {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}
		if c.Writer.Status() >= 200 && c.Writer.Status() < 300 {
			if err := notifier.Nudge(c.Request.Context()); err != nil {
				slog.Debug("Outbox nudge failed", "error", err)
			}
		}
	}
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		slog.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"ip", c.ClientIP(),
		)
	}
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
