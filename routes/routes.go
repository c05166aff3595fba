// Package routes wires the HTTP surface onto a gin engine.
package routes

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"clicktrail/api/experiment"
	"clicktrail/api/funnel"
	"clicktrail/api/handlers"
	"clicktrail/api/listener"
	"clicktrail/api/middleware"
	"clicktrail/api/revenue"
	"clicktrail/api/tracker"
)

// Deps are the services the routes call into.
type Deps struct {
	Tracker     *tracker.Tracker
	Tabs        *listener.Manager
	Experiments *experiment.Service
	Funnels     *funnel.Service
	Revenue     *revenue.Service

	// Metrics serves /metrics; nil leaves the route out.
	Metrics http.Handler

	JWTSecret []byte
	APIKey    string
	FEOrigin  string
	Logger    *slog.Logger
}

func SetupRoutes(router *gin.Engine, d Deps) {
	router.Use(middleware.CORS(d.FEOrigin))

	router.GET("/health", handlers.HealthCheck(d.Tracker, d.Tabs))
	if d.Metrics != nil {
		router.GET("/metrics", gin.WrapH(d.Metrics))
	}

	analyticsHandlers := handlers.NewAnalyticsHandlers(d.Tracker, d.Logger)
	tabHandlers := handlers.NewTabHandlers(d.Tabs, d.Logger)
	experimentHandlers := handlers.NewExperimentHandlers(d.Experiments)
	funnelHandlers := handlers.NewFunnelHandlers(d.Funnels)
	revenueHandlers := handlers.NewRevenueHandlers(d.Revenue)
	profileHandlers := handlers.NewProfileHandlers(d.Tracker)

	api := router.Group("/api")
	{
		// Beacons come from logged-out pages too.
		tabs := api.Group("/tabs")
		tabs.Use(middleware.AuthOptional(d.JWTSecret, d.Logger))
		{
			tabs.POST("/:tabId/events", tabHandlers.PostEvents)
			tabs.DELETE("/:tabId", tabHandlers.Unload)
		}

		protected := api.Group("/")
		protected.Use(middleware.AuthRequired(d.JWTSecret, d.APIKey, d.Logger))
		{
			protected.POST("/track", analyticsHandlers.TrackEvent)
			protected.PUT("/tracking", middleware.ServiceOnly(d.Logger), analyticsHandlers.SetTracking)
			protected.POST("/super-properties", analyticsHandlers.RegisterSuperProperties)
			protected.DELETE("/super-properties/:name", analyticsHandlers.UnregisterSuperProperty)

			protected.GET("/experiments/:name/variant", experimentHandlers.GetVariant)
			protected.POST("/experiments/:name/conversions", experimentHandlers.TrackConversion)
			protected.GET("/flags/:name", experimentHandlers.GetFlag)

			funnels := protected.Group("/funnels/:name")
			{
				funnels.POST("/steps", funnelHandlers.TrackStep)
				funnels.GET("/progress", funnelHandlers.GetProgress)
				funnels.DELETE("/progress", funnelHandlers.Reset)
				funnels.POST("/complete", funnelHandlers.Complete)
				funnels.POST("/dropoff", funnelHandlers.Dropoff)
			}

			revenueGroup := protected.Group("/revenue")
			{
				revenueGroup.POST("/purchases", revenueHandlers.Purchase)
				revenueGroup.POST("/subscriptions", revenueHandlers.Subscription)
				revenueGroup.POST("/refunds", revenueHandlers.Refund)
			}

			recording := protected.Group("/recording")
			{
				recording.POST("/start", profileHandlers.StartRecording)
				recording.POST("/stop", profileHandlers.StopRecording)
				recording.POST("/conditional", profileHandlers.ConditionalRecording)
			}

			protected.GET("/profile", profileHandlers.GetProfile)
			protected.PUT("/profile", profileHandlers.SetProfile)
			protected.POST("/profile/increment", profileHandlers.Increment)
		}
	}
}
