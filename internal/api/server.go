package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// NewServer creates the read-only dashboard HTTP server with all routes
// configured.
func NewServer(handler *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
			)
		},
	}))

	r.Use(gin.Recovery())

	// The dashboard is served from a different origin during development.
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler) {
	r.GET("/health", handler.HealthCheck)

	api := r.Group("/api/v1")
	{
		api.GET("/models", handler.ListModels)
		api.GET("/listings", handler.GetListings)
		api.GET("/listings/:id/history", handler.GetListingHistory)
		api.GET("/history", handler.GetModelHistory)
		api.GET("/stats", handler.GetModelStats)
		api.GET("/overview", handler.GetOverview)
		api.GET("/top", handler.GetTopCheapest)
		api.GET("/changes", handler.GetRecentChanges)
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":     "carscout",
			"description": "AutoScout24 Luxembourg listing tracker, read-only analytics API",
			"endpoints": map[string]string{
				"health":   "/health",
				"models":   "/api/v1/models",
				"listings": "/api/v1/listings?make=<make>&model=<model>",
				"history":  "/api/v1/history?make=<make>&model=<model>",
				"stats":    "/api/v1/stats?make=<make>&model=<model>",
				"overview": "/api/v1/overview",
				"top":      "/api/v1/top?limit=<n>",
				"changes":  "/api/v1/changes?limit=<n>",
			},
		})
	})

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}
