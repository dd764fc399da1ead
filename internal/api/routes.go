package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jroosing/hydralb/internal/api/handlers"
	"github.com/jroosing/hydralb/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/jroosing/hydralb/internal/api/docs" // swagger docs
)

// RegisterRoutes mounts the API under /api/v1, Prometheus metrics at
// /metrics and Swagger UI at /swagger. A non-empty apiKey protects everything
// except /api/v1/health and the Swagger UI.
func RegisterRoutes(r *gin.Engine, h *handlers.Handler, gatherer prometheus.Gatherer, apiKey string) {
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	auth := middleware.RequireAPIKey(apiKey)
	r.GET("/metrics", auth, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	api.GET("/health", h.Health)

	api.Use(auth)
	api.GET("/stats", h.Stats)
	api.GET("/config", h.GetConfig)

	api.GET("/backends", h.ListBackends)
	api.GET("/backends/:name", h.GetBackend)
	api.PUT("/backends/:name/mode", h.SetBackendMode)

	api.GET("/pools", h.ListPools)
	api.POST("/cache/expunge", h.ExpungeCache)

	api.GET("/rules", h.ListRules)
}
