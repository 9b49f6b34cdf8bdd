package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pilot/api/handler"
	"github.com/use-agent/pilot/api/middleware"
	"github.com/use-agent/pilot/config"
	"github.com/use-agent/pilot/engine"
)

// NewRouter creates a configured Gin engine serving the introspection
// surface: health, target listing, and run-report lookup.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(d *engine.Driver, runs *handler.RunStore, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	v1.GET("/healthz", handler.Health(startTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	protected.GET("/targets", handler.Targets(d))
	protected.POST("/runs", handler.RunSteps(d, runs))
	protected.GET("/runs/:id", handler.GetRun(runs))

	return r
}
