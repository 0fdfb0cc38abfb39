package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/safetrip/internal/api/handler"
	"github.com/timmy/safetrip/internal/api/middleware"
	"github.com/timmy/safetrip/internal/catalog"
	"github.com/timmy/safetrip/internal/config"
	"github.com/timmy/safetrip/internal/logger"
)

// Deps are the services the HTTP layer is built on.
type Deps struct {
	Refresh      handler.RefreshController
	Catalog      *catalog.Catalog
	Countries    handler.CountryReader
	HealthChecks map[string]handler.HealthCheck

	// Metrics is served on MetricsPath when non-nil.
	Metrics     http.Handler
	MetricsPath string

	Logger *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps *Deps, cfg config.ServerConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	r := gin.New()
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(deps.HealthChecks)
	refreshHandler := handler.NewRefreshHandler(deps.Refresh)
	countryHandler := handler.NewCountryHandler(deps.Catalog, deps.Countries)

	r.GET("/health", healthHandler.Health)
	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(deps.Metrics))
	}

	// Bulk refresh
	r.POST("/refresh-advisories", refreshHandler.StartRefresh)
	r.GET("/refresh-status/:jobId", refreshHandler.GetStatus)
	r.POST("/refresh-cancel/:jobId", refreshHandler.CancelRefresh)
	r.GET("/refresh-history", refreshHandler.GetHistory)

	// Query layer
	countries := r.Group("/countries")
	{
		countries.GET("", countryHandler.ListCountries)
		countries.GET("/validate", countryHandler.ValidateCountry)
		countries.GET("/:name", countryHandler.GetCountry)
	}

	return r
}
