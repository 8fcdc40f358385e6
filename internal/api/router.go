package api

import (
	"github.com/dandriscoll/devlogs/internal/api/handler"
	"github.com/dandriscoll/devlogs/internal/api/middleware"
	"github.com/dandriscoll/devlogs/internal/config"
	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/dandriscoll/devlogs/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services are the dependencies the routes are built from.
type Services struct {
	Logs   *service.LogService
	Rollup *service.RollupService
	// Runs records rollups triggered over HTTP; nil skips recording.
	Runs  service.RunStore
	Store handler.StoreHealth
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(svc *Services, cfg *config.ServerConfig, log *logger.Logger) *gin.Engine {
	mode := ""
	var cors config.CORSConfig
	if cfg != nil {
		mode = cfg.Mode
		cors = cfg.CORS
	}
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cors))

	healthHandler := handler.NewHealthHandler(svc.Store, svc.Logs.Index())
	logsHandler := handler.NewLogsHandler(svc.Logs)
	rollupHandler := handler.NewRollupHandler(svc.Rollup, svc.Runs)

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/search", logsHandler.Search)
		v1.GET("/tail", logsHandler.Tail)
		v1.GET("/errors", logsHandler.LastErrors)

		v1.GET("/operations", logsHandler.ListOperations)
		v1.GET("/operations/:id", logsHandler.GetOperation)

		v1.POST("/rollup", rollupHandler.Rollup)
	}

	return r
}
