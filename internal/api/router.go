package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/immoflow/propsync/internal/config"
	"github.com/immoflow/propsync/internal/database"
	"github.com/immoflow/propsync/internal/logger"
	"github.com/immoflow/propsync/internal/metrics"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
	healthCheckTimeout   = 2 * time.Second
	serviceVersion       = "1.0.0"

	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// RunLister is the slice of the run-history repository the API reads.
type RunLister interface {
	ListRuns(ctx context.Context, limit, offset int) ([]database.Run, error)
	GetRunByID(ctx context.Context, runID string) (*database.Run, error)
	GetRunTotals(ctx context.Context, since *time.Time) (database.Run, error)
}

// Router holds the API dependencies
type Router struct {
	tracker     metrics.MetricsTracker
	runs        RunLister // nil when postgres is disabled
	redisClient redis.UniversalClient
	cfg         *config.Config
	logger      logger.Logger
}

// NewRouter creates a new API router
func NewRouter(tracker metrics.MetricsTracker, runs RunLister, redisClient redis.UniversalClient, cfg *config.Config, log logger.Logger) *Router {
	return &Router{
		tracker:     tracker,
		runs:        runs,
		redisClient: redisClient,
		cfg:         cfg,
		logger:      log,
	}
}

// SetupRoutes builds the gin engine with middleware and all routes.
func (r *Router) SetupRoutes() *gin.Engine {
	if !r.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(corsMiddleware(r.cfg.Server.CORSOrigins))
	router.Use(requestMetricsMiddleware())

	router.GET("/health", r.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.GET("/stats", r.getStats)
	v1.GET("/syncs/recent", r.getRecentSyncs)
	v1.GET("/runs", r.listRuns)
	// More specific route before :run_id
	v1.GET("/runs/totals", r.getRunTotals)
	v1.GET("/runs/:run_id", r.getRun)

	return router
}
