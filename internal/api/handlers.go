package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/immoflow/propsync/internal/database"
	"github.com/immoflow/propsync/internal/logger"
)

// healthCheck reports the service status. A failing dependency degrades the
// status but never fails the endpoint.
func (r *Router) healthCheck(c *gin.Context) {
	health := gin.H{
		"status":  healthStatusHealthy,
		"service": "propsync",
		"version": serviceVersion,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	redisConnected := true
	if err := r.redisClient.Ping(ctx).Err(); err != nil {
		redisConnected = false
		health["status"] = healthStatusDegraded
	}
	health["redis"] = gin.H{"connected": redisConnected}

	if r.runs != nil {
		dbConnected := true
		if _, err := r.runs.ListRuns(ctx, 1, 0); err != nil {
			dbConnected = false
			health["status"] = healthStatusDegraded
		}
		health["database"] = gin.H{"connected": dbConnected}
	}

	c.JSON(http.StatusOK, health)
}

// getStats returns the aggregated per-collection counters from Redis.
func (r *Router) getStats(c *gin.Context) {
	stats, err := r.tracker.GetStats(c.Request.Context())
	if err != nil {
		r.logger.Error("Stats read failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// getRecentSyncs returns summaries of the most recent passes from Redis.
func (r *Router) getRecentSyncs(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), defaultRecentLimit, maxRecentLimit)

	runs, err := r.tracker.GetRecentRuns(c.Request.Context(), limit)
	if err != nil {
		r.logger.Error("Recent runs read failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read recent runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// listRuns returns the durable run history. Returns 404 when the history
// database is not configured.
func (r *Router) listRuns(c *gin.Context) {
	if r.runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history not configured"})
		return
	}

	limit := parseLimit(c.Query("limit"), defaultRecentLimit, maxRecentLimit)
	offset, _ := strconv.Atoi(c.Query("offset"))

	runs, err := r.runs.ListRuns(c.Request.Context(), limit, offset)
	if err != nil {
		r.logger.Error("Run history read failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// getRun returns one persisted pass summary by run id.
func (r *Router) getRun(c *gin.Context) {
	if r.runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history not configured"})
		return
	}

	run, err := r.runs.GetRunByID(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		r.logger.Error("Run read failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// getRunTotals aggregates counters across the run history. An optional
// since=<hours> query bounds the window.
func (r *Router) getRunTotals(c *gin.Context) {
	if r.runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history not configured"})
		return
	}

	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a positive number of hours"})
			return
		}
		cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
		since = &cutoff
	}

	totals, err := r.runs.GetRunTotals(c.Request.Context(), since)
	if err != nil {
		r.logger.Error("Run totals read failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run totals"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"created": totals.Created,
		"updated": totals.Updated,
		"skipped": totals.Skipped,
		"errors":  totals.Errors,
		"removed": totals.Removed,
	})
}

func parseLimit(raw string, fallback, ceiling int) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}
