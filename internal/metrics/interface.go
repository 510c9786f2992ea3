package metrics

import (
	"context"
)

// MetricsTracker defines the interface for tracking sync metrics.
// This interface allows for easy testing and potential future implementations.
type MetricsTracker interface {
	// IncrementCreated increments the created counter for a collection
	IncrementCreated(ctx context.Context, collection string) error
	// IncrementUpdated increments the updated counter for a collection
	IncrementUpdated(ctx context.Context, collection string) error
	// IncrementSkipped increments the skipped counter for a collection
	IncrementSkipped(ctx context.Context, collection string) error
	// IncrementErrors increments the error counter for a collection
	IncrementErrors(ctx context.Context, collection string) error
	// AddRecentRun adds a pass summary to the recent runs list
	AddRecentRun(ctx context.Context, run SyncRun) error
	// GetStats returns aggregated statistics
	GetStats(ctx context.Context) (*Stats, error)
	// GetRecentRuns returns summaries of recent reconciliation passes
	GetRecentRuns(ctx context.Context, limit int) ([]SyncRun, error)
	// UpdateLastSync updates the last sync timestamp
	UpdateLastSync(ctx context.Context) error
}
