package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/immoflow/propsync/internal/logger"
)

// Tracker implements MetricsTracker interface using Redis
type Tracker struct {
	client      redis.UniversalClient
	keys        *RedisKeys
	logger      logger.Logger
	collections []string // For GetStats aggregation
}

// NewTracker creates a new metrics tracker
func NewTracker(client redis.UniversalClient, collections []string, log logger.Logger) *Tracker {
	return &Tracker{
		client:      client,
		keys:        NewRedisKeys(KeyPrefixMetrics),
		logger:      log,
		collections: collections,
	}
}

// incrementCounter bumps one counter key and refreshes its TTL atomically.
func (t *Tracker) incrementCounter(ctx context.Context, key, what, collection string) error {
	ttl := MetricsTTLDays * HoursPerDay * time.Hour

	pipe := t.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)

	_, err := pipe.Exec(ctx)
	if err != nil {
		t.logger.Warn("Failed to increment counter",
			logger.String("counter", what),
			logger.String("collection", collection),
			logger.String("redis_key", key),
			logger.Error(err),
		)
		return fmt.Errorf("increment %s counter: %w", what, err)
	}

	return nil
}

// IncrementCreated increments the created counter for a collection
func (t *Tracker) IncrementCreated(ctx context.Context, collection string) error {
	return t.incrementCounter(ctx, t.keys.Created(collection), KeyPrefixCreated, collection)
}

// IncrementUpdated increments the updated counter for a collection
func (t *Tracker) IncrementUpdated(ctx context.Context, collection string) error {
	return t.incrementCounter(ctx, t.keys.Updated(collection), KeyPrefixUpdated, collection)
}

// IncrementSkipped increments the skipped counter for a collection
func (t *Tracker) IncrementSkipped(ctx context.Context, collection string) error {
	return t.incrementCounter(ctx, t.keys.Skipped(collection), KeyPrefixSkipped, collection)
}

// IncrementErrors increments the error counter for a collection
func (t *Tracker) IncrementErrors(ctx context.Context, collection string) error {
	return t.incrementCounter(ctx, t.keys.Errors(collection), KeyPrefixErrors, collection)
}

// AddRecentRun adds a pass summary to the recent runs list
func (t *Tracker) AddRecentRun(ctx context.Context, run SyncRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	key := KeyRecentRuns
	ttl := RecentRunsTTLDays * HoursPerDay * time.Hour

	// Use pipeline for atomic operations: LPUSH, LTRIM, EXPIRE
	pipe := t.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, MaxRecentRuns-1)
	pipe.Expire(ctx, key, ttl)

	_, err = pipe.Exec(ctx)
	if err != nil {
		t.logger.Warn("Failed to add recent run",
			logger.String("run_id", run.RunID),
			logger.Error(err),
		)
		return fmt.Errorf("add recent run: %w", err)
	}

	return nil
}

// GetStats returns aggregated statistics using Redis pipeline for atomic reads
func (t *Tracker) GetStats(ctx context.Context) (*Stats, error) {
	pipe := t.client.Pipeline()

	// Queue all reads in pipeline for atomic operation
	createdCmds := make(map[string]*redis.StringCmd)
	updatedCmds := make(map[string]*redis.StringCmd)
	skippedCmds := make(map[string]*redis.StringCmd)
	errorCmds := make(map[string]*redis.StringCmd)

	for _, collection := range t.collections {
		createdCmds[collection] = pipe.Get(ctx, t.keys.Created(collection))
		updatedCmds[collection] = pipe.Get(ctx, t.keys.Updated(collection))
		skippedCmds[collection] = pipe.Get(ctx, t.keys.Skipped(collection))
		errorCmds[collection] = pipe.Get(ctx, t.keys.Errors(collection))
	}

	lastSyncCmd := pipe.Get(ctx, KeyLastSync)

	_, execErr := pipe.Exec(ctx)
	if execErr != nil && !errors.Is(execErr, redis.Nil) {
		return nil, fmt.Errorf("execute pipeline: %w", execErr)
	}

	stats := &Stats{
		Collections: make([]CollectionStats, 0, len(t.collections)),
	}

	for _, collection := range t.collections {
		collectionStats := CollectionStats{Name: collection}

		// Missing keys default to 0
		if created, err := createdCmds[collection].Int64(); err == nil {
			collectionStats.Created = created
			stats.TotalCreated += created
		}
		if updated, err := updatedCmds[collection].Int64(); err == nil {
			collectionStats.Updated = updated
			stats.TotalUpdated += updated
		}
		if skipped, err := skippedCmds[collection].Int64(); err == nil {
			collectionStats.Skipped = skipped
			stats.TotalSkipped += skipped
		}
		if errCount, err := errorCmds[collection].Int64(); err == nil {
			collectionStats.Errors = errCount
			stats.TotalErrors += errCount
		}

		stats.Collections = append(stats.Collections, collectionStats)
	}

	if lastSyncStr, syncErr := lastSyncCmd.Result(); syncErr == nil && lastSyncStr != "" {
		if lastSync, parseErr := time.Parse(time.RFC3339, lastSyncStr); parseErr == nil {
			stats.LastSync = lastSync
		}
	}

	return stats, nil
}

// GetRecentRuns returns summaries of recent reconciliation passes
func (t *Tracker) GetRecentRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > MaxRecentRuns {
		limit = MaxRecentRuns
	}

	results, err := t.client.LRange(ctx, KeyRecentRuns, 0, int64(limit-1)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []SyncRun{}, nil
		}
		return nil, fmt.Errorf("get recent runs: %w", err)
	}

	runs := make([]SyncRun, 0, len(results))
	for _, result := range results {
		var run SyncRun
		if unmarshalErr := json.Unmarshal([]byte(result), &run); unmarshalErr != nil {
			t.logger.Warn("Failed to unmarshal recent run",
				logger.Error(unmarshalErr),
			)
			continue
		}
		runs = append(runs, run)
	}

	return runs, nil
}

// UpdateLastSync updates the last sync timestamp
func (t *Tracker) UpdateLastSync(ctx context.Context) error {
	now := time.Now().Format(time.RFC3339)

	err := t.client.Set(ctx, KeyLastSync, now, 0).Err() // No expiration for last sync
	if err != nil {
		t.logger.Warn("Failed to update last sync",
			logger.Error(err),
		)
		return fmt.Errorf("update last sync: %w", err)
	}

	return nil
}
