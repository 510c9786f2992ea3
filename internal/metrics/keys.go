package metrics

import "fmt"

const (
	// KeyPrefixMetrics is the prefix for all metrics keys
	KeyPrefixMetrics = "propsync:metrics"
	// KeyPrefixCreated is the prefix for created counters
	KeyPrefixCreated = "created"
	// KeyPrefixUpdated is the prefix for updated counters
	KeyPrefixUpdated = "updated"
	// KeyPrefixSkipped is the prefix for skipped counters
	KeyPrefixSkipped = "skipped"
	// KeyPrefixErrors is the prefix for error counters
	KeyPrefixErrors = "errors"
	// KeyRecentRuns is the Redis key for the recent runs list
	KeyRecentRuns = "propsync:metrics:recent:runs"
	// KeyLastSync is the Redis key for the last sync timestamp
	KeyLastSync = "propsync:metrics:last_sync"
	// MaxRecentRuns is the maximum number of recent runs to keep
	MaxRecentRuns = 50
	// MetricsTTLDays is the TTL in days for metrics counters
	MetricsTTLDays = 30
	// RecentRunsTTLDays is the TTL in days for the recent runs list
	RecentRunsTTLDays = 7
	// HoursPerDay converts day counts into hour durations
	HoursPerDay = 24
)

// RedisKeys provides methods to build Redis keys consistently
type RedisKeys struct {
	prefix string
}

// NewRedisKeys creates a new RedisKeys instance
func NewRedisKeys(prefix string) *RedisKeys {
	return &RedisKeys{prefix: prefix}
}

// Created returns the Redis key for the created counter of a collection
func (k *RedisKeys) Created(collection string) string {
	return fmt.Sprintf("%s:%s:%s", k.prefix, KeyPrefixCreated, collection)
}

// Updated returns the Redis key for the updated counter of a collection
func (k *RedisKeys) Updated(collection string) string {
	return fmt.Sprintf("%s:%s:%s", k.prefix, KeyPrefixUpdated, collection)
}

// Skipped returns the Redis key for the skipped counter of a collection
func (k *RedisKeys) Skipped(collection string) string {
	return fmt.Sprintf("%s:%s:%s", k.prefix, KeyPrefixSkipped, collection)
}

// Errors returns the Redis key for the error counter of a collection
func (k *RedisKeys) Errors(collection string) string {
	return fmt.Sprintf("%s:%s:%s", k.prefix, KeyPrefixErrors, collection)
}
