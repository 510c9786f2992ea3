package metrics

import "time"

// SyncRun summarizes one completed reconciliation pass
type SyncRun struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
	Removed    int       `json:"removed"`
}

// Stats represents aggregated statistics
type Stats struct {
	TotalCreated int64             `json:"total_created"`
	TotalUpdated int64             `json:"total_updated"`
	TotalSkipped int64             `json:"total_skipped"`
	TotalErrors  int64             `json:"total_errors"`
	Collections  []CollectionStats `json:"collections"`
	LastSync     time.Time         `json:"last_sync"`
}

// CollectionStats represents statistics for a single target collection
type CollectionStats struct {
	Name    string `json:"name"`
	Created int64  `json:"created"`
	Updated int64  `json:"updated"`
	Skipped int64  `json:"skipped"`
	Errors  int64  `json:"errors"`
}
