package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/immoflow/propsync/internal/cms"
	"github.com/immoflow/propsync/internal/config"
	"github.com/immoflow/propsync/internal/dicts"
	"github.com/immoflow/propsync/internal/logger"
	"github.com/immoflow/propsync/internal/metrics"
	"github.com/immoflow/propsync/internal/source"
	"github.com/immoflow/propsync/internal/staging"
)

// ErrNotConfigured is returned when the service is constructed without a
// required collaborator.
var ErrNotConfigured = errors.New("pipeline service configuration incomplete")

// RecordReader streams deduplicated source records for one pass.
type RecordReader interface {
	FetchAll(ctx context.Context, targetCount, startOffset int) ([]source.Record, error)
}

// SourceFeed is the slice of the provider client the pass needs beyond the
// paginated reader.
type SourceFeed interface {
	PropertyByID(ctx context.Context, id int) (source.Record, error)
	Agents(ctx context.Context) ([]source.Record, error)
}

// StagingStore is the tabular staging layer between feed and CMS.
type StagingStore interface {
	ListProperties(ctx context.Context) ([]staging.Record, error)
	ListAgents(ctx context.Context) ([]staging.Record, error)
	UpsertProperty(ctx context.Context, externalID int, fields map[string]any) (string, error)
	UpsertAgent(ctx context.Context, personID int, fields map[string]any) (string, error)
	DeleteProperty(ctx context.Context, externalID int) (bool, error)
}

// TargetStore is the collection-based publishing target.
type TargetStore interface {
	CollectionFields(ctx context.Context, collectionID string) (map[string]cms.Field, error)
	ListItems(ctx context.Context, collectionID string) ([]cms.Item, error)
	CreateItem(ctx context.Context, collectionID string, fieldData map[string]any) (cms.Item, error)
	UpdateItem(ctx context.Context, collectionID, itemID string, fieldData map[string]any) error
	DeleteItem(ctx context.Context, collectionID, itemID string) error
	PublishSite(ctx context.Context, collectionIDs []string) error
}

// RunStore persists pass summaries. Optional.
type RunStore interface {
	InsertRun(ctx context.Context, run metrics.SyncRun) error
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// runRetention bounds how far back the run-history table keeps pass rows.
const runRetention = 90 * 24 * time.Hour

// Options wires a Service.
type Options struct {
	Config      config.SyncConfig
	Collections map[string]string // collection kind -> target collection id
	Reader      RecordReader
	Feed        SourceFeed
	Staging     StagingStore
	Target      TargetStore
	Dicts       *dicts.Resolver
	Mapper      *staging.Mapper
	Tracker     metrics.MetricsTracker // optional
	Runs        RunStore               // optional
	Logger      logger.Logger
}

// Service orchestrates one reconciliation pass: stage the feed, stage
// agents, then republish every staged record into the CMS collections in
// dependency order, sweeping stale entities per collection.
type Service struct {
	cfg         config.SyncConfig
	collections map[string]string
	order       []Kind

	reader  RecordReader
	feed    SourceFeed
	staging StagingStore
	target  TargetStore
	dicts   *dicts.Resolver
	mapper  *staging.Mapper
	tracker metrics.MetricsTracker
	runs    RunStore

	limiter *rate.Limiter
	logger  logger.Logger
}

// NewService validates the wiring and precomputes the collection order.
func NewService(opts Options) (*Service, error) {
	if opts.Reader == nil || opts.Feed == nil || opts.Staging == nil ||
		opts.Target == nil || opts.Dicts == nil || opts.Mapper == nil {
		return nil, ErrNotConfigured
	}
	if opts.Collections[KindProperty.CollectionKey()] == "" {
		return nil, fmt.Errorf("%w: property collection id missing", ErrNotConfigured)
	}

	order, err := ProcessingOrder()
	if err != nil {
		return nil, err
	}

	delay := opts.Config.RecordDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	return &Service{
		cfg:         opts.Config,
		collections: opts.Collections,
		order:       order,
		reader:      opts.Reader,
		feed:        opts.Feed,
		staging:     opts.Staging,
		target:      opts.Target,
		dicts:       opts.Dicts,
		mapper:      opts.Mapper,
		tracker:     opts.Tracker,
		runs:        opts.Runs,
		limiter:     rate.NewLimiter(rate.Every(delay), 1),
		logger:      opts.Logger,
	}, nil
}

// Run executes a pass immediately and then on every interval tick until the
// context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sync loop stopping", logger.Error(ctx.Err()))
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	run, err := s.RunPass(ctx)
	if err != nil {
		s.logger.Error("Pass failed", logger.Error(err))
		return
	}
	s.logger.Info("Pass complete",
		logger.String("run_id", run.RunID),
		logger.Int("created", run.Created),
		logger.Int("updated", run.Updated),
		logger.Int("skipped", run.Skipped),
		logger.Int("errors", run.Errors),
		logger.Int("removed", run.Removed),
		logger.Int64("duration_ms", run.DurationMS),
	)
}

// RunPass executes one full reconciliation pass. Per-record failures are
// counted, not returned; only failures that prevent the pass from running at
// all (feed unreadable, staging unlistable) surface as errors.
func (s *Service) RunPass(ctx context.Context) (metrics.SyncRun, error) {
	state := NewRunState()
	s.logger.Info("Pass starting", logger.String("run_id", state.ID))

	records, err := s.reader.FetchAll(ctx, s.cfg.TargetCount, s.cfg.StartOffset)
	if err != nil {
		return metrics.SyncRun{}, fmt.Errorf("read source feed: %w", err)
	}
	records = source.Prioritize(records, s.cfg.PriorityIDs)

	s.stagePhase(ctx, records, state)
	s.agentPhase(ctx, state)

	if err := s.publishPhase(ctx, state); err != nil {
		return metrics.SyncRun{}, err
	}

	s.publishSite(ctx, state)

	run := s.finishRun(ctx, state)
	return run, nil
}

// SyncOne stages a single source record by id and republishes the full
// staging store, so references and sweeps stay consistent.
func (s *Service) SyncOne(ctx context.Context, sourceID int) (metrics.SyncRun, error) {
	state := NewRunState()
	s.logger.Info("Single-record pass starting",
		logger.String("run_id", state.ID),
		logger.Int("source_id", sourceID),
	)

	rec, err := s.feed.PropertyByID(ctx, sourceID)
	if err != nil {
		return metrics.SyncRun{}, fmt.Errorf("fetch record %d: %w", sourceID, err)
	}

	s.stageRecord(ctx, rec, state)
	s.agentPhase(ctx, state)

	if err := s.publishPhase(ctx, state); err != nil {
		return metrics.SyncRun{}, err
	}

	s.publishSite(ctx, state)
	return s.finishRun(ctx, state), nil
}

// stagePhase mirrors the feed into the staging store, one record at a time
// with a rate-limit suspension between records. Ineligible records are
// deleted from staging, not skipped. Each record is isolated; one failure
// never stops the phase.
func (s *Service) stagePhase(ctx context.Context, records []source.Record, state *RunState) {
	for _, rec := range records {
		if err := s.limiter.Wait(ctx); err != nil {
			s.logger.Warn("Stage phase interrupted", logger.Error(err))
			return
		}
		s.stageRecord(ctx, rec, state)
	}
}

func (s *Service) stageRecord(ctx context.Context, rec source.Record, state *RunState) {
	defer func() {
		if r := recover(); r != nil {
			state.CountErrored(KindProperty)
			s.observeError(ctx, KindProperty)
			s.logger.Error("Record staging panicked",
				logger.Any("panic", r),
			)
		}
	}()

	id, ok := rec.NaturalID()
	if !ok {
		state.CountSkipped(KindProperty)
		s.observeSkipped(ctx, KindProperty)
		return
	}

	// List pages return summaries and may omit the publish flags entirely,
	// so eligibility is judged on the full record, never on the summary. A
	// failed detail fetch degrades to the summary for staging.
	detail, fetchErr := s.feed.PropertyByID(ctx, id)
	if fetchErr != nil {
		s.logger.Warn("Detail fetch failed, using summary record",
			logger.Int("external_id", id),
			logger.Error(fetchErr),
		)
		detail = rec
	}

	if !detail.Eligible() {
		if fetchErr != nil {
			// Without the full record, missing flags are indistinguishable
			// from flipped flags. Count the failure and keep the staged row.
			state.CountErrored(KindProperty)
			s.observeError(ctx, KindProperty)
			return
		}
		if _, err := s.staging.DeleteProperty(ctx, id); err != nil {
			state.CountErrored(KindProperty)
			s.observeError(ctx, KindProperty)
			s.logger.Warn("Staging delete failed",
				logger.Int("external_id", id),
				logger.Error(err),
			)
		}
		return
	}

	_, fields, err := s.mapper.MapProperty(ctx, detail)
	if err != nil {
		state.CountErrored(KindProperty)
		s.observeError(ctx, KindProperty)
		s.logger.Warn("Record mapping failed",
			logger.Int("external_id", id),
			logger.Error(err),
		)
		return
	}

	if _, err := s.staging.UpsertProperty(ctx, id, fields); err != nil {
		state.CountErrored(KindProperty)
		s.observeError(ctx, KindProperty)
		s.logger.Warn("Staging upsert failed",
			logger.Int("external_id", id),
			logger.Error(err),
		)
	}
}

// agentPhase mirrors the provider's person list into the staging store.
func (s *Service) agentPhase(ctx context.Context, state *RunState) {
	agents, err := s.feed.Agents(ctx)
	if err != nil {
		state.CountErrored(KindAgent)
		s.observeError(ctx, KindAgent)
		s.logger.Warn("Agent list fetch failed", logger.Error(err))
		return
	}

	for _, rec := range agents {
		personID, fields, err := s.mapper.MapAgent(rec)
		if err != nil {
			state.CountSkipped(KindAgent)
			s.observeSkipped(ctx, KindAgent)
			continue
		}
		if _, err := s.staging.UpsertAgent(ctx, personID, fields); err != nil {
			state.CountErrored(KindAgent)
			s.observeError(ctx, KindAgent)
			s.logger.Warn("Agent staging upsert failed",
				logger.Int("person_id", personID),
				logger.Error(err),
			)
		}
	}
}

// publishSite triggers the best-effort site publish for every collection
// that received a write this pass.
func (s *Service) publishSite(ctx context.Context, state *RunState) {
	touched := state.Touched()
	if len(touched) == 0 {
		return
	}

	ids := make([]string, 0, len(touched))
	for _, kind := range touched {
		if id := s.collections[kind.CollectionKey()]; id != "" {
			ids = append(ids, id)
		}
	}

	if err := s.target.PublishSite(ctx, ids); err != nil {
		s.logger.Warn("Site publish failed", logger.Error(err))
		return
	}
	s.logger.Info("Site publish triggered", logger.Int("collections", len(ids)))
}

func (s *Service) finishRun(ctx context.Context, state *RunState) metrics.SyncRun {
	totals := state.Totals()
	run := metrics.SyncRun{
		RunID:      state.ID,
		StartedAt:  state.StartedAt,
		DurationMS: time.Since(state.StartedAt).Milliseconds(),
		Created:    totals.Created,
		Updated:    totals.Updated,
		Skipped:    totals.Skipped,
		Errors:     totals.Errored,
		Removed:    totals.Removed,
	}

	if s.tracker != nil {
		_ = s.tracker.UpdateLastSync(ctx)
		_ = s.tracker.AddRecentRun(ctx, run)
	}
	if s.runs != nil {
		if err := s.runs.InsertRun(ctx, run); err != nil {
			s.logger.Warn("Run history insert failed", logger.Error(err))
		}
		if pruned, err := s.runs.DeleteRunsBefore(ctx, time.Now().Add(-runRetention)); err != nil {
			s.logger.Warn("Run history pruning failed", logger.Error(err))
		} else if pruned > 0 {
			s.logger.Debug("Pruned old run history rows", logger.Int64("rows", pruned))
		}
	}
	return run
}
