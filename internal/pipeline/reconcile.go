package pipeline

import (
	"context"

	"github.com/immoflow/propsync/internal/cms"
	"github.com/immoflow/propsync/internal/logger"
)

// reconcile sweeps one collection after its upsert phase: every existing
// item whose slug was neither written nor attempted this pass is deleted.
// This is how a source record that turned ineligible disappears from every
// dependent collection. Failed writes are exempt; failure is not absence.
// A cancelled pass skips the sweep entirely rather than running it halfway.
func (s *Service) reconcile(ctx context.Context, kind Kind, items []cms.Item, state *RunState) {
	if ctx.Err() != nil {
		s.logger.Warn("Skipping stale sweep, pass cancelled",
			logger.String("collection", string(kind)),
		)
		return
	}

	collectionID := s.collections[kind.CollectionKey()]

	for _, item := range items {
		slug := item.Slug()
		if slug == "" {
			// No natural key to judge by; leave it for a human.
			s.logger.Warn("Item without slug left in place",
				logger.String("collection", string(kind)),
				logger.String("item_id", item.ID),
			)
			continue
		}
		if state.HasSeen(kind, slug) || state.HasFailed(kind, slug) {
			continue
		}

		if err := s.target.DeleteItem(ctx, collectionID, item.ID); err != nil {
			state.CountErrored(kind)
			s.observeError(ctx, kind)
			s.logger.Warn("Stale item delete failed",
				logger.String("collection", string(kind)),
				logger.String("slug", slug),
				logger.Error(err),
			)
			continue
		}

		state.CountRemoved(kind)
		s.logger.Info("Removed stale item",
			logger.String("collection", string(kind)),
			logger.String("slug", slug),
			logger.String("item_id", item.ID),
		)
	}
}
