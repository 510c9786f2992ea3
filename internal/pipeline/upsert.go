package pipeline

import (
	"context"

	"github.com/immoflow/propsync/internal/logger"
)

// upsert writes one payload into a collection: update when the slug (exact
// or suffix-stripped) resolves to an existing item, create otherwise. Only a
// successful write marks the key as seen; a failure marks it failed so the
// stale sweep leaves the existing item alone. Returns the target item id.
func (s *Service) upsert(ctx context.Context, kind Kind, ix *Index, slug string, payload map[string]any, state *RunState) (string, bool) {
	collectionID := s.collections[kind.CollectionKey()]

	if itemID, found := ix.Lookup(slug); found {
		// The natural key is immutable after creation; never patch it.
		update := make(map[string]any, len(payload))
		for field, value := range payload {
			if field == "slug" {
				continue
			}
			update[field] = value
		}

		if err := s.target.UpdateItem(ctx, collectionID, itemID, update); err != nil {
			state.CountErrored(kind)
			state.MarkFailed(kind, slug)
			s.observeError(ctx, kind)
			s.logger.Warn("Item update failed",
				logger.String("collection", string(kind)),
				logger.String("slug", slug),
				logger.Error(err),
			)
			return "", false
		}

		state.CountUpdated(kind)
		state.MarkSeen(kind, slug)
		s.observeUpdated(ctx, kind)
		return itemID, true
	}

	item, err := s.target.CreateItem(ctx, collectionID, payload)
	if err != nil {
		state.CountErrored(kind)
		state.MarkFailed(kind, slug)
		s.observeError(ctx, kind)
		s.logger.Warn("Item create failed",
			logger.String("collection", string(kind)),
			logger.String("slug", slug),
			logger.Error(err),
		)
		return "", false
	}

	ix.Add(slug, item.ID)
	state.CountCreated(kind)
	state.MarkSeen(kind, slug)
	s.observeCreated(ctx, kind)
	s.logger.Debug("Item created",
		logger.String("collection", string(kind)),
		logger.String("slug", slug),
		logger.String("item_id", item.ID),
	)
	return item.ID, true
}

func (s *Service) observeCreated(ctx context.Context, kind Kind) {
	if s.tracker != nil {
		_ = s.tracker.IncrementCreated(ctx, string(kind))
	}
}

func (s *Service) observeUpdated(ctx context.Context, kind Kind) {
	if s.tracker != nil {
		_ = s.tracker.IncrementUpdated(ctx, string(kind))
	}
}

func (s *Service) observeSkipped(ctx context.Context, kind Kind) {
	if s.tracker != nil {
		_ = s.tracker.IncrementSkipped(ctx, string(kind))
	}
}

func (s *Service) observeError(ctx context.Context, kind Kind) {
	if s.tracker != nil {
		_ = s.tracker.IncrementErrors(ctx, string(kind))
	}
}
