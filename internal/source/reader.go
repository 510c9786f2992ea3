package source

import (
	"context"
	"fmt"

	"github.com/immoflow/propsync/internal/logger"
)

// PageFetcher is the one capability the reader needs from the client.
type PageFetcher interface {
	SearchPage(ctx context.Context, page, pageSize int) (Page, error)
}

// Reader drains the paginated listings feed into a deduplicated record list.
type Reader struct {
	fetcher  PageFetcher
	pageSize int
	maxPages int
	logger   logger.Logger
}

// NewReader builds a reader. maxPages is the hard iteration ceiling guarding
// against a misbehaving upstream that never terminates.
func NewReader(fetcher PageFetcher, pageSize, maxPages int, log logger.Logger) *Reader {
	return &Reader{
		fetcher:  fetcher,
		pageSize: pageSize,
		maxPages: maxPages,
		logger:   log,
	}
}

// FetchAll drains the feed starting at startOffset and returns at most
// targetCount records (everything collected when targetCount <= 0). Each
// natural id appears exactly once regardless of upstream page overlap.
//
// Termination is checked in a fixed order after each page: empty page, no
// new unique ids, short page, declared total reached, iteration ceiling.
// A failed page fetch aborts immediately; offsets past a failure are
// unreliable.
func (r *Reader) FetchAll(ctx context.Context, targetCount, startOffset int) ([]Record, error) {
	seen := make(map[int]struct{})
	var records []Record

	startPage := startOffset / r.pageSize
	skip := startOffset % r.pageSize
	declaredTotal := -1
	dropped := 0
	duplicates := 0
	stopReason := "iteration ceiling"

	for iteration := 0; iteration < r.maxPages; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch aborted: %w", err)
		}

		pageIndex := startPage + iteration
		page, err := r.fetcher.SearchPage(ctx, pageIndex, r.pageSize)
		if err != nil {
			return nil, err
		}
		if page.Total >= 0 {
			declaredTotal = page.Total
		}

		items := page.Items
		if iteration == 0 && skip > 0 {
			if skip >= len(items) {
				items = nil
			} else {
				items = items[skip:]
			}
		}

		added := 0
		for _, rec := range items {
			id, ok := rec.NaturalID()
			if !ok {
				dropped++
				continue
			}
			if _, dup := seen[id]; dup {
				duplicates++
				continue
			}
			seen[id] = struct{}{}
			records = append(records, rec)
			added++
		}

		r.logger.Debug("Fetched feed page",
			logger.Int("page", pageIndex),
			logger.Int("page_items", len(page.Items)),
			logger.Int("new_records", added),
			logger.Int("accumulated", len(records)),
		)

		if len(page.Items) == 0 {
			stopReason = "empty page"
			break
		}
		if added == 0 {
			stopReason = "no new unique ids"
			break
		}
		if len(page.Items) < r.pageSize {
			stopReason = "short page"
			break
		}
		if declaredTotal >= 0 && len(records) >= declaredTotal {
			stopReason = "declared total reached"
			break
		}
		if targetCount > 0 && len(records) >= targetCount {
			stopReason = "target count reached"
			break
		}
	}

	if targetCount > 0 && len(records) > targetCount {
		records = records[:targetCount]
	}

	r.logger.Info("Feed fetch completed",
		logger.Int("records", len(records)),
		logger.Int("duplicates", duplicates),
		logger.Int("dropped_without_id", dropped),
		logger.String("stop_reason", stopReason),
	)

	return records, nil
}

// Prioritize moves records whose natural id is in priorityIDs to the front,
// preserving the relative order of both groups. Processing order only; the
// eligibility gate still applies to prioritized records.
func Prioritize(records []Record, priorityIDs []int) []Record {
	if len(priorityIDs) == 0 || len(records) == 0 {
		return records
	}

	prioritized := make(map[int]struct{}, len(priorityIDs))
	for _, id := range priorityIDs {
		prioritized[id] = struct{}{}
	}

	front := make([]Record, 0, len(priorityIDs))
	rest := make([]Record, 0, len(records))
	for _, rec := range records {
		if id, ok := rec.NaturalID(); ok {
			if _, hit := prioritized[id]; hit {
				front = append(front, rec)
				continue
			}
		}
		rest = append(rest, rec)
	}
	return append(front, rest...)
}
