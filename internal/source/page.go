package source

import (
	"errors"
	"fmt"

	"github.com/immoflow/propsync/internal/normalize"
)

// ErrUnknownPageShape is returned when a search response matches none of the
// known payload layouts. Shape drift must be observable, not swallowed as an
// empty page.
var ErrUnknownPageShape = errors.New("unrecognized page payload shape")

// Page is one adapted page of the listings feed.
type Page struct {
	Items []Record
	// Total is the feed's declared total item count, or -1 when the
	// response carried no usable metadata.
	Total int
	// PageSize is the server-reported page size, or 0 when absent.
	PageSize int
}

// itemKeys are the envelope keys under which the item array may be nested.
var itemKeys = []string{"items", "data", "results", "properties"}

// ParsePage adapts the loosely-specified search payload into a typed Page.
// Accepted shapes: a bare item array, or an object with the array under one
// of itemKeys plus optional total / page_size metadata.
func ParsePage(raw any) (Page, error) {
	switch v := raw.(type) {
	case []any:
		return Page{Items: toRecords(v), Total: -1}, nil
	case map[string]any:
		for _, key := range itemKeys {
			arr, ok := v[key].([]any)
			if !ok {
				continue
			}
			page := Page{Items: toRecords(arr), Total: -1}
			if total, ok := extractMeta(v, "total", "total_count", "count"); ok {
				page.Total = total
			}
			if size, ok := extractMeta(v, "page_size", "per_page"); ok {
				page.PageSize = size
			}
			return page, nil
		}
		return Page{}, fmt.Errorf("%w: object without a recognized item key", ErrUnknownPageShape)
	case nil:
		return Page{}, fmt.Errorf("%w: empty body", ErrUnknownPageShape)
	default:
		return Page{}, fmt.Errorf("%w: %T", ErrUnknownPageShape, raw)
	}
}

func toRecords(items []any) []Record {
	records := make([]Record, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			records = append(records, Record(m))
		}
	}
	return records
}

// extractMeta looks for an integer metadata field at the envelope top level
// or nested under "paging"/"meta".
func extractMeta(envelope map[string]any, keys ...string) (int, bool) {
	scopes := []map[string]any{envelope}
	for _, nested := range []string{"paging", "meta", "pagination"} {
		if m, ok := envelope[nested].(map[string]any); ok {
			scopes = append(scopes, m)
		}
	}
	for _, scope := range scopes {
		for _, key := range keys {
			if val, ok := normalize.ParseInt(scope[key]); ok {
				return val, true
			}
		}
	}
	return 0, false
}
