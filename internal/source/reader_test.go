package source

import (
	"context"
	"errors"
	"testing"

	"github.com/immoflow/propsync/internal/logger"
)

type scriptedFetcher struct {
	pages    []Page
	err      error
	requests []int
}

func (f *scriptedFetcher) SearchPage(_ context.Context, page, _ int) (Page, error) {
	f.requests = append(f.requests, page)
	if f.err != nil {
		return Page{}, f.err
	}
	if page >= len(f.pages) {
		return Page{Total: -1}, nil
	}
	return f.pages[page], nil
}

func rec(id int) Record {
	return Record{"id": float64(id)}
}

func ids(records []Record) []int {
	out := make([]int, 0, len(records))
	for _, r := range records {
		id, _ := r.NaturalID()
		out = append(out, id)
	}
	return out
}

func TestFetchAllDeduplicatesAcrossPages(t *testing.T) {
	// Pages [1,2] [2,3] [4]: overlap on id 2, short last page.
	fetcher := &scriptedFetcher{pages: []Page{
		{Items: []Record{rec(1), rec(2)}, Total: -1},
		{Items: []Record{rec(2), rec(3)}, Total: -1},
		{Items: []Record{rec(4)}, Total: -1},
	}}
	reader := NewReader(fetcher, 2, 500, logger.NewNopLogger())

	records, err := reader.FetchAll(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	got := ids(records)
	want := []int{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ids[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	// Short page 2 terminates; page 3 must never be requested.
	if len(fetcher.requests) != 3 {
		t.Errorf("requests = %v, want exactly pages 0..2", fetcher.requests)
	}
}

func TestFetchAllStopsWhenPageRepeats(t *testing.T) {
	// Server repeats the same full page forever.
	same := Page{Items: []Record{rec(1), rec(2)}, Total: -1}
	fetcher := &scriptedFetcher{pages: []Page{same, same, same, same}}
	reader := NewReader(fetcher, 2, 500, logger.NewNopLogger())

	records, err := reader.FetchAll(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("records = %v, want 2 unique", ids(records))
	}
	if len(fetcher.requests) != 2 {
		t.Errorf("requests = %d, want 2 (stop on no new ids)", len(fetcher.requests))
	}
}

func TestFetchAllStopsOnEmptyFirstPage(t *testing.T) {
	fetcher := &scriptedFetcher{pages: []Page{{Total: -1}}}
	reader := NewReader(fetcher, 2, 500, logger.NewNopLogger())

	records, err := reader.FetchAll(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %v, want none", ids(records))
	}
	if len(fetcher.requests) != 1 {
		t.Errorf("requests = %d, want 1", len(fetcher.requests))
	}
}

func TestFetchAllStopsOnDeclaredTotal(t *testing.T) {
	fetcher := &scriptedFetcher{pages: []Page{
		{Items: []Record{rec(1), rec(2)}, Total: 4},
		{Items: []Record{rec(3), rec(4)}, Total: 4},
		{Items: []Record{rec(5), rec(6)}, Total: 4},
	}}
	reader := NewReader(fetcher, 2, 500, logger.NewNopLogger())

	records, err := reader.FetchAll(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(records) != 4 {
		t.Errorf("records = %v, want 4", ids(records))
	}
	if len(fetcher.requests) != 2 {
		t.Errorf("requests = %d, want 2", len(fetcher.requests))
	}
}

func TestFetchAllHonorsIterationCeiling(t *testing.T) {
	// Distinct full pages forever; only the ceiling stops the loop.
	fetcher := &scriptedFetcher{}
	for i := 0; i < 20; i++ {
		fetcher.pages = append(fetcher.pages, Page{
			Items: []Record{rec(i*2 + 1), rec(i*2 + 2)},
			Total: -1,
		})
	}
	reader := NewReader(fetcher, 2, 5, logger.NewNopLogger())

	records, err := reader.FetchAll(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(fetcher.requests) != 5 {
		t.Errorf("requests = %d, want ceiling of 5", len(fetcher.requests))
	}
	if len(records) != 10 {
		t.Errorf("records = %d, want 10", len(records))
	}
}

func TestFetchAllPropagatesPageFailure(t *testing.T) {
	fetchErr := errors.New("source API status 502")
	fetcher := &scriptedFetcher{err: fetchErr}
	reader := NewReader(fetcher, 2, 500, logger.NewNopLogger())

	if _, err := reader.FetchAll(context.Background(), 0, 0); !errors.Is(err, fetchErr) {
		t.Fatalf("FetchAll() error = %v, want wrapped fetch error", err)
	}
}

func TestFetchAllSkipsUnalignedStartOffset(t *testing.T) {
	fetcher := &scriptedFetcher{pages: []Page{
		{Items: []Record{rec(1), rec(2)}, Total: -1},
		{Items: []Record{rec(3)}, Total: -1},
	}}
	reader := NewReader(fetcher, 2, 500, logger.NewNopLogger())

	// Offset 1 lands mid-page: page 0 is fetched, its first item skipped.
	records, err := reader.FetchAll(context.Background(), 0, 1)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	got := ids(records)
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("ids = %v, want [2 3]", got)
	}
}

func TestFetchAllDropsRecordsWithoutID(t *testing.T) {
	fetcher := &scriptedFetcher{pages: []Page{
		{Items: []Record{{"title": "no id"}, rec(7)}, Total: -1},
	}}
	reader := NewReader(fetcher, 2, 500, logger.NewNopLogger())

	records, err := reader.FetchAll(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	got := ids(records)
	if len(got) != 1 || got[0] != 7 {
		t.Errorf("ids = %v, want [7]", got)
	}
}

func TestFetchAllTruncatesToTargetCount(t *testing.T) {
	fetcher := &scriptedFetcher{pages: []Page{
		{Items: []Record{rec(1), rec(2)}, Total: -1},
		{Items: []Record{rec(3), rec(4)}, Total: -1},
	}}
	reader := NewReader(fetcher, 2, 500, logger.NewNopLogger())

	records, err := reader.FetchAll(context.Background(), 3, 0)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(records) != 3 {
		t.Errorf("records = %v, want 3", ids(records))
	}
}

func TestPrioritize(t *testing.T) {
	records := []Record{rec(10), rec(20), rec(30), rec(40)}

	got := ids(Prioritize(records, []int{30, 99}))
	want := []int{30, 10, 20, 40}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}

	// No priority list keeps the original order.
	got = ids(Prioritize(records, nil))
	if got[0] != 10 || got[3] != 40 {
		t.Errorf("ids = %v, want original order", got)
	}
}

func TestRecordEligible(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want bool
	}{
		{
			name: "fully eligible",
			rec:  Record{"publish": true, "show": "yes", "archived": false, "deleted": 0},
			want: true,
		},
		{
			name: "archived",
			rec:  Record{"publish": true, "show": true, "archived": true, "deleted": false},
		},
		{
			name: "not shown",
			rec:  Record{"publish": true, "show": false, "archived": false, "deleted": false},
		},
		{
			name: "deleted",
			rec:  Record{"publish": true, "show": true, "archived": false, "deleted": "1"},
		},
		{
			name: "missing flags",
			rec:  Record{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Eligible(); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}
