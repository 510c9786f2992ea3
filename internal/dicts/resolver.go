// Package dicts resolves the provider's numeric ids to localized labels.
// Tables are fetched once per process lifetime and cached on the resolver;
// Invalidate drops every cache so the pass orchestrator controls freshness.
package dicts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/immoflow/propsync/internal/logger"
	"github.com/immoflow/propsync/internal/normalize"
	"github.com/immoflow/propsync/internal/source"
)

// Category identifies one vocabulary table.
type Category string

const (
	Types        Category = "types"
	Subtypes     Category = "subtypes"
	Statuses     Category = "statuses"
	States       Category = "states"
	Heating      Category = "heating"
	Facilities   Category = "facilities"
	Environments Category = "environments"
	Layouts      Category = "layouts"
	Technicals   Category = "technicals"
)

// categoryPaths maps a category to the provider endpoint serving its table.
var categoryPaths = map[Category]string{
	Types:        "property/types",
	Subtypes:     "property/subtypes",
	Statuses:     "property/statuses",
	States:       "property/states",
	Heating:      "property/heatings",
	Facilities:   "property/facilities",
	Environments: "property/environments",
	Layouts:      "property/layouts",
	Technicals:   "property/technicals",
}

// ErrUnknownCategory is returned for a category with no configured endpoint.
var ErrUnknownCategory = errors.New("unknown dictionary category")

// Entry is one catalog row: id plus decoded label.
type Entry struct {
	ID    int
	Label string
}

// City is one decoded city row.
type City struct {
	Name string
	Zip  string
}

// VocabularySource is the slice of the provider client the resolver needs.
type VocabularySource interface {
	Vocabulary(ctx context.Context, path string) ([]source.VocabEntry, error)
	Cities(ctx context.Context, countryID int) ([]source.VocabEntry, error)
}

// Resolver caches id->label tables per category. A failed load is returned
// as an error and never cached, so a transient upstream failure is
// distinguishable from a genuinely empty vocabulary.
type Resolver struct {
	src    VocabularySource
	logger logger.Logger

	mu       sync.Mutex
	tables   map[Category]map[int]string
	catalogs map[Category][]Entry
	cities   map[int]map[int]City
}

// NewResolver builds an empty resolver over the given vocabulary source.
func NewResolver(src VocabularySource, log logger.Logger) *Resolver {
	return &Resolver{
		src:      src,
		logger:   log,
		tables:   make(map[Category]map[int]string),
		catalogs: make(map[Category][]Entry),
		cities:   make(map[int]map[int]City),
	}
}

// Resolve maps an id to its label, loading the category table on first use.
// Any miss, including a failed load, yields the stable N/A sentinel so one
// bad decode degrades a field, not the record.
func (r *Resolver) Resolve(ctx context.Context, cat Category, id int) string {
	table, err := r.table(ctx, cat)
	if err != nil {
		r.logger.Warn("Dictionary load failed, using fallback label",
			logger.String("category", string(cat)),
			logger.Int("id", id),
			logger.Error(err),
		)
		return normalize.NA
	}

	label, ok := table[id]
	if !ok {
		return normalize.NA
	}
	return label
}

// Catalog returns every active entry of a category, for tag provisioning.
func (r *Resolver) Catalog(ctx context.Context, cat Category) ([]Entry, error) {
	if _, err := r.table(ctx, cat); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.catalogs[cat], nil
}

// ResolveCity maps a (country, city) id pair to its name and zip code.
func (r *Resolver) ResolveCity(ctx context.Context, countryID, cityID int) (City, bool) {
	r.mu.Lock()
	table, loaded := r.cities[countryID]
	r.mu.Unlock()

	if !loaded {
		entries, err := r.src.Cities(ctx, countryID)
		if err != nil {
			r.logger.Warn("City table load failed",
				logger.Int("country_id", countryID),
				logger.Error(err),
			)
			return City{}, false
		}

		table = make(map[int]City, len(entries))
		for _, e := range entries {
			table[e.ID] = City{Name: e.Label(), Zip: e.Zip}
		}

		r.mu.Lock()
		r.cities[countryID] = table
		r.mu.Unlock()
	}

	city, ok := table[cityID]
	return city, ok
}

// Preload fetches several category tables concurrently and awaits them
// together. The first load error is returned; loaded tables stay cached.
func (r *Resolver) Preload(ctx context.Context, cats ...Category) error {
	var wg sync.WaitGroup
	errs := make([]error, len(cats))

	for i, cat := range cats {
		wg.Add(1)
		go func(i int, cat Category) {
			defer wg.Done()
			_, errs[i] = r.table(ctx, cat)
		}(i, cat)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Invalidate drops every cached table. The next lookup refetches.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables = make(map[Category]map[int]string)
	r.catalogs = make(map[Category][]Entry)
	r.cities = make(map[int]map[int]City)
}

func (r *Resolver) table(ctx context.Context, cat Category) (map[int]string, error) {
	r.mu.Lock()
	if table, ok := r.tables[cat]; ok {
		r.mu.Unlock()
		return table, nil
	}
	r.mu.Unlock()

	path, ok := categoryPaths[cat]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
	}

	entries, err := r.src.Vocabulary(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cat, err)
	}

	table := make(map[int]string, len(entries))
	catalog := make([]Entry, 0, len(entries))
	for _, e := range entries {
		table[e.ID] = e.Label()
		if e.Active == nil || *e.Active {
			catalog = append(catalog, Entry{ID: e.ID, Label: e.Label()})
		}
	}

	r.mu.Lock()
	// Another goroutine may have raced the load; last write wins, both
	// results came from the same endpoint.
	r.tables[cat] = table
	r.catalogs[cat] = catalog
	r.mu.Unlock()

	r.logger.Debug("Dictionary loaded",
		logger.String("category", string(cat)),
		logger.Int("entries", len(table)),
	)

	return table, nil
}
