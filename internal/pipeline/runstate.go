package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/immoflow/propsync/internal/normalize"
)

// Counters aggregates per-collection write outcomes.
type Counters struct {
	Created int
	Updated int
	Skipped int
	Errored int
	Removed int
}

// RunState is the per-pass scratch state: which natural keys were seen per
// collection, write counters, and which collections were touched by at
// least one write. It lives for exactly one pass and is never persisted.
type RunState struct {
	ID        string
	StartedAt time.Time

	seen     map[Kind]map[string]struct{}
	failed   map[Kind]map[string]struct{}
	counters map[Kind]*Counters
	touched  map[Kind]struct{}
}

// NewRunState starts a fresh pass state with a unique run id.
func NewRunState() *RunState {
	return &RunState{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		seen:      make(map[Kind]map[string]struct{}),
		failed:    make(map[Kind]map[string]struct{}),
		counters:  make(map[Kind]*Counters),
		touched:   make(map[Kind]struct{}),
	}
}

// MarkSeen records that a natural key was successfully written this pass.
// Only successful writes mark keys; a failed upsert must stay invisible to
// the stale sweep.
func (s *RunState) MarkSeen(kind Kind, slug string) {
	set, ok := s.seen[kind]
	if !ok {
		set = make(map[string]struct{})
		s.seen[kind] = set
	}
	set[slug] = struct{}{}
}

// HasSeen reports whether a slug was written this pass, matching exact or
// with the numeric disambiguation suffix stripped.
func (s *RunState) HasSeen(kind Kind, slug string) bool {
	set, ok := s.seen[kind]
	if !ok {
		return false
	}
	if _, exact := set[slug]; exact {
		return true
	}
	_, stripped := set[normalize.StripSlugSuffix(slug)]
	return stripped
}

// MarkFailed records that a key's write failed this pass. The stale sweep
// must not delete a just-failed entity; its source record still exists, the
// write simply did not land.
func (s *RunState) MarkFailed(kind Kind, slug string) {
	set, ok := s.failed[kind]
	if !ok {
		set = make(map[string]struct{})
		s.failed[kind] = set
	}
	set[slug] = struct{}{}
}

// HasFailed reports whether a slug's write failed this pass, matching exact
// or suffix-stripped.
func (s *RunState) HasFailed(kind Kind, slug string) bool {
	set, ok := s.failed[kind]
	if !ok {
		return false
	}
	if _, exact := set[slug]; exact {
		return true
	}
	_, stripped := set[normalize.StripSlugSuffix(slug)]
	return stripped
}

func (s *RunState) counter(kind Kind) *Counters {
	c, ok := s.counters[kind]
	if !ok {
		c = &Counters{}
		s.counters[kind] = c
	}
	return c
}

// CountCreated records a create and marks the collection touched.
func (s *RunState) CountCreated(kind Kind) {
	s.counter(kind).Created++
	s.touched[kind] = struct{}{}
}

// CountUpdated records an update and marks the collection touched.
func (s *RunState) CountUpdated(kind Kind) {
	s.counter(kind).Updated++
	s.touched[kind] = struct{}{}
}

// CountSkipped records a skipped record.
func (s *RunState) CountSkipped(kind Kind) {
	s.counter(kind).Skipped++
}

// CountErrored records a per-record failure.
func (s *RunState) CountErrored(kind Kind) {
	s.counter(kind).Errored++
}

// CountRemoved records a stale-sweep deletion and marks the collection
// touched.
func (s *RunState) CountRemoved(kind Kind) {
	s.counter(kind).Removed++
	s.touched[kind] = struct{}{}
}

// Touched returns the kinds that received at least one write, in canonical
// order. Used to scope the post-pass site publish.
func (s *RunState) Touched() []Kind {
	out := make([]Kind, 0, len(s.touched))
	for _, kind := range allKinds {
		if _, ok := s.touched[kind]; ok {
			out = append(out, kind)
		}
	}
	return out
}

// Collection returns a copy of one collection's counters.
func (s *RunState) Collection(kind Kind) Counters {
	if c, ok := s.counters[kind]; ok {
		return *c
	}
	return Counters{}
}

// Totals sums counters across all collections.
func (s *RunState) Totals() Counters {
	var total Counters
	for _, c := range s.counters {
		total.Created += c.Created
		total.Updated += c.Updated
		total.Skipped += c.Skipped
		total.Errored += c.Errored
		total.Removed += c.Removed
	}
	return total
}
