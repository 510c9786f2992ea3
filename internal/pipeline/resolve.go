package pipeline

import (
	"github.com/immoflow/propsync/internal/cms"
	"github.com/immoflow/propsync/internal/normalize"
)

// Index maps a collection's existing natural keys to target item ids. Built
// once per pass from a full listing; mutated only by Add when this pass
// creates new items.
type Index struct {
	exact    map[string]string
	stripped map[string]string
}

// NewIndex builds the slug index from a collection listing. Both the exact
// slug and its suffix-stripped form are indexed so "garage" and "garage-2"
// resolve to the same logical entity.
func NewIndex(items []cms.Item) *Index {
	ix := &Index{
		exact:    make(map[string]string, len(items)),
		stripped: make(map[string]string, len(items)),
	}
	for _, item := range items {
		slug := item.Slug()
		if slug == "" {
			continue
		}
		ix.exact[slug] = item.ID
		base := normalize.StripSlugSuffix(slug)
		if _, taken := ix.stripped[base]; !taken {
			ix.stripped[base] = item.ID
		}
	}
	return ix
}

// Lookup resolves a slug to an existing item id. Two slugs name the same
// logical entity when they are equal or when one is the suffix-stripped
// form of the other, so the match runs in both directions: an exact hit, an
// existing suffixed item whose base form is the query, or a suffixed query
// whose base form exists exactly. Stripping both sides would conflate
// distinct keys like "property-500" and "property-2", so that is never done.
func (ix *Index) Lookup(slug string) (string, bool) {
	if id, ok := ix.exact[slug]; ok {
		return id, true
	}
	if id, ok := ix.stripped[slug]; ok {
		return id, true
	}
	if id, ok := ix.exact[normalize.StripSlugSuffix(slug)]; ok {
		return id, true
	}
	return "", false
}

// Add registers a freshly created item so later lookups in the same pass
// find it.
func (ix *Index) Add(slug, id string) {
	ix.exact[slug] = id
	base := normalize.StripSlugSuffix(slug)
	if _, taken := ix.stripped[base]; !taken {
		ix.stripped[base] = id
	}
}

// Len reports how many exact keys the index holds.
func (ix *Index) Len() int {
	return len(ix.exact)
}

// TagSlug folds a raw tag label onto its canonical form and derives the
// slug under which the tag collection stores it. Case variants and
// translated spellings of the same concept yield the same slug.
func TagSlug(label string, translate func(string) string) (slug, canonical string) {
	canonical = translate(label)
	return normalize.Slugify(canonical), canonical
}

// agentIndex resolves agent references two ways: by the upstream person id,
// or by a legacy cross-system record ref for rows staged before person ids
// were carried.
type agentIndex struct {
	byPerson map[int]string
	byRef    map[string]string
}

func newAgentIndex() *agentIndex {
	return &agentIndex{
		byPerson: make(map[int]string),
		byRef:    make(map[string]string),
	}
}

func (ai *agentIndex) addPerson(personID int, itemID string) {
	if personID > 0 {
		ai.byPerson[personID] = itemID
	}
}

func (ai *agentIndex) addRef(ref, itemID string) {
	if ref != "" {
		ai.byRef[ref] = itemID
	}
}

// resolve returns the agent item id for a decomposed property, preferring
// the person id and falling back to legacy refs.
func (ai *agentIndex) resolve(d *Decomposed) (string, bool) {
	if id, ok := ai.byPerson[d.AgentPersonID]; ok {
		return id, true
	}
	for _, ref := range d.AgentRefs {
		if id, ok := ai.byRef[ref]; ok {
			return id, true
		}
	}
	return "", false
}
