// Package pipeline implements the reconciliation pass that republishes
// staged records into the target CMS collections: decomposition into
// per-collection payloads, reference resolution in dependency order,
// idempotent upserts keyed by slug, and stale-entity sweeps.
package pipeline

import "fmt"

// Kind identifies one target collection.
type Kind string

const (
	KindProperty      Kind = "property"
	KindAgent         Kind = "agent"
	KindLocation      Kind = "location"
	KindLegal         Kind = "legal"
	KindFilesLinks    Kind = "files_links"
	KindLayoutInside  Kind = "layout_inside"
	KindLayoutOutside Kind = "layout_outside"
	KindComfort       Kind = "comfort"
	KindFacility      Kind = "facility"
	KindEnvironment   Kind = "environment"
	KindProject       Kind = "project"
)

// allKinds is the canonical enumeration order, used for deterministic
// tie-breaking in the topological sort.
var allKinds = []Kind{
	KindFacility,
	KindEnvironment,
	KindAgent,
	KindLocation,
	KindLegal,
	KindFilesLinks,
	KindLayoutInside,
	KindLayoutOutside,
	KindComfort,
	KindProperty,
	KindProject,
}

// dependencies holds the reference edges: a kind may only be written after
// every kind it depends on has been processed in the same pass.
var dependencies = map[Kind][]Kind{
	KindFacility:      nil,
	KindEnvironment:   nil,
	KindAgent:         nil,
	KindLocation:      nil,
	KindLegal:         nil,
	KindFilesLinks:    nil,
	KindLayoutInside:  nil,
	KindLayoutOutside: nil,
	KindComfort:       {KindFacility},
	KindProperty: {
		KindAgent,
		KindLocation,
		KindLegal,
		KindFilesLinks,
		KindLayoutInside,
		KindLayoutOutside,
		KindComfort,
		KindFacility,
		KindEnvironment,
	},
	KindProject: {KindProperty},
}

// AllKinds returns every collection kind in canonical order.
func AllKinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// CollectionKey is the configuration key under which this kind's collection
// id is looked up.
func (k Kind) CollectionKey() string {
	return string(k)
}

// ProcessingOrder returns a topological sort of the dependency graph:
// leaves first, Project last. The result is deterministic because ready
// kinds are emitted in canonical enumeration order. A cycle means the edge
// table was edited into an invalid state.
func ProcessingOrder() ([]Kind, error) {
	done := make(map[Kind]bool, len(allKinds))
	order := make([]Kind, 0, len(allKinds))

	for len(order) < len(allKinds) {
		progressed := false
		for _, kind := range allKinds {
			if done[kind] {
				continue
			}
			ready := true
			for _, dep := range dependencies[kind] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			done[kind] = true
			order = append(order, kind)
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("dependency cycle among %d unprocessed collections", len(allKinds)-len(order))
		}
	}
	return order, nil
}
