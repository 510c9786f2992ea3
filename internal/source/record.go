package source

import (
	"github.com/immoflow/propsync/internal/normalize"
)

// Record is one raw listing as returned by the provider. Field presence is
// loosely specified upstream, so access goes through typed helpers.
type Record map[string]any

// idCandidates are the fields that may carry the natural id, in priority
// order.
var idCandidates = []string{"id", "property_id", "external_id"}

// NaturalID extracts the listing's stable natural id. Records without a
// resolvable id must be dropped and counted, never silently merged.
func (r Record) NaturalID() (int, bool) {
	for _, field := range idCandidates {
		if id, ok := normalize.ParseInt(r[field]); ok && id > 0 {
			return id, true
		}
	}
	return 0, false
}

// Eligible reports whether the record should exist anywhere downstream:
// publish and show set, archived and deleted unset. Re-evaluated every pass;
// a flip to ineligible triggers removal, not a skip.
func (r Record) Eligible() bool {
	return normalize.ParseBool(r["publish"]) &&
		normalize.ParseBool(r["show"]) &&
		!normalize.ParseBool(r["archived"]) &&
		!normalize.ParseBool(r["deleted"])
}

// Bool reads a flag field through the loose truthy coercion.
func (r Record) Bool(field string) bool {
	return normalize.ParseBool(r[field])
}

// Text reads a string field with N/A sanitization.
func (r Record) Text(field string) string {
	return normalize.Text(r[field])
}

// Number reads a numeric field; nil means unknown.
func (r Record) Number(field string) *float64 {
	return normalize.ParseNumber(r[field])
}

// Int reads an integer field.
func (r Record) Int(field string) (int, bool) {
	return normalize.ParseInt(r[field])
}

// List reads a nested sub-list field (files, photos, layouts, ...).
func (r Record) List(field string) []map[string]any {
	raw, ok := r[field].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
