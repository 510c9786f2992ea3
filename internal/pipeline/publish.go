package pipeline

import (
	"context"
	"fmt"

	"github.com/immoflow/propsync/internal/dicts"
	"github.com/immoflow/propsync/internal/logger"
	"github.com/immoflow/propsync/internal/staging"
)

// propertyRefField names the Property payload field for each leaf kind.
var propertyRefField = map[Kind]string{
	KindLocation:      "location",
	KindLegal:         "legal",
	KindFilesLinks:    "files_links",
	KindLayoutInside:  "layout_inside",
	KindLayoutOutside: "layout_outside",
	KindComfort:       "comfort",
}

// passRefs holds the natural-key -> target-id maps built during one pass.
// Rebuilt fresh every pass; never persisted.
type passRefs struct {
	leaves         map[Kind]map[string]string // leaf kind -> property slug -> item id
	facilityIDs    map[string]string          // tag slug -> item id
	environmentIDs map[string]string
	agents         *agentIndex
	propertyIDs    map[string]string // property slug -> item id
}

func newPassRefs() *passRefs {
	return &passRefs{
		leaves:         make(map[Kind]map[string]string),
		facilityIDs:    make(map[string]string),
		environmentIDs: make(map[string]string),
		agents:         newAgentIndex(),
		propertyIDs:    make(map[string]string),
	}
}

func (r *passRefs) setLeaf(kind Kind, slug, itemID string) {
	byKind, ok := r.leaves[kind]
	if !ok {
		byKind = make(map[string]string)
		r.leaves[kind] = byKind
	}
	byKind[slug] = itemID
}

func (r *passRefs) leaf(kind Kind, slug string) (string, bool) {
	itemID, ok := r.leaves[kind][slug]
	return itemID, ok
}

// publishPhase republishes the staging store into the CMS, one collection at
// a time in dependency order. A collection whose listing fails is skipped
// whole (upserts and sweep); the pass continues with the next one.
func (s *Service) publishPhase(ctx context.Context, state *RunState) error {
	stagedProps, err := s.staging.ListProperties(ctx)
	if err != nil {
		return fmt.Errorf("list staged properties: %w", err)
	}
	stagedAgents, err := s.staging.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("list staged agents: %w", err)
	}

	decomposed := s.decomposeAll(ctx, stagedProps, state)

	refs := newPassRefs()
	for _, kind := range s.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.processCollection(ctx, kind, decomposed, stagedAgents, refs, state)
	}
	return nil
}

// decomposeAll splits every staged row into per-collection payloads, gating
// on the staged eligibility flags once more: a row staged by an older
// deployment may carry flags the stage phase never saw.
func (s *Service) decomposeAll(ctx context.Context, rows []staging.Record, state *RunState) []*Decomposed {
	out := make([]*Decomposed, 0, len(rows))
	for _, row := range rows {
		if !stagedEligible(row) {
			state.CountSkipped(KindProperty)
			s.observeSkipped(ctx, KindProperty)
			continue
		}

		d, err := Decompose(row)
		if err != nil {
			state.CountErrored(KindProperty)
			s.observeError(ctx, KindProperty)
			s.logger.Warn("Staged row decomposition failed",
				logger.String("record_id", row.ID),
				logger.Error(err),
			)
			continue
		}
		out = append(out, d)
	}
	return out
}

func stagedEligible(row staging.Record) bool {
	flag := func(column string) bool {
		b, _ := row.Fields[column].(bool)
		return b
	}
	return flag("publish") && flag("show") && !flag("archived") && !flag("deleted")
}

func (s *Service) processCollection(ctx context.Context, kind Kind, decomposed []*Decomposed, stagedAgents []staging.Record, refs *passRefs, state *RunState) {
	collectionID := s.collections[kind.CollectionKey()]
	if collectionID == "" {
		s.logger.Debug("Collection not configured, skipped",
			logger.String("collection", string(kind)),
		)
		return
	}

	items, err := s.target.ListItems(ctx, collectionID)
	if err != nil {
		state.CountErrored(kind)
		s.observeError(ctx, kind)
		s.logger.Warn("Collection listing failed, skipping collection",
			logger.String("collection", string(kind)),
			logger.Error(err),
		)
		return
	}
	ix := NewIndex(items)
	s.checkSchema(ctx, kind, collectionID)

	sweep := true
	switch kind {
	case KindFacility:
		refs.facilityIDs, sweep = s.provisionTags(ctx, kind, ix, dicts.Facilities,
			dicts.TranslateFacility, collectLabels(decomposed, facilityLabels), state)
	case KindEnvironment:
		refs.environmentIDs, sweep = s.provisionTags(ctx, kind, ix, dicts.Environments,
			dicts.TranslateEnvironment, collectLabels(decomposed, environmentLabels), state)
	case KindAgent:
		s.processAgents(ctx, ix, stagedAgents, refs, state)
	case KindLocation, KindLegal, KindFilesLinks, KindLayoutInside, KindLayoutOutside:
		s.processLeaves(ctx, kind, ix, decomposed, refs, state)
	case KindComfort:
		s.processComforts(ctx, ix, decomposed, refs, state)
	case KindProperty:
		s.processProperties(ctx, ix, decomposed, refs, state)
	case KindProject:
		s.processProjects(ctx, ix, decomposed, refs, state)
	}

	if !sweep {
		return
	}
	s.reconcile(ctx, kind, items, state)
}

// checkSchema compares the keys this pass writes against the collection's
// declared fields and warns about drift. Advisory only: an unreadable or
// empty schema skips the check, and a drifted schema never blocks writes.
func (s *Service) checkSchema(ctx context.Context, kind Kind, collectionID string) {
	schema, err := s.target.CollectionFields(ctx, collectionID)
	if err != nil {
		s.logger.Debug("Collection schema unavailable",
			logger.String("collection", string(kind)),
			logger.Error(err),
		)
		return
	}
	if len(schema) == 0 {
		return
	}

	for _, field := range expectedFields(kind) {
		if _, ok := schema[field]; !ok {
			s.logger.Warn("Collection schema missing field, values will be dropped",
				logger.String("collection", string(kind)),
				logger.String("field", field),
			)
		}
	}
}

// expectedFields lists the payload keys the pass can write into a
// collection.
func expectedFields(kind Kind) []string {
	base := []string{"name", "slug"}
	switch kind {
	case KindLocation:
		return append(base, locationFields...)
	case KindLegal:
		return append(base, legalFields...)
	case KindFilesLinks:
		return append(base, filesLinksFields...)
	case KindLayoutInside:
		return append(base, layoutInsideFields...)
	case KindLayoutOutside:
		return append(base, layoutOutsideFields...)
	case KindComfort:
		return append(append(base, comfortFields...), "facilities")
	case KindAgent:
		return append(base, "person_id", "first_name", "last_name",
			"email", "phone", "mobile", "photo_url", "function")
	case KindProperty:
		fields := append(base, propertyFields...)
		fields = append(fields, "external_id", "agent", "facilities", "environments", "technicals")
		for _, ref := range propertyRefField {
			fields = append(fields, ref)
		}
		return fields
	case KindProject:
		return append(base, "external_id", "properties")
	}
	return base
}

func facilityLabels(d *Decomposed) []string    { return d.FacilityLabels }
func environmentLabels(d *Decomposed) []string { return d.EnvironmentLabels }

func collectLabels(decomposed []*Decomposed, pick func(*Decomposed) []string) []string {
	var labels []string
	for _, d := range decomposed {
		labels = append(labels, pick(d)...)
	}
	return labels
}

// provisionTags populates a tag collection from the global vocabulary plus
// every label carried by this pass's records: translate to the canonical
// label, slugify, upsert once per unique slug. The resulting slug -> id map
// is reused by every property and comfort payload in the pass.
//
// The second return value reports whether the stale sweep may run. When the
// catalog load fails, items provisioned from the catalog in earlier passes
// were never seen this pass; sweeping then would turn a failed read into
// deletions, so the caller must skip it.
func (s *Service) provisionTags(ctx context.Context, kind Kind, ix *Index, cat dicts.Category, translate func(string) string, recordLabels []string, state *RunState) (map[string]string, bool) {
	var labels []string
	catalogOK := true

	catalog, err := s.dicts.Catalog(ctx, cat)
	if err != nil {
		catalogOK = false
		s.logger.Warn("Tag vocabulary unavailable, provisioning from record labels only and skipping sweep",
			logger.String("collection", string(kind)),
			logger.Error(err),
		)
	} else {
		for _, entry := range catalog {
			labels = append(labels, entry.Label)
		}
	}
	labels = append(labels, recordLabels...)

	ids := make(map[string]string, len(labels))
	provisioned := make(map[string]struct{}, len(labels))

	for _, label := range labels {
		slug, canonical := TagSlug(label, translate)
		if _, done := provisioned[slug]; done {
			continue
		}
		provisioned[slug] = struct{}{}

		payload := map[string]any{"name": canonical, "slug": slug}
		if itemID, ok := s.upsert(ctx, kind, ix, slug, payload, state); ok {
			ids[slug] = itemID
		}
	}
	return ids, catalogOK
}

// processAgents publishes staged agent rows and builds the person-id and
// legacy-ref indices the Property phase resolves against.
func (s *Service) processAgents(ctx context.Context, ix *Index, stagedAgents []staging.Record, refs *passRefs, state *RunState) {
	for _, row := range stagedAgents {
		personID, ok := row.Int("person_id")
		if !ok {
			state.CountSkipped(KindAgent)
			s.observeSkipped(ctx, KindAgent)
			s.logger.Warn("Staged agent row without person id skipped",
				logger.String("record_id", row.ID),
			)
			continue
		}

		slug := row.Text("slug")
		if slug == "" {
			slug = fmt.Sprintf("agent-%d", personID)
		}

		payload := map[string]any{
			"name":      row.Text("name"),
			"slug":      slug,
			"person_id": personID,
		}
		for _, column := range []string{"first_name", "last_name", "email", "phone", "mobile", "photo_url", "function"} {
			if value := row.Text(column); value != "" {
				payload[column] = value
			}
		}

		itemID, ok := s.upsert(ctx, KindAgent, ix, slug, payload, state)
		if !ok {
			continue
		}
		refs.agents.addPerson(personID, itemID)
		refs.agents.addRef(row.ID, itemID)
	}
}

// processLeaves publishes one per-property leaf collection. The leaf shares
// the property's natural key, so the later Property write resolves it by
// slug equality.
func (s *Service) processLeaves(ctx context.Context, kind Kind, ix *Index, decomposed []*Decomposed, refs *passRefs, state *RunState) {
	for _, d := range decomposed {
		payload := clonePayload(d.Payloads[kind])
		if itemID, ok := s.upsert(ctx, kind, ix, d.Slug, payload, state); ok {
			refs.setLeaf(kind, d.Slug, itemID)
		}
	}
}

// processComforts is the leaf pass for Comfort, which additionally carries
// multi-references into the Facility tag collection.
func (s *Service) processComforts(ctx context.Context, ix *Index, decomposed []*Decomposed, refs *passRefs, state *RunState) {
	for _, d := range decomposed {
		payload := clonePayload(d.Payloads[KindComfort])
		if facilityRefs := s.resolveTagRefs(KindComfort, d, d.FacilityLabels, dicts.TranslateFacility, refs.facilityIDs); len(facilityRefs) > 0 {
			payload["facilities"] = facilityRefs
		}

		if itemID, ok := s.upsert(ctx, KindComfort, ix, d.Slug, payload, state); ok {
			refs.setLeaf(KindComfort, d.Slug, itemID)
		}
	}
}

// resolveTagRefs maps a record's tag labels onto target item ids. Case
// variants of one label collapse to one slug, so the result never carries
// the same id twice. An unresolvable label degrades the field, not the
// record.
func (s *Service) resolveTagRefs(kind Kind, d *Decomposed, labels []string, translate func(string) string, ids map[string]string) []string {
	out := make([]string, 0, len(labels))
	used := make(map[string]struct{}, len(labels))

	for _, label := range labels {
		slug, _ := TagSlug(label, translate)
		if _, dup := used[slug]; dup {
			continue
		}
		used[slug] = struct{}{}

		itemID, ok := ids[slug]
		if !ok {
			s.logger.Warn("Tag reference unresolved, field entry omitted",
				logger.String("collection", string(kind)),
				logger.String("property", d.Slug),
				logger.String("tag", slug),
			)
			continue
		}
		out = append(out, itemID)
	}
	return out
}

// processProperties publishes the Property collection. Every reference
// field points at an item written earlier in this pass; an unresolvable
// reference leaves the field unset with a diagnostic, and the property is
// written regardless.
func (s *Service) processProperties(ctx context.Context, ix *Index, decomposed []*Decomposed, refs *passRefs, state *RunState) {
	for _, d := range decomposed {
		payload := clonePayload(d.Payloads[KindProperty])

		for kind, field := range propertyRefField {
			if itemID, ok := refs.leaf(kind, d.Slug); ok {
				payload[field] = itemID
			} else {
				s.logger.Warn("Leaf reference unresolved, field omitted",
					logger.String("property", d.Slug),
					logger.String("field", field),
				)
			}
		}

		if itemID, ok := refs.agents.resolve(d); ok {
			payload["agent"] = itemID
		} else if d.AgentPersonID > 0 || len(d.AgentRefs) > 0 {
			s.logger.Warn("Agent reference unresolved, field omitted",
				logger.String("property", d.Slug),
				logger.Int("person_id", d.AgentPersonID),
			)
		}

		if facilityRefs := s.resolveTagRefs(KindProperty, d, d.FacilityLabels, dicts.TranslateFacility, refs.facilityIDs); len(facilityRefs) > 0 {
			payload["facilities"] = facilityRefs
		}
		if environmentRefs := s.resolveTagRefs(KindProperty, d, d.EnvironmentLabels, dicts.TranslateEnvironment, refs.environmentIDs); len(environmentRefs) > 0 {
			payload["environments"] = environmentRefs
		}

		if itemID, ok := s.upsert(ctx, KindProperty, ix, d.Slug, payload, state); ok {
			refs.propertyIDs[d.Slug] = itemID
		}
	}
}

// processProjects publishes one Project per staged row flagged is_project.
// Members must have been resolved to property ids in this same pass; an
// unresolved member is dropped with a diagnostic, never an error.
func (s *Service) processProjects(ctx context.Context, ix *Index, decomposed []*Decomposed, refs *passRefs, state *RunState) {
	for _, d := range decomposed {
		if !d.IsProject {
			continue
		}

		slug := fmt.Sprintf("project-%d", d.ExternalID)
		payload := map[string]any{
			"name":        projectName(d),
			"slug":        slug,
			"external_id": d.ExternalID,
		}

		members := make([]string, 0, len(d.MemberIDs))
		for _, memberID := range d.MemberIDs {
			memberSlug := fmt.Sprintf("property-%d", memberID)
			itemID, ok := refs.propertyIDs[memberSlug]
			if !ok {
				s.logger.Warn("Project member unresolved, dropped",
					logger.String("project", slug),
					logger.Int("member_id", memberID),
				)
				continue
			}
			members = append(members, itemID)
		}
		if len(members) > 0 {
			payload["properties"] = members
		}

		s.upsert(ctx, KindProject, ix, slug, payload, state)
	}
}

func projectName(d *Decomposed) string {
	if name, ok := d.Payloads[KindProperty]["name"].(string); ok && name != "" {
		return name
	}
	return fmt.Sprintf("project-%d", d.ExternalID)
}

func clonePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for field, value := range payload {
		out[field] = value
	}
	return out
}
