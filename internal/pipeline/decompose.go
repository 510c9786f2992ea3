package pipeline

import (
	"fmt"

	"github.com/immoflow/propsync/internal/normalize"
	"github.com/immoflow/propsync/internal/staging"
)

// Field partition: every staged column belongs to exactly one target
// collection. Columns absent from a staged row are simply not carried, so a
// sparse row produces sparse payloads rather than explicit zeroes.
var (
	locationFields = []string{
		"street", "number", "box", "zip", "city", "latitude", "longitude",
	}

	legalFields = []string{
		"custom_epc_label", "epc_value", "epc_reference", "epc_date",
	}

	filesLinksFields = []string{
		"photo_url", "photo_gallery", "video_link", "virtual_tour_link",
		"file_plan", "file_book_of_expenses", "file_pamphlet",
		"file_asbestos", "file_epc", "file_water_sensitivity",
		"file_estimation", "file_elektra_keuring",
	}

	layoutInsideFields = []string{
		"bedrooms", "bedroom_area",
		"bathrooms", "bathroom_area",
		"kitchens", "kitchen_area",
		"living_rooms", "living_room_area",
		"dining_rooms", "dining_room_area",
		"offices", "office_area",
		"restrooms", "restroom_area",
		"dressing_rooms", "dressing_room_area",
		"cellars", "cellar_area",
		"attics", "attic_area",
		"wine_cellars", "wine_cellar_area",
	}

	layoutOutsideFields = []string{
		"gardens", "garden_area",
		"terraces", "terrace_area",
		"garages", "garage_area",
		"parking_places", "parking_place_area",
		"swimming_pools", "swimming_pool_area",
		"sheds", "shed_area",
		"balconies", "balcony_area",
	}

	comfortFields = []string{
		"heating", "elevator",
	}

	propertyFields = []string{
		"name", "price", "price_visible", "reference",
		"type", "subtype", "status", "state",
		"area_build", "area_ground",
		"construction_year", "renovation_year",
		"description_short", "description_full",
		"creation", "available_date", "changed",
		"is_project", "exclusive", "technicals",
	}
)

// Decomposed is one staged property split into per-collection payloads plus
// the raw material the reference resolver needs: tag labels, the agent keys,
// and project membership.
type Decomposed struct {
	Slug       string
	ExternalID int

	Payloads map[Kind]map[string]any

	FacilityLabels    []string
	EnvironmentLabels []string

	AgentPersonID int      // 0 when the row carries no salesrep
	AgentRefs     []string // legacy cross-system record refs

	IsProject bool
	MemberIDs []int
}

// Decompose splits a staged row into payloads for the Property collection
// and its five per-property leaves. All leaves share the property's natural
// key, so the 1:1 join is implicit. A row without an external id cannot be
// decomposed at all.
func Decompose(rec staging.Record) (*Decomposed, error) {
	externalID, ok := rec.Int("external_id")
	if !ok {
		return nil, fmt.Errorf("staged row %s: %w", rec.ID, staging.ErrMissingNaturalKey)
	}

	slug := rec.Text("slug")
	if slug == "" {
		slug = fmt.Sprintf("property-%d", externalID)
	}

	d := &Decomposed{
		Slug:              slug,
		ExternalID:        externalID,
		Payloads:          make(map[Kind]map[string]any, 7),
		FacilityLabels:    labelList(rec, "facilities"),
		EnvironmentLabels: labelList(rec, "environments"),
		AgentRefs:         rec.Strings("agent"),
		IsProject:         boolField(rec, "is_project"),
		MemberIDs:         staging.ChildPropertyIDs(rec.Fields["child_properties"]),
	}

	if personID, ok := rec.Int("responsible_salesrep_person_id"); ok {
		d.AgentPersonID = personID
	}

	d.Payloads[KindLocation] = pick(rec, slug, locationFields)
	d.Payloads[KindLegal] = pick(rec, slug, legalFields)
	d.Payloads[KindFilesLinks] = pick(rec, slug, filesLinksFields)
	d.Payloads[KindLayoutInside] = pick(rec, slug, layoutInsideFields)
	d.Payloads[KindLayoutOutside] = pick(rec, slug, layoutOutsideFields)
	d.Payloads[KindComfort] = pick(rec, slug, comfortFields)

	property := pick(rec, slug, propertyFields)
	property["external_id"] = externalID
	d.Payloads[KindProperty] = property

	return d, nil
}

// pick copies the listed columns that are present on the row into a fresh
// payload carrying the shared natural key.
func pick(rec staging.Record, slug string, columns []string) map[string]any {
	payload := map[string]any{
		"name": slug,
		"slug": slug,
	}
	for _, column := range columns {
		if value, ok := rec.Fields[column]; ok && value != nil {
			payload[column] = value
		}
	}
	return payload
}

func boolField(rec staging.Record, column string) bool {
	b, _ := rec.Fields[column].(bool)
	return b
}

// labelList reads a multi-label column, accepting both the list shape and
// the comma-joined text that rows staged by older deployments carry.
func labelList(rec staging.Record, column string) []string {
	if labels := rec.Strings(column); len(labels) > 0 {
		return labels
	}
	if raw := rec.Text(column); raw != "" {
		return normalize.SplitList(raw)
	}
	return nil
}
