package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/immoflow/propsync/internal/dicts"
	"github.com/immoflow/propsync/internal/logger"
	"github.com/immoflow/propsync/internal/normalize"
	"github.com/immoflow/propsync/internal/source"
)

// ErrMissingNaturalKey marks a record that cannot be staged at all. The
// caller skips and counts it; nothing is partially written.
var ErrMissingNaturalKey = errors.New("record has no natural id")

// fileFieldByType routes document links into dedicated columns by the
// provider's file type id.
var fileFieldByType = map[int]string{
	1:   "file_plan",
	2:   "file_book_of_expenses",
	3:   "file_pamphlet",
	29:  "file_asbestos",
	45:  "file_epc",
	102: "file_water_sensitivity",
	103: "file_estimation",
	104: "file_elektra_keuring",
}

// videoFieldByType splits video links into a plain video and a virtual tour.
var videoFieldByType = map[int]string{
	1: "video_link",
	2: "virtual_tour_link",
}

// layoutFieldByRoom maps a normalized room label to its count and area
// columns. The feed mixes English and Dutch room names.
var layoutFieldByRoom = map[string][2]string{
	"bedroom":       {"bedrooms", "bedroom_area"},
	"slaapkamer":    {"bedrooms", "bedroom_area"},
	"bathroom":      {"bathrooms", "bathroom_area"},
	"badkamer":      {"bathrooms", "bathroom_area"},
	"kitchen":       {"kitchens", "kitchen_area"},
	"keuken":        {"kitchens", "kitchen_area"},
	"living room":   {"living_rooms", "living_room_area"},
	"woonkamer":     {"living_rooms", "living_room_area"},
	"dining room":   {"dining_rooms", "dining_room_area"},
	"eetkamer":      {"dining_rooms", "dining_room_area"},
	"office":        {"offices", "office_area"},
	"bureau":        {"offices", "office_area"},
	"garage":        {"garages", "garage_area"},
	"terrace":       {"terraces", "terrace_area"},
	"terras":        {"terraces", "terrace_area"},
	"garden":        {"gardens", "garden_area"},
	"tuin":          {"gardens", "garden_area"},
	"cellar":        {"cellars", "cellar_area"},
	"kelder":        {"cellars", "cellar_area"},
	"attic":         {"attics", "attic_area"},
	"zolder":        {"attics", "attic_area"},
	"restroom":      {"restrooms", "restroom_area"},
	"toilet":        {"restrooms", "restroom_area"},
	"parking place": {"parking_places", "parking_place_area"},
	"parkeerplaats": {"parking_places", "parking_place_area"},
	"swimming pool": {"swimming_pools", "swimming_pool_area"},
	"swimmingpool":  {"swimming_pools", "swimming_pool_area"},
	"zwembad":       {"swimming_pools", "swimming_pool_area"},
	"balcony":       {"balconies", "balcony_area"},
	"balkon":        {"balconies", "balcony_area"},
	"wine cellar":   {"wine_cellars", "wine_cellar_area"},
	"wijnkelder":    {"wine_cellars", "wine_cellar_area"},
	"shed":          {"sheds", "shed_area"},
	"berging":       {"sheds", "shed_area"},
	"dressing room": {"dressing_rooms", "dressing_room_area"},
	"dressing":      {"dressing_rooms", "dressing_room_area"},
}

// Mapper flattens raw provider records into staging-store rows. All
// coercions are pure; dictionary lookups degrade to the N/A sentinel rather
// than failing the record.
type Mapper struct {
	dicts  *dicts.Resolver
	logger logger.Logger
}

// NewMapper builds a mapper over the given dictionary resolver.
func NewMapper(resolver *dicts.Resolver, log logger.Logger) *Mapper {
	return &Mapper{dicts: resolver, logger: log}
}

// MapProperty flattens one property record. Returns the natural id and the
// staging column values.
func (m *Mapper) MapProperty(ctx context.Context, rec source.Record) (int, map[string]any, error) {
	id, ok := rec.NaturalID()
	if !ok {
		return 0, nil, ErrMissingNaturalKey
	}

	name := fmt.Sprintf("property-%d", id)
	fields := map[string]any{
		"name":        name,
		"slug":        name,
		"external_id": id,

		"is_project": rec.Bool("is_project"),
		"publish":    rec.Bool("publish"),
		"show":       rec.Bool("show"),
		"archived":   rec.Bool("archived"),
		"deleted":    rec.Bool("deleted"),
		"exclusive":  rec.Bool("exclusive"),
		"elevator":   rec.Bool("elevator"),

		"price":         numberOrNil(rec.Number("price")),
		"price_visible": rec.Bool("price_visible"),
		"reference":     rec.Text("reference"),
		"area_build":    numberOrNil(rec.Number("area_build")),
		"area_ground":   numberOrNil(rec.Number("area_ground")),

		"construction_year": numberOrNil(rec.Number("construction_year")),
		"renovation_year":   numberOrNil(rec.Number("renovation_year")),

		"creation":       normalize.CleanDate(rec["creation"]),
		"available_date": normalize.CleanDate(rec["available_date"]),
		"changed":        normalize.CleanDate(rec["changed"]),

		"description_short": normalize.StripHTML(rec.Text("description_short")),
		"description_full":  normalize.StripHTML(rec.Text("description")),

		"photo_url":     rec.Text("photo_url"),
		"photo_gallery": joinPhotoURLs(rec.List("photos")),

		"company_id": numberOrNil(rec.Number("company_id")),
	}

	if personID, ok := rec.Int("responsible_salesrep_person_id"); ok {
		fields["responsible_salesrep_person_id"] = personID
	}

	fields["child_properties"] = encodeChildProperties(rec["child_properties"])

	m.applyDictionaryFields(ctx, rec, fields)
	m.applyEnergyFields(rec, fields)
	applyAddressFields(ctx, m.dicts, rec, fields)
	applyFileFields(rec, fields)
	applyVideoFields(rec, fields)
	m.applyLayoutSummary(ctx, id, rec, fields)

	return id, fields, nil
}

// MapAgent flattens one person record into an agent row. Returns the person
// id and the staging column values.
func (m *Mapper) MapAgent(rec source.Record) (int, map[string]any, error) {
	id, ok := rec.NaturalID()
	if !ok {
		return 0, nil, ErrMissingNaturalKey
	}

	first := rec.Text("first_name")
	last := rec.Text("last_name")
	name := strings.TrimSpace(first + " " + last)
	if name == "" {
		name = fmt.Sprintf("agent-%d", id)
	}

	return id, map[string]any{
		"name":       name,
		"slug":       fmt.Sprintf("agent-%d", id),
		"person_id":  id,
		"first_name": first,
		"last_name":  last,
		"email":      rec.Text("email"),
		"phone":      rec.Text("phone"),
		"mobile":     rec.Text("mobile"),
		"photo_url":  rec.Text("photo_url"),
		"function":   rec.Text("function"),
	}, nil
}

func (m *Mapper) applyDictionaryFields(ctx context.Context, rec source.Record, fields map[string]any) {
	decode := func(field string, cat dicts.Category) string {
		id, ok := rec.Int(field)
		if !ok {
			return normalize.NA
		}
		return m.dicts.Resolve(ctx, cat, id)
	}

	fields["type"] = decode("type_id", dicts.Types)
	fields["subtype"] = decode("subtype_id", dicts.Subtypes)
	fields["status"] = decode("status_id", dicts.Statuses)
	fields["state"] = decode("state_id", dicts.States)
	fields["heating"] = decode("heating_id", dicts.Heating)

	fields["facilities"] = m.decodeLabelList(ctx, rec.List("facilities"), "facility_id", dicts.Facilities, dicts.TranslateFacility)
	fields["environments"] = m.decodeLabelList(ctx, rec.List("environments"), "environment_id", dicts.Environments, dicts.TranslateEnvironment)

	// Technical installations have no tag collection downstream; the decoded
	// labels travel as one text column.
	identity := func(label string) string { return label }
	if technicals := m.decodeLabelList(ctx, rec.List("technicals"), "technical_id", dicts.Technicals, identity); len(technicals) > 0 {
		fields["technicals"] = strings.Join(technicals, ", ")
	}
}

// decodeLabelList resolves a sub-list of id references into a deduplicated
// list of canonical labels. Unresolvable entries are dropped, not kept as
// sentinels, so a multi-select never contains N/A.
func (m *Mapper) decodeLabelList(ctx context.Context, items []map[string]any, idField string, cat dicts.Category, translate func(string) string) []string {
	seen := make(map[string]struct{}, len(items))
	labels := make([]string, 0, len(items))

	for _, item := range items {
		id, ok := normalize.ParseInt(item[idField])
		if !ok {
			id, ok = normalize.ParseInt(item["id"])
		}
		if !ok {
			continue
		}

		label := m.dicts.Resolve(ctx, cat, id)
		if label == normalize.NA {
			continue
		}
		label = translate(label)

		key := strings.ToLower(label)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		labels = append(labels, label)
	}
	return labels
}

func (m *Mapper) applyEnergyFields(rec source.Record, fields map[string]any) {
	score := rec.Number("epc_value")
	fields["epc_value"] = numberOrNil(score)
	fields["epc_reference"] = rec.Text("epc_reference")
	fields["epc_date"] = normalize.CleanDate(rec["epc_date"])

	// An explicitly entered label wins; otherwise derive one from the score.
	label := rec.Text("custom_epc_label")
	if label == "" && score != nil {
		label = normalize.EPCLabel(*score)
	}
	if label == "" {
		label = normalize.NA
	}
	fields["custom_epc_label"] = label
}

func applyAddressFields(ctx context.Context, resolver *dicts.Resolver, rec source.Record, fields map[string]any) {
	address, _ := rec["address"].(map[string]any)
	addr := source.Record(address)

	fields["street"] = addr.Text("street")
	fields["number"] = addr.Text("number")
	if box := addr.Text("box"); box != "" {
		fields["box"] = box
	}
	fields["latitude"] = numberOrNil(addr.Number("latitude"))
	fields["longitude"] = numberOrNil(addr.Number("longitude"))

	zip := addr.Text("zip")
	cityName := normalize.NA

	countryID, hasCountry := addr.Int("country_geo_id")
	cityID, hasCity := addr.Int("city_geo_id")
	if hasCountry && hasCity {
		if city, ok := resolver.ResolveCity(ctx, countryID, cityID); ok {
			cityName = city.Name
			if zip == "" {
				zip = city.Zip
			}
		}
	}

	fields["zip"] = zip
	fields["city"] = cityName
}

func applyFileFields(rec source.Record, fields map[string]any) {
	for _, file := range rec.List("files") {
		typeID, ok := normalize.ParseInt(file["type_id"])
		if !ok {
			continue
		}
		column, mapped := fileFieldByType[typeID]
		if !mapped {
			continue
		}
		if url := normalize.Text(file["url"]); url != "" {
			fields[column] = url
		}
	}
}

func applyVideoFields(rec source.Record, fields map[string]any) {
	for _, video := range rec.List("videos") {
		typeID, ok := normalize.ParseInt(video["type_id"])
		if !ok {
			continue
		}
		column, mapped := videoFieldByType[typeID]
		if !mapped {
			continue
		}
		if url := normalize.Text(video["url"]); url != "" {
			fields[column] = url
		}
	}
}

// applyLayoutSummary aggregates the room sub-list into per-room count and
// area columns. Rooms are matched by their dictionary label; unmapped rooms
// are logged and skipped.
func (m *Mapper) applyLayoutSummary(ctx context.Context, propertyID int, rec source.Record, fields map[string]any) {
	for _, layout := range rec.List("layouts") {
		layoutID, ok := normalize.ParseInt(layout["layout_id"])
		if !ok {
			continue
		}

		room := strings.ToLower(strings.TrimSpace(m.dicts.Resolve(ctx, dicts.Layouts, layoutID)))
		columns, mapped := layoutFieldByRoom[room]
		if !mapped {
			m.logger.Debug("Skipped unmapped room layout",
				logger.Int("property_id", propertyID),
				logger.Int("layout_id", layoutID),
				logger.String("room", room),
			)
			continue
		}

		count := normalize.ParseNumber(layout["count"])
		if count == nil {
			count = normalize.ParseNumber(layout["amount"])
		}
		area := normalize.ParseNumber(layout["surface"])
		if area == nil {
			area = normalize.ParseNumber(layout["area"])
		}
		if count == nil && area == nil {
			continue
		}

		addNumber(fields, columns[0], count)
		addNumber(fields, columns[1], area)
	}
}

// numberOrNil widens *float64 into the any-typed column value, keeping the
// explicit null for unknown values.
func numberOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func addNumber(fields map[string]any, column string, v *float64) {
	if v == nil {
		return
	}
	current, _ := fields[column].(float64)
	fields[column] = current + *v
}

func joinPhotoURLs(photos []map[string]any) string {
	urls := make([]string, 0, len(photos))
	for _, photo := range photos {
		if url := normalize.Text(photo["url"]); url != "" {
			urls = append(urls, url)
		}
	}
	return strings.Join(urls, ", ")
}

// encodeChildProperties normalizes the project member list into a JSON array
// of ids. The feed sometimes sends the list pre-encoded as a string.
func encodeChildProperties(raw any) string {
	ids := ChildPropertyIDs(raw)
	if len(ids) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

// ChildPropertyIDs extracts project member ids from the loose upstream
// shapes: a list of ids, a list of objects carrying an id, or a JSON-encoded
// string of either.
func ChildPropertyIDs(raw any) []int {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return nil
		}
		return ChildPropertyIDs(decoded)
	case []any:
		ids := make([]int, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				if id, ok := source.Record(m).NaturalID(); ok {
					ids = append(ids, id)
				}
				continue
			}
			if id, ok := normalize.ParseInt(item); ok {
				ids = append(ids, id)
			}
		}
		return ids
	default:
		return nil
	}
}
