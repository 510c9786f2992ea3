package staging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immoflow/propsync/internal/dicts"
	"github.com/immoflow/propsync/internal/logger"
	"github.com/immoflow/propsync/internal/source"
)

type staticVocab struct {
	vocab  map[string][]source.VocabEntry
	cities map[int][]source.VocabEntry
}

func (s staticVocab) Vocabulary(_ context.Context, path string) ([]source.VocabEntry, error) {
	return s.vocab[path], nil
}

func (s staticVocab) Cities(_ context.Context, countryID int) ([]source.VocabEntry, error) {
	return s.cities[countryID], nil
}

func nlEntry(id int, label string) source.VocabEntry {
	return source.VocabEntry{ID: id, Name: source.LocalizedLabel{NL: label}}
}

func testMapper() *Mapper {
	resolver := dicts.NewResolver(staticVocab{
		vocab: map[string][]source.VocabEntry{
			"property/types":        {nlEntry(4, "Woning")},
			"property/subtypes":     {nlEntry(12, "Rijwoning")},
			"property/statuses":     {nlEntry(2, "Te koop")},
			"property/states":       {nlEntry(1, "Uitstekend")},
			"property/heatings":     {nlEntry(3, "Gas")},
			"property/facilities":   {nlEntry(7, "Garage"), nlEntry(8, "garage"), nlEntry(9, "swimming pool")},
			"property/environments": {nlEntry(5, "city center")},
			"property/technicals":   {nlEntry(31, "Zonnepanelen"), nlEntry(32, "Warmtepomp")},
			"property/layouts":      {nlEntry(21, "Slaapkamer"), nlEntry(22, "Bathroom"), nlEntry(23, "Wintertuin")},
		},
		cities: map[int][]source.VocabEntry{
			23: {{ID: 100, Name: source.LocalizedLabel{NL: "Gent"}, Zip: "9000"}},
		},
	}, logger.NewNopLogger())
	return NewMapper(resolver, logger.NewNopLogger())
}

func sampleProperty() source.Record {
	return source.Record{
		"id":      float64(500),
		"publish": true,
		"show":    true,
		"price":   float64(425000),
		"address": map[string]any{
			"street":         "Veldstraat",
			"number":         "12",
			"box":            "B",
			"country_geo_id": float64(23),
			"city_geo_id":    float64(100),
		},
		"type_id":    float64(4),
		"subtype_id": float64(12),
		"status_id":  float64(2),
		"state_id":   float64(1),
		"heating_id": float64(3),
		"epc_value":  float64(150),
		"facilities": []any{
			map[string]any{"facility_id": float64(7)},
			map[string]any{"facility_id": float64(8)},
			map[string]any{"facility_id": float64(9)},
		},
		"environments": []any{
			map[string]any{"environment_id": float64(5)},
		},
		"technicals": []any{
			map[string]any{"technical_id": float64(31)},
			map[string]any{"technical_id": float64(32)},
			map[string]any{"technical_id": float64(999)},
		},
		"layouts": []any{
			map[string]any{"layout_id": float64(21), "count": float64(2), "surface": float64(14)},
			map[string]any{"layout_id": float64(21), "count": float64(1), "surface": float64(9)},
			map[string]any{"layout_id": float64(22), "count": float64(1)},
			map[string]any{"layout_id": float64(23), "count": float64(1)},
		},
		"files": []any{
			map[string]any{"type_id": float64(45), "url": "https://files.example/epc.pdf"},
			map[string]any{"type_id": float64(999), "url": "https://files.example/other.pdf"},
		},
		"videos": []any{
			map[string]any{"type_id": float64(1), "url": "https://video.example/v1"},
			map[string]any{"type_id": float64(2), "url": "https://video.example/tour"},
		},
		"photos": []any{
			map[string]any{"url": "https://img.example/1.jpg"},
			map[string]any{"url": "https://img.example/2.jpg"},
		},
		"description": "<p>Ruime woning&nbsp;met tuin</p>",
	}
}

func TestMapPropertyFlattensRecord(t *testing.T) {
	id, fields, err := testMapper().MapProperty(context.Background(), sampleProperty())
	require.NoError(t, err)
	assert.Equal(t, 500, id)

	assert.Equal(t, "property-500", fields["name"])
	assert.Equal(t, "property-500", fields["slug"])
	assert.Equal(t, 500, fields["external_id"])
	assert.Equal(t, 425000.0, fields["price"])

	assert.Equal(t, "Woning", fields["type"])
	assert.Equal(t, "Rijwoning", fields["subtype"])
	assert.Equal(t, "Te koop", fields["status"])
	assert.Equal(t, "Gas", fields["heating"])

	assert.Equal(t, "Veldstraat", fields["street"])
	assert.Equal(t, "B", fields["box"])
	assert.Equal(t, "Gent", fields["city"])
	assert.Equal(t, "9000", fields["zip"], "zip falls back to the city table")

	assert.Equal(t, "Ruime woning met tuin", fields["description_full"])
	assert.Equal(t, "https://img.example/1.jpg, https://img.example/2.jpg", fields["photo_gallery"])
}

func TestMapPropertyDeduplicatesFacilityLabels(t *testing.T) {
	_, fields, err := testMapper().MapProperty(context.Background(), sampleProperty())
	require.NoError(t, err)

	// "Garage" and "garage" fold to one label; "swimming pool" is folded to
	// its canonical Dutch form.
	assert.Equal(t, []string{"Garage", "Zwembad"}, fields["facilities"])
	assert.Equal(t, []string{"Stadscentrum"}, fields["environments"])
}

func TestMapPropertyJoinsTechnicals(t *testing.T) {
	_, fields, err := testMapper().MapProperty(context.Background(), sampleProperty())
	require.NoError(t, err)

	// Unresolvable id 999 is dropped; the rest travel as one text column.
	assert.Equal(t, "Zonnepanelen, Warmtepomp", fields["technicals"])

	rec := sampleProperty()
	delete(rec, "technicals")
	_, fields, err = testMapper().MapProperty(context.Background(), rec)
	require.NoError(t, err)
	_, present := fields["technicals"]
	assert.False(t, present)
}

func TestMapPropertyAggregatesLayouts(t *testing.T) {
	_, fields, err := testMapper().MapProperty(context.Background(), sampleProperty())
	require.NoError(t, err)

	assert.Equal(t, 3.0, fields["bedrooms"])
	assert.Equal(t, 23.0, fields["bedroom_area"])
	assert.Equal(t, 1.0, fields["bathrooms"])

	// "Wintertuin" has no column mapping and is skipped.
	_, present := fields["wintertuin"]
	assert.False(t, present)
}

func TestMapPropertyRoutesFilesAndVideos(t *testing.T) {
	_, fields, err := testMapper().MapProperty(context.Background(), sampleProperty())
	require.NoError(t, err)

	assert.Equal(t, "https://files.example/epc.pdf", fields["file_epc"])
	_, unmapped := fields["file_999"]
	assert.False(t, unmapped)

	assert.Equal(t, "https://video.example/v1", fields["video_link"])
	assert.Equal(t, "https://video.example/tour", fields["virtual_tour_link"])
}

func TestMapPropertyDerivesEPCLabel(t *testing.T) {
	rec := sampleProperty()

	_, fields, err := testMapper().MapProperty(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "B", fields["custom_epc_label"], "score 150 derives a B label")

	rec["custom_epc_label"] = "A+"
	_, fields, err = testMapper().MapProperty(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "A+", fields["custom_epc_label"], "explicit label wins")

	delete(rec, "custom_epc_label")
	delete(rec, "epc_value")
	_, fields, err = testMapper().MapProperty(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "N/A", fields["custom_epc_label"])
	assert.Nil(t, fields["epc_value"], "unknown score stays null, not zero")
}

func TestMapPropertyMissingNaturalKey(t *testing.T) {
	_, _, err := testMapper().MapProperty(context.Background(), source.Record{"publish": true})
	assert.ErrorIs(t, err, ErrMissingNaturalKey)
}

func TestMapAgent(t *testing.T) {
	id, fields, err := testMapper().MapAgent(source.Record{
		"id":         float64(9),
		"first_name": "An",
		"last_name":  "Peeters",
		"email":      "an@example.be",
	})
	require.NoError(t, err)

	assert.Equal(t, 9, id)
	assert.Equal(t, "An Peeters", fields["name"])
	assert.Equal(t, "agent-9", fields["slug"])
	assert.Equal(t, 9, fields["person_id"])
}

func TestChildPropertyIDs(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want []int
	}{
		{name: "id list", raw: []any{float64(501), float64(502)}, want: []int{501, 502}},
		{name: "object list", raw: []any{map[string]any{"property_id": float64(501)}}, want: []int{501}},
		{name: "json string", raw: "[501,502]", want: []int{501, 502}},
		{name: "empty string", raw: "", want: nil},
		{name: "garbage string", raw: "not json", want: nil},
		{name: "absent", raw: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChildPropertyIDs(tt.raw))
		})
	}
}
