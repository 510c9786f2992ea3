package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immoflow/propsync/internal/staging"
)

func stagedRow() staging.Record {
	return staging.Record{
		ID: "rec500",
		Fields: map[string]any{
			"external_id": float64(500),
			"slug":        "property-500",
			"name":        "property-500",
			"publish":     true,
			"show":        true,

			"price":  float64(425000),
			"type":   "Woning",
			"status": "Te koop",

			"street": "Veldstraat",
			"number": "12",
			"zip":    "9000",
			"city":   "Gent",

			"custom_epc_label": "B",
			"epc_value":        float64(150),

			"photo_gallery": "https://img.example/1.jpg",
			"file_epc":      "https://files.example/epc.pdf",

			"bedrooms":     float64(3),
			"bedroom_area": float64(42),
			"gardens":      float64(1),
			"garden_area":  float64(120),

			"heating":  "Gas",
			"elevator": false,

			"facilities":   []any{"Garage", "Zwembad"},
			"environments": []any{"Stadscentrum"},

			"responsible_salesrep_person_id": float64(9),
			"agent":                          []any{"recAgent9"},

			"is_project":       true,
			"child_properties": "[501,502]",
		},
	}
}

func TestDecomposePartitionsFields(t *testing.T) {
	d, err := Decompose(stagedRow())
	require.NoError(t, err)

	assert.Equal(t, "property-500", d.Slug)
	assert.Equal(t, 500, d.ExternalID)

	// Every payload shares the property's natural key.
	for kind, payload := range d.Payloads {
		assert.Equal(t, "property-500", payload["slug"], "kind %s", kind)
	}

	assert.Equal(t, "Veldstraat", d.Payloads[KindLocation]["street"])
	assert.Equal(t, "B", d.Payloads[KindLegal]["custom_epc_label"])
	assert.Equal(t, "https://files.example/epc.pdf", d.Payloads[KindFilesLinks]["file_epc"])
	assert.Equal(t, 3.0, d.Payloads[KindLayoutInside]["bedrooms"])
	assert.Equal(t, 1.0, d.Payloads[KindLayoutOutside]["gardens"])
	assert.Equal(t, "Gas", d.Payloads[KindComfort]["heating"])
	assert.Equal(t, 425000.0, d.Payloads[KindProperty]["price"])
	assert.Equal(t, 500, d.Payloads[KindProperty]["external_id"])

	// Columns stay in their own collection.
	_, leaked := d.Payloads[KindProperty]["street"]
	assert.False(t, leaked)
	_, leaked = d.Payloads[KindLocation]["price"]
	assert.False(t, leaked)
}

func TestDecomposeCarriesResolverInputs(t *testing.T) {
	d, err := Decompose(stagedRow())
	require.NoError(t, err)

	assert.Equal(t, []string{"Garage", "Zwembad"}, d.FacilityLabels)
	assert.Equal(t, []string{"Stadscentrum"}, d.EnvironmentLabels)
	assert.Equal(t, 9, d.AgentPersonID)
	assert.Equal(t, []string{"recAgent9"}, d.AgentRefs)
	assert.True(t, d.IsProject)
	assert.Equal(t, []int{501, 502}, d.MemberIDs)
}

func TestDecomposeAcceptsLegacyLabelText(t *testing.T) {
	// Rows staged by older deployments carry the label lists as one
	// comma-joined text column.
	row := stagedRow()
	row.Fields["facilities"] = "Garage, Zwembad"
	row.Fields["environments"] = "Stadscentrum\nLandelijk"

	d, err := Decompose(row)
	require.NoError(t, err)

	assert.Equal(t, []string{"Garage", "Zwembad"}, d.FacilityLabels)
	assert.Equal(t, []string{"Stadscentrum", "Landelijk"}, d.EnvironmentLabels)
}

func TestDecomposeDerivesSlugWhenMissing(t *testing.T) {
	d, err := Decompose(staging.Record{
		ID:     "rec1",
		Fields: map[string]any{"external_id": float64(77)},
	})
	require.NoError(t, err)
	assert.Equal(t, "property-77", d.Slug)
	assert.Equal(t, "property-77", d.Payloads[KindProperty]["name"])
}

func TestDecomposeMissingNaturalKey(t *testing.T) {
	_, err := Decompose(staging.Record{ID: "recX", Fields: map[string]any{"name": "orphan"}})
	assert.ErrorIs(t, err, staging.ErrMissingNaturalKey)
}
