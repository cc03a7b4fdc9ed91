package warehouse

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tracts = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "id": 53033005302,
      "geometry": {"type": "Polygon", "coordinates": [[[-122.3, 47.6], [-122.2, 47.6], [-122.2, 47.7], [-122.3, 47.6]]]},
      "properties": {"scale": "Tract", "hierarchy": "State => 53, County => 53033"}
    },
    {
      "type": "Feature",
      "id": "53033005400",
      "geometry": null,
      "properties": {"scale": "tract", "hierarchy": {"county": "53033"}}
    }
  ]
}`

func TestReadLocationFeatures(t *testing.T) {
	got, err := ReadLocationFeatures(strings.NewReader(tracts), FeatureOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, LocationFeature{
		Scale:      "Tract",
		Identifier: "53033005302",
		Hierarchy:  Hierarchy{"state": "53", "county": "53033"},
	}, got[0])
	assert.Equal(t, "53033005400", got[1].Identifier)
	assert.Equal(t, Hierarchy{"county": "53033"}, got[1].Hierarchy)
}

func TestReadLocationFeatures_Options(t *testing.T) {
	doc := `{"type": "FeatureCollection", "features": [
		{"type": "Feature", "properties": {"GEOID": "53033", "NAME": "King"}}
	]}`
	got, err := ReadLocationFeatures(strings.NewReader(doc), FeatureOptions{
		Scale:          "county",
		IdentifierFrom: "GEOID",
		Hierarchy:      Hierarchy{"state": "53"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, LocationFeature{Scale: "county", Identifier: "53033", Hierarchy: Hierarchy{"state": "53"}}, got[0])
}

func TestReadLocationFeatures_Errors(t *testing.T) {
	tests := map[string]string{
		"not a collection": `{"type": "Feature"}`,
		"missing scale":    `{"type": "FeatureCollection", "features": [{"id": "x", "properties": {}}]}`,
		"missing id":       `{"type": "FeatureCollection", "features": [{"properties": {"scale": "tract"}}]}`,
		"bad hierarchy":    `{"type": "FeatureCollection", "features": [{"id": "x", "properties": {"scale": "tract", "hierarchy": "state"}}]}`,
		"not json":         `type: FeatureCollection`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadLocationFeatures(strings.NewReader(doc), FeatureOptions{})
			assert.Error(t, err)
		})
	}
}

func TestParseHierarchy(t *testing.T) {
	h, err := ParseHierarchy("Country => US, state=>WA,")
	require.NoError(t, err)
	assert.Equal(t, Hierarchy{"country": "US", "state": "WA"}, h)

	h, err = ParseHierarchy("")
	require.NoError(t, err)
	assert.Empty(t, h)

	_, err = ParseHierarchy("country => ")
	assert.Error(t, err)
}

func TestImportLocations_MakesTractsFindable(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.FindLocation(ctx, "tract", "53033005302")
	require.True(t, errors.Is(err, ErrNotFound), "fresh store has no tracts")

	features, err := ReadLocationFeatures(strings.NewReader(tracts), FeatureOptions{})
	require.NoError(t, err)

	st, err := svc.ImportLocations(ctx, features)
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Created: 2}, st)

	tract, err := svc.FindLocation(ctx, "tract", "53033005302")
	require.NoError(t, err)
	assert.Equal(t, Hierarchy{"state": "53", "county": "53033", "tract": "53033005302"}, tract.Hierarchy)

	st, err = svc.ImportLocations(ctx, features)
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Unchanged: 2}, st)
}
