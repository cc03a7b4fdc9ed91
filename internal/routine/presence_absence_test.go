package routine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seattleflu/id3c-sub000/internal/domain/receiving"
)

func labDocument(barcode string, chip any, results ...map[string]any) map[string]any {
	s := map[string]any{
		"sampleId":                       222,
		"investigatorId":                 barcode,
		"isCurrentExpressionResult":      true,
		"targetResults":                  results,
		"sampleComment":                  nil,
		"initialProceedToSequencingCall": true,
		"sampleProceedToSequencing":      false,
		"assayType":                      "Research",
	}
	if chip != nil {
		s["chip"] = chip
	}
	return map[string]any{"samples": []any{s}}
}

func result(target, status string) map[string]any {
	return map[string]any{
		"geneTarget":    target,
		"targetStatus":  status,
		"controlStatus": "NotControl",
		"wellResults":   []any{"pos", "pos"},
	}
}

func TestPresenceAbsence_LoadsResults(t *testing.T) {
	deps, ids, wh := newDeps()
	sample := ids.add("samples")
	r := PresenceAbsence(deps)

	doc := document(t, receiving.PresenceAbsence, labDocument(sample.Barcode, "C1",
		result("Flu_A_pan", "Detected"),
		result("RSVA", "NotDetected"),
		result("HRV", "Inconclusive"),
		result("Cov", "Repeat"),
	))
	out, err := r.Transform(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, receiving.StatusProcessed, out.Status())

	require.Len(t, wh.samples, 1)
	assert.Equal(t, sample.UUID.String(), *wh.samples[0].Identifier)
	assert.Equal(t, []any{"222"}, wh.samples[0].Details["nwgc_id"])

	require.Len(t, wh.results, 3, "workflow statuses are not results")
	flu := wh.results["NWGC/222/Flu_A_pan/C1"]
	require.NotNil(t, flu)
	assert.True(t, *flu.Present)
	assert.False(t, *wh.results["NWGC/222/RSVA/C1"].Present)
	assert.Nil(t, wh.results["NWGC/222/HRV/C1"].Present)
	assert.Equal(t, "OpenArray", flu.Details["device"])
	assert.Equal(t, "Research", flu.Details["assay_type"])

	_, err = r.Transform(context.Background(), doc)
	require.NoError(t, err)
	assert.Len(t, wh.results, 3)
	assert.Equal(t, []any{"222"}, wh.samples[0].Details["nwgc_id"])
}

func TestPresenceAbsence_TinySwabUsesCollectionIdentifier(t *testing.T) {
	deps, ids, wh := newDeps()
	swab := ids.add("collections-scan-tiny-swabs")

	_, err := PresenceAbsence(deps).Transform(context.Background(),
		document(t, receiving.PresenceAbsence, labDocument(swab.Barcode, nil, result("Flu_A_pan", "Positive"))))
	require.NoError(t, err)
	require.Len(t, wh.samples, 1)
	assert.Nil(t, wh.samples[0].Identifier)
	assert.Equal(t, swab.UUID.String(), *wh.samples[0].CollectionIdentifier)
	assert.Contains(t, wh.results, "NWGC/222/Flu_A_pan")
}

func TestPresenceAbsence_OldFormatSkipped(t *testing.T) {
	deps, _, _ := newDeps()
	out, err := PresenceAbsence(deps).Transform(context.Background(),
		document(t, receiving.PresenceAbsence, map[string]any{"store": map[string]any{}}))
	require.NoError(t, err)
	assert.Equal(t, receiving.StatusSkipped, out.Status())

	_, err = PresenceAbsence(deps).Transform(context.Background(),
		document(t, receiving.PresenceAbsence, map[string]any{"other": 1}))
	assert.Error(t, err)
}

func TestPresenceAbsence_SkipsUnusableSamples(t *testing.T) {
	deps, ids, wh := newDeps()
	known := ids.add("samples")

	notCurrent := labDocument(known.Barcode, nil, result("Flu_A_pan", "Detected"))
	notCurrent["samples"].([]any)[0].(map[string]any)["isCurrentExpressionResult"] = false

	failed := labDocument(known.Barcode, nil, result("Flu_A_pan", "Detected"))
	failed["samples"].([]any)[0].(map[string]any)["sampleFailed"] = true

	for name, body := range map[string]map[string]any{
		"no barcode":      labDocument("", nil, result("Flu_A_pan", "Detected")),
		"unknown barcode": labDocument("00000000", nil, result("Flu_A_pan", "Detected")),
		"no results":      labDocument(known.Barcode, nil),
		"not current":     notCurrent,
		"failed":          failed,
	} {
		out, err := PresenceAbsence(deps).Transform(context.Background(), document(t, receiving.PresenceAbsence, body))
		require.NoError(t, err, name)
		assert.Equal(t, receiving.StatusProcessed, out.Status(), name)
	}
	assert.Empty(t, wh.samples)
	assert.Empty(t, wh.results)
}

func TestPresenceAbsence_Errors(t *testing.T) {
	deps, ids, _ := newDeps()
	known := ids.add("samples")
	wrongSet := ids.add("collections-kiosks")

	badControl := result("Flu_A_pan", "Detected")
	badControl["controlStatus"] = "Maybe"

	tests := map[string]map[string]any{
		"wrong set":       labDocument(wrongSet.Barcode, nil, result("Flu_A_pan", "Detected")),
		"unknown status":  labDocument(known.Barcode, nil, result("Flu_A_pan", "Sparkly")),
		"unknown control": labDocument(known.Barcode, nil, badControl),
		"empty chip":      labDocument(known.Barcode, "", result("Flu_A_pan", "Detected")),
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := PresenceAbsence(deps).Transform(context.Background(), document(t, receiving.PresenceAbsence, body))
			assert.Error(t, err)
		})
	}
}

func TestMergeNWGCIDs(t *testing.T) {
	assert.Equal(t, []any{"1", "2"}, mergeNWGCIDs("1", []any{"2"}))
	assert.Equal(t, []any{"1", "2"}, mergeNWGCIDs([]any{"2", "1"}, []any{"1"}))
	assert.Equal(t, []any{"3"}, mergeNWGCIDs(nil, []any{"3"}))
}
