package routine

import (
	"context"
	"regexp"

	"github.com/seattleflu/id3c-sub000/internal/domain/receiving"
	"github.com/seattleflu/id3c-sub000/internal/domain/warehouse"
	"github.com/seattleflu/id3c-sub000/internal/engine"
)

const manifestRevision = 1

var (
	manifestSampleSets     = []string{"samples"}
	manifestRDTSets        = []string{"collections-fluathome.org"}
	manifestCollectionSets = []string{
		"collections-environmental",
		"collections-fluathome.org",
		"collections-household-intervention",
		"collections-household-observation",
		"collections-kiosks",
		"collections-seattleflu.org",
		"collections-swab&send",
	}

	// Retrospective samples from these origins never carry a collection
	// barcode.
	retrospectiveOrigin = regexp.MustCompile(`^(uwmc|nwh|hmc)_retro`)
)

// Manifest creates or updates samples from sample manifest records. The
// barcodes are replaced with their UUIDs and everything else in the record
// becomes sample details.
func Manifest(deps Deps) *engine.Routine {
	logger := deps.Logger.With().Str("routine", "manifest").Logger()

	transform := func(ctx context.Context, doc *receiving.Document) (engine.Outcome, error) {
		var record map[string]any
		if err := doc.Decode(&record); err != nil {
			return engine.Outcome{}, err
		}

		sampleBarcode, _ := record["sample"].(string)
		delete(record, "sample")
		sample, err := lookup(ctx, deps.Identifiers, sampleBarcode)
		if err != nil {
			return engine.Outcome{}, err
		}
		if sample == nil {
			logger.Warn().Str("barcode", sampleBarcode).Msg("skipping sample with unknown sample barcode")
			return engine.SkippedBecause("unknown sample barcode"), nil
		}

		expected := manifestSampleSets
		if t, _ := record["sample_type"].(string); t == "rdt" {
			expected = manifestRDTSets
		}
		if err := checkSet(sample, sampleBarcode, expected); err != nil {
			return engine.Outcome{}, err
		}

		collectionBarcode, _ := record["collection"].(string)
		delete(record, "collection")
		origin, _ := record["sample_origin"].(string)

		if collectionBarcode == "" && !retrospectiveOrigin.MatchString(origin) {
			logger.Info().Str("barcode", sampleBarcode).Msg("skipping non-retrospective sample without a collection barcode")
			return engine.SkippedBecause("missing collection barcode"), nil
		}

		in := warehouse.SampleInput{
			Identifier:        ptr(sample.UUID.String()),
			Details:           warehouse.Details(record),
			UpdateIdentifiers: true,
		}

		if collectionBarcode != "" {
			collection, err := lookup(ctx, deps.Identifiers, collectionBarcode)
			if err != nil {
				return engine.Outcome{}, err
			}
			if collection == nil {
				logger.Warn().Str("barcode", collectionBarcode).Msg("skipping sample with unknown collection barcode")
				return engine.SkippedBecause("unknown collection barcode"), nil
			}
			if err := checkSet(collection, collectionBarcode, manifestCollectionSets); err != nil {
				return engine.Outcome{}, err
			}
			in.CollectionIdentifier = ptr(collection.UUID.String())
		}

		row, res, err := deps.Warehouse.UpsertSample(ctx, in)
		if err != nil {
			return engine.Outcome{}, err
		}
		return engine.Processed(map[string]any{
			"result":    string(res.Status),
			"sample_id": row.ID,
		}), nil
	}

	return &engine.Routine{
		Name:        "manifest",
		Description: "Create or update samples from sample manifest records",
		Table:       receiving.Manifest,
		Revision:    manifestRevision,
		Transform:   transform,
	}
}
