package routine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/seattleflu/id3c-sub000/internal/domain/receiving"
	"github.com/seattleflu/id3c-sub000/internal/domain/warehouse"
	"github.com/seattleflu/id3c-sub000/internal/engine"
	"github.com/seattleflu/id3c-sub000/internal/platform/fhir"
)

const clinicalRevision = 1

var clinicalSites = map[string]string{
	"UWMC": "RetrospectiveUWMedicalCenter",
	"HMC":  "RetrospectiveHarborview",
	"NWH":  "RetrospectiveNorthwest",
	"UWNC": "RetrospectiveUWMedicalCenter",
	"SCH":  "RetrospectiveChildrensHospitalSeattle",
	"KP":   "KaiserPermanente",
}

type clinicalRecord struct {
	Barcode     string       `json:"barcode"`
	Individual  string       `json:"individual"`
	Identifier  string       `json:"identifier"`
	Site        string       `json:"site"`
	Encountered string       `json:"encountered"`
	Age         *float64     `json:"age"`
	Sex         any          `json:"AssignedSex"`
	CensusTract *json.Number `json:"census_tract"`
}

// Clinical loads flat records extracted from clinical systems: each one is
// an encounter at a retrospective site, linked to an already known sample.
func Clinical(deps Deps) *engine.Routine {
	logger := deps.Logger.With().Str("routine", "clinical").Logger()

	transform := func(ctx context.Context, doc *receiving.Document) (engine.Outcome, error) {
		var rec clinicalRecord
		if err := doc.Decode(&rec); err != nil {
			return engine.Outcome{}, err
		}

		id, err := lookup(ctx, deps.Identifiers, rec.Barcode)
		if err != nil {
			return engine.Outcome{}, err
		}
		if id == nil {
			logger.Info().Str("barcode", rec.Barcode).Msg("skipping due to unknown barcode")
			return engine.SkippedBecause("unknown barcode"), nil
		}
		sample, err := deps.Warehouse.FindSample(ctx, id.UUID.String(), true)
		if errors.Is(err, warehouse.ErrNotFound) {
			logger.Info().Str("identifier", id.UUID.String()).Msg("skipping due to missing sample")
			return engine.SkippedBecause("sample not found"), nil
		}
		if err != nil {
			return engine.Outcome{}, err
		}

		siteID, err := clinicalSite(rec.Site)
		if err != nil {
			return engine.Outcome{}, err
		}
		site, _, err := deps.Warehouse.FindOrCreateSite(ctx, siteID, warehouse.Details{"type": "retrospective"})
		if err != nil {
			return engine.Outcome{}, err
		}

		sex := clinicalSex(rec.Sex)
		individual, _, err := deps.Warehouse.UpsertIndividual(ctx, rec.Individual, &sex, nil)
		if err != nil {
			return engine.Outcome{}, err
		}

		encountered, err := fhir.ParseDateTime(rec.Encountered)
		if err != nil {
			return engine.Outcome{}, err
		}
		var age pgtype.Interval
		if rec.Age != nil {
			age = warehouse.AgeFromYears(*rec.Age)
		}
		encounter, _, err := deps.Warehouse.UpsertEncounter(ctx, warehouse.EncounterInput{
			Identifier:   rec.Identifier,
			IndividualID: individual.ID,
			SiteID:       site.ID,
			Encountered:  encountered,
			Age:          age,
			Details:      clinicalDetails(rec, sex),
		})
		if err != nil {
			return engine.Outcome{}, err
		}

		if _, _, err := deps.Warehouse.SetSampleEncounter(ctx, sample.ID, encounter.ID); err != nil {
			return engine.Outcome{}, err
		}

		if rec.CensusTract != nil {
			// Earlier extracts wrote tracts as floats.
			tractID := strings.TrimSuffix(rec.CensusTract.String(), ".0")
			tract, err := deps.Warehouse.FindLocation(ctx, "tract", tractID)
			if err != nil {
				return engine.Outcome{}, fmt.Errorf("tract %s: %w", tractID, err)
			}
			if _, _, err := deps.Warehouse.UpsertEncounterLocation(ctx, encounter.ID, "residence", tract.ID); err != nil {
				return engine.Outcome{}, err
			}
		}

		return engine.Processed(nil), nil
	}

	return &engine.Routine{
		Name:        "clinical",
		Description: "Load retrospective clinical records into the warehouse",
		Table:       receiving.Clinical,
		Revision:    clinicalRevision,
		Transform:   transform,
	}
}

func clinicalSite(name string) (string, error) {
	if name == "" {
		return "Unknown", nil
	}
	site, ok := clinicalSites[strings.ToUpper(name)]
	if !ok {
		return "", fmt.Errorf("unknown site name %q", name)
	}
	return site, nil
}

func clinicalSex(v any) string {
	switch s := v.(type) {
	case string:
		switch strings.ToUpper(s) {
		case "M":
			return "male"
		case "F":
			return "female"
		}
	case float64:
		switch s {
		case 1:
			return "male"
		case 0:
			return "female"
		}
	}
	return "other"
}

func clinicalDetails(rec clinicalRecord, sex string) warehouse.Details {
	d := warehouse.Details{
		"responses": map[string]any{"AssignedSex": []string{sex}},
	}
	if rec.Age != nil {
		years := math.Ceil(*rec.Age)
		d["age"] = map[string]any{
			"value":         math.Min(years, 90),
			"ninetyOrAbove": years >= 90,
		}
	}
	if rec.CensusTract != nil {
		d["locations"] = map[string]any{"home": map[string]any{"region": rec.CensusTract.String()}}
	}
	return d
}
