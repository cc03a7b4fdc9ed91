package routine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/seattleflu/id3c-sub000/internal/domain/receiving"
	"github.com/seattleflu/id3c-sub000/internal/domain/warehouse"
	"github.com/seattleflu/id3c-sub000/internal/engine"
	"github.com/seattleflu/id3c-sub000/internal/platform/fhir"
)

const (
	fhirRevision = 1

	internalSystem         = "https://seattleflu.org"
	locationRelationSystem = "http://terminology.hl7.org/CodeSystem/v3-RoleCode"
	targetSystem           = "http://snomed.info/sct"

	maxReportedAge = 85.0
)

var locationRelations = map[string]string{
	"HUSCS":  "site",
	"PTRES":  "residence",
	"PTLDG":  "lodging",
	"WORK":   "work",
	"SCHOOL": "school",
}

var errInsufficientEncounter = errors.New("encounter lacks an individual or a site")

// FHIR loads collection bundles: patients, encounters with their sites,
// locations and specimens, and diagnostic reports with their results.
func FHIR(deps Deps) *engine.Routine {
	return &engine.Routine{
		Name:        "fhir",
		Description: "Load FHIR collection bundles into the warehouse",
		Table:       receiving.FHIR,
		Revision:    fhirRevision,
		Transform: func(ctx context.Context, doc *receiving.Document) (engine.Outcome, error) {
			l := &fhirLoader{deps: deps}
			return l.load(ctx, doc)
		},
	}
}

type fhirLoader struct {
	deps   Deps
	bundle *fhir.Bundle
}

func (l *fhirLoader) load(ctx context.Context, doc *receiving.Document) (engine.Outcome, error) {
	bundle, err := fhir.ParseBundle(doc.Body, "collection")
	if err != nil {
		return engine.Outcome{}, err
	}
	l.bundle = bundle
	if err := requireResourceTypes(bundle.ByType()); err != nil {
		return engine.Outcome{}, err
	}

	for i := range bundle.Entry {
		entry := &bundle.Entry[i]
		r := entry.Parsed()
		switch r.ResourceType {
		case "Encounter":
			if err := l.encounter(ctx, entry.FullURL, r); err != nil {
				if errors.Is(err, errInsufficientEncounter) {
					l.deps.Logger.Warn().Str("routine", "fhir").Int64("id", doc.ID).Msg("skipping encounter with insufficient information")
					return engine.SkippedBecause(err.Error()), nil
				}
				return engine.Outcome{}, err
			}
		case "DiagnosticReport":
			if err := l.diagnosticReport(ctx, r); err != nil {
				return engine.Outcome{}, err
			}
		}
	}
	return engine.Processed(nil), nil
}

func requireResourceTypes(byType map[string][]*fhir.Resource) error {
	if len(byType["Specimen"]) == 0 {
		return errors.New("a FHIR bundle requires at least one Specimen")
	}
	if len(byType["Patient"]) == 0 && len(byType["DiagnosticReport"]) == 0 {
		return errors.New("a FHIR bundle requires a Patient or a DiagnosticReport")
	}
	observations := len(byType["Observation"])
	if n := max(len(byType["Patient"]), len(byType["Encounter"])); observations < n {
		return fmt.Errorf("expected at least %d Observations, got %d", n, observations)
	}
	return nil
}

func (l *fhirLoader) encounter(ctx context.Context, url string, enc *fhir.Resource) error {
	related := l.bundle.Referencing(url)

	patient := l.bundle.Resolve(enc.Subject)
	if patient == nil {
		return errInsufficientEncounter
	}
	individualID, err := patient.IdentifierValue(internalSystem + "/individual")
	if err != nil {
		return err
	}
	if individualID == "" {
		return errInsufficientEncounter
	}

	var siteID string
	for _, loc := range enc.Location {
		if id := loc.Location.Identifier; id != nil && id.System == internalSystem+"/site" {
			siteID = id.Value
			break
		}
	}
	if siteID == "" {
		return errInsufficientEncounter
	}

	encounterID, err := enc.IdentifierValue(internalSystem + "/encounter")
	if err != nil {
		return err
	}
	if encounterID == "" {
		return errors.New("encounter has no identifier")
	}
	if enc.Period == nil || enc.Period.Start == "" {
		return fmt.Errorf("encounter %s has no start", encounterID)
	}
	encountered, err := fhir.ParseDateTime(enc.Period.Start)
	if err != nil {
		return err
	}

	var sex *string
	if patient.Gender != "" && patient.Gender != "unknown" {
		sex = ptr(patient.Gender)
	}
	individual, _, err := l.deps.Warehouse.UpsertIndividual(ctx, individualID, sex, nil)
	if err != nil {
		return err
	}
	site, _, err := l.deps.Warehouse.FindOrCreateSite(ctx, siteID, warehouse.Details{})
	if err != nil {
		return err
	}

	details := warehouse.Details{}
	for typ, resources := range related {
		raws := make([]json.RawMessage, len(resources))
		for i, r := range resources {
			raws[i] = r.Raw()
		}
		details[typ] = raws
	}
	if len(enc.Contained) > 0 {
		details["contained"] = enc.Contained
	}

	row, _, err := l.deps.Warehouse.UpsertEncounter(ctx, warehouse.EncounterInput{
		Identifier:   encounterID,
		IndividualID: individual.ID,
		SiteID:       site.ID,
		Encountered:  encountered,
		Age:          encounterAge(related["QuestionnaireResponse"]),
		Details:      details,
	})
	if err != nil {
		return err
	}

	if err := l.specimens(ctx, row.ID, related["Observation"]); err != nil {
		return err
	}
	return l.locations(ctx, row.ID, enc)
}

// encounterAge takes the first "age_months" answer, capped so that very old
// participants are not identifiable.
func encounterAge(responses []*fhir.Resource) (age pgtype.Interval) {
	for _, qr := range responses {
		for _, item := range qr.Item {
			if item.LinkID != "age_months" || len(item.Answer) == 0 || item.Answer[0].ValueInteger == nil {
				continue
			}
			years := math.Min(float64(*item.Answer[0].ValueInteger)/12, maxReportedAge)
			return warehouse.AgeFromYears(years)
		}
	}
	return age
}

func (l *fhirLoader) specimens(ctx context.Context, encounterID int, observations []*fhir.Resource) error {
	for _, obs := range observations {
		refs, err := obs.SpecimenReferences()
		if err != nil {
			return err
		}
		for i := range refs {
			specimen := l.bundle.Resolve(&refs[i])
			if specimen == nil {
				continue
			}
			barcode, err := specimen.IdentifierValue(internalSystem + "/sample")
			if err != nil {
				return err
			}
			if barcode == "" {
				l.deps.Logger.Warn().Str("routine", "fhir").Msg("specimen has no sample barcode")
				continue
			}
			id, err := lookup(ctx, l.deps.Identifiers, barcode)
			if err != nil {
				return err
			}
			if id == nil {
				l.deps.Logger.Warn().Str("routine", "fhir").Str("barcode", barcode).Msg("skipping specimen with unknown barcode")
				continue
			}

			var details warehouse.Details
			if len(specimen.Type) > 0 {
				details = warehouse.Details{"type": specimen.Type}
			}
			if _, _, err := l.deps.Warehouse.UpsertSample(ctx, warehouse.SampleInput{
				CollectionIdentifier: ptr(id.UUID.String()),
				EncounterID:          &encounterID,
				Details:              details,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *fhirLoader) locations(ctx context.Context, encounterID int, enc *fhir.Resource) error {
	for _, ref := range enc.Location {
		loc := l.bundle.Resolve(&ref.Location)
		if loc == nil {
			// Sites are referenced by identifier only and handled above.
			continue
		}
		if err := l.location(ctx, encounterID, loc); err != nil {
			return err
		}
	}
	return nil
}

func (l *fhirLoader) location(ctx context.Context, encounterID int, loc *fhir.Resource) error {
	relation, err := locationRelation(loc)
	if err != nil {
		return err
	}

	var tract *warehouse.Location
	if parent := l.bundle.Resolve(loc.PartOf); parent != nil {
		tractID, err := parent.IdentifierValue(internalSystem + "/locations/tract")
		if err != nil {
			return err
		}
		if tractID != "" {
			tract, err = l.deps.Warehouse.FindLocation(ctx, "tract", tractID)
			if err != nil {
				return fmt.Errorf("tract %s: %w", tractID, err)
			}
		}
	}

	addressID, err := loc.IdentifierValue(internalSystem + "/locations/address")
	if err != nil {
		return err
	}

	target := tract
	if addressID != "" {
		var hierarchy warehouse.Hierarchy
		if tract != nil {
			hierarchy = tract.Hierarchy
		}
		address, _, err := l.deps.Warehouse.UpsertLocation(ctx, "address", addressID, hierarchy)
		if err != nil {
			return err
		}
		target = address
	}
	if target == nil {
		l.deps.Logger.Warn().Str("routine", "fhir").Str("relation", relation).Msg("no tract or address location available")
		return nil
	}

	_, _, err = l.deps.Warehouse.UpsertEncounterLocation(ctx, encounterID, relation, target.ID)
	return err
}

func locationRelation(loc *fhir.Resource) (string, error) {
	concepts, err := loc.TypeConcepts()
	if err != nil {
		return "", err
	}
	codes := make(map[string]bool)
	for i := range concepts {
		code, err := concepts[i].Code(locationRelationSystem)
		if err != nil {
			return "", err
		}
		if code != "" {
			codes[code] = true
		}
	}
	if len(codes) != 1 {
		return "", fmt.Errorf("expected exactly one location role code, got %d", len(codes))
	}
	for code := range codes {
		if rel, ok := locationRelations[code]; ok {
			return rel, nil
		}
		return "", fmt.Errorf("unknown FHIR V3 RoleCode %q", code)
	}
	return "", nil
}

func (l *fhirLoader) diagnosticReport(ctx context.Context, report *fhir.Resource) error {
	refs, err := report.SpecimenReferences()
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if ref.Identifier == nil || ref.Identifier.System != internalSystem+"/sample" {
			continue
		}
		barcode := ref.Identifier.Value
		id, err := lookup(ctx, l.deps.Identifiers, barcode)
		if err != nil {
			return err
		}
		if id == nil {
			return fmt.Errorf("diagnostic report names unknown barcode %s", barcode)
		}
		sample, err := l.deps.Warehouse.FindSample(ctx, id.UUID.String(), true)
		if err != nil {
			return fmt.Errorf("sample %s: %w", barcode, err)
		}

		for i := range report.Result {
			obs := l.bundle.Resolve(&report.Result[i])
			if obs == nil {
				continue
			}
			code, err := obs.Code.Code(targetSystem)
			if err != nil {
				return err
			}
			if code == "" {
				return errors.New("observation has no target code")
			}
			target, _, err := l.deps.Warehouse.FindOrCreateTarget(ctx, code, false)
			if err != nil {
				return err
			}

			resultID := barcode + "/" + code
			details := warehouse.Details{}
			if obs.Device != nil && obs.Device.Identifier != nil {
				resultID += "/" + obs.Device.Identifier.Value
				details["device"] = obs.Device.Identifier.Value
			}
			if _, _, err := l.deps.Warehouse.UpsertPresenceAbsence(ctx, warehouse.PresenceAbsenceInput{
				Identifier: resultID,
				SampleID:   sample.ID,
				TargetID:   target.ID,
				Present:    obs.ValueBoolean,
				Details:    details,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
