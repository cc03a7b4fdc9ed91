package routine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/seattleflu/id3c-sub000/internal/domain/receiving"
	"github.com/seattleflu/id3c-sub000/internal/domain/warehouse"
	"github.com/seattleflu/id3c-sub000/internal/engine"
)

const presenceAbsenceRevision = 8

var presenceAbsenceSets = []string{
	"samples",
	"collections-uw-tiny-swabs-home",
	"collections-uw-tiny-swabs-observed",
	"collections-scan-tiny-swabs",
	"collections-adult-family-home-outbreak-tiny-swabs",
	"collections-workplace-outbreak-tiny-swabs",
}

// Results received before this date carry no assayType.
var assayTypeCutoff = time.Date(2021, 2, 12, 0, 0, 0, 0, time.UTC)

type labGroup struct {
	Samples *[]labSample `json:"samples"`
	Store   any          `json:"store"`
	Update  any          `json:"Update"`
}

type labSample struct {
	SampleID                  json.Number `json:"sampleId"`
	InvestigatorID            string      `json:"investigatorId"`
	SampleFailed              *bool       `json:"sampleFailed"`
	TargetResults             []labResult `json:"targetResults"`
	Chip                      *string     `json:"chip"`
	ExtractionDate            any         `json:"extractionDate"`
	AssayName                 string      `json:"assayName"`
	AssayDate                 any         `json:"assayDate"`
	AssayType                 string      `json:"assayType"`
	ResultTimestamp           string      `json:"resultTimestamp"`
	ReviewTimestamp           string      `json:"reviewTimestamp"`
	IsCurrentExpressionResult bool        `json:"isCurrentExpressionResult"`
	SampleComment             any         `json:"sampleComment"`
	InitialCall               any         `json:"initialProceedToSequencingCall"`
	FinalCall                 any         `json:"sampleProceedToSequencing"`
}

type labResult struct {
	GeneTarget     string `json:"geneTarget"`
	TargetStatus   string `json:"targetStatus"`
	SampleState    string `json:"sampleState"`
	ControlStatus  string `json:"controlStatus"`
	ClinicalStatus string `json:"clinicalStatus"`
	WellResults    []any  `json:"wellResults"`
}

// PresenceAbsence loads lab test result groups: each sample's results are
// attached to the sample named by its barcode, one presence_absence row per
// target.
func PresenceAbsence(deps Deps) *engine.Routine {
	logger := deps.Logger.With().Str("routine", "presence-absence").Logger()

	transform := func(ctx context.Context, doc *receiving.Document) (engine.Outcome, error) {
		var group labGroup
		if err := doc.Decode(&group); err != nil {
			return engine.Outcome{}, err
		}
		if group.Samples == nil {
			if group.Store != nil || group.Update != nil {
				logger.Info().Int64("id", doc.ID).Msg("skipping presence_absence record in old format")
				return engine.SkippedBecause("old format"), nil
			}
			return engine.Outcome{}, fmt.Errorf("presence_absence record has no samples")
		}

		for _, s := range *group.Samples {
			if err := loadLabSample(ctx, deps, doc, &s); err != nil {
				return engine.Outcome{}, err
			}
		}
		return engine.Processed(nil), nil
	}

	return &engine.Routine{
		Name:        "presence-absence",
		Description: "Load presence/absence test results into the warehouse",
		Table:       receiving.PresenceAbsence,
		Revision:    presenceAbsenceRevision,
		Transform:   transform,
	}
}

func loadLabSample(ctx context.Context, deps Deps, doc *receiving.Document, s *labSample) error {
	log := deps.Logger.With().Str("routine", "presence-absence").Str("barcode", s.InvestigatorID).Logger()

	switch {
	case s.InvestigatorID == "":
		log.Info().Str("sample_id", s.SampleID.String()).Msg("skipping sample without a barcode")
		return nil
	case s.SampleFailed != nil && *s.SampleFailed:
		log.Info().Msg("skipping failed sample")
		return nil
	case len(s.TargetResults) == 0:
		log.Warn().Msg("skipping sample without any results")
		return nil
	case s.Chip != nil && *s.Chip == "":
		return fmt.Errorf("sample %s has an empty chip id", s.InvestigatorID)
	case !s.IsCurrentExpressionResult:
		log.Warn().Msg("skipping out-of-date results")
		return nil
	}

	id, err := lookup(ctx, deps.Identifiers, s.InvestigatorID)
	if err != nil {
		return err
	}
	if id == nil {
		log.Warn().Msg("skipping results for sample without a known identifier")
		return nil
	}
	if err := checkSet(id, s.InvestigatorID, presenceAbsenceSets); err != nil {
		return err
	}

	nwgcIDs := []any{s.SampleID.String()}
	if existing, err := deps.Warehouse.FindSample(ctx, id.UUID.String(), true); err == nil {
		nwgcIDs = mergeNWGCIDs(existing.Details["nwgc_id"], nwgcIDs)
	} else if !isNotFound(err) {
		return err
	}

	in := warehouse.SampleInput{
		Details: warehouse.Details{
			"nwgc_id": nwgcIDs,
			"sequencing_call": map[string]any{
				"comment": s.SampleComment,
				"initial": s.InitialCall,
				"final":   s.FinalCall,
			},
		},
	}
	if strings.Contains(id.SetName, "tiny-swab") {
		in.CollectionIdentifier = ptr(id.UUID.String())
	} else {
		in.Identifier = ptr(id.UUID.String())
	}
	sample, _, err := deps.Warehouse.UpsertSample(ctx, in)
	if err != nil {
		return err
	}

	for _, r := range s.TargetResults {
		present, ok, err := targetPresent(r)
		if err != nil {
			return err
		}
		if !ok {
			log.Debug().Str("target", r.GeneTarget).Msg("no test result for target, skipping")
			continue
		}
		control, err := targetControl(r.ControlStatus)
		if err != nil {
			return err
		}
		target, _, err := deps.Warehouse.FindOrCreateTarget(ctx, r.GeneTarget, control)
		if err != nil {
			return err
		}

		resultID := fmt.Sprintf("NWGC/%s/%s", s.SampleID.String(), target.Identifier)
		if s.Chip != nil {
			resultID += "/" + *s.Chip
		}

		details, err := resultDetails(s, r, doc.Received)
		if err != nil {
			return err
		}
		if _, _, err := deps.Warehouse.UpsertPresenceAbsence(ctx, warehouse.PresenceAbsenceInput{
			Identifier: resultID,
			SampleID:   sample.ID,
			TargetID:   target.ID,
			Present:    present,
			Details:    details,
		}); err != nil {
			return err
		}
	}
	return nil
}

// mergeNWGCIDs unions the lab's sample ids already on record, which may be a
// scalar from older loads, with the incoming ones.
func mergeNWGCIDs(existing any, incoming []any) []any {
	seen := make(map[string]bool)
	var out []any
	add := func(v any) {
		k := fmt.Sprint(v)
		if !seen[k] {
			seen[k] = true
			out = append(out, v)
		}
	}
	switch v := existing.(type) {
	case nil:
	case []any:
		for _, x := range v {
			add(x)
		}
	default:
		add(v)
	}
	for _, x := range incoming {
		add(x)
	}
	sort.Slice(out, func(i, j int) bool { return fmt.Sprint(out[i]) < fmt.Sprint(out[j]) })
	return out
}

// targetPresent maps a result status onto present. ok is false for
// workflow statuses that are not results.
func targetPresent(r labResult) (present *bool, ok bool, err error) {
	status := r.TargetStatus
	if status == "" {
		status = r.SampleState
	}
	switch status {
	case "Detected", "Positive", "PositiveControlPass":
		return ptr(true), true, nil
	case "NotDetected", "Negative":
		return ptr(false), true, nil
	case "Indeterminate", "Inconclusive":
		return nil, true, nil
	case "Fail", "Repeat", "Review":
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("unable to determine presence of target %q from status %q", r.GeneTarget, status)
}

func targetControl(status string) (bool, error) {
	switch status {
	case "NotControl":
		return false, nil
	case "PositiveControl":
		return true, nil
	}
	return false, fmt.Errorf("unknown control status %q", status)
}

func resultDetails(s *labSample, r labResult, received time.Time) (warehouse.Details, error) {
	var device any
	switch {
	case s.AssayName == "OpenArray" || s.AssayName == "TaqmanQPCR":
		device = s.AssayName
	case s.AssayName != "":
		return nil, fmt.Errorf("unknown assay name %q", s.AssayName)
	case s.Chip != nil:
		device = "OpenArray"
	}

	assayType := r.ClinicalStatus
	if assayType == "" {
		assayType = s.AssayType
	}
	switch {
	case assayType == "Clia" || assayType == "Research":
	case assayType != "":
		return nil, fmt.Errorf("unknown assay type %q", assayType)
	case received.Before(assayTypeCutoff):
		assayType = "Research"
		if len(r.WellResults) == 4 {
			assayType = "Clia"
		}
	default:
		assayType = "Research"
	}

	d := warehouse.Details{
		"device":          device,
		"assay_date":      s.AssayDate,
		"assay_type":      assayType,
		"extraction_date": s.ExtractionDate,
		"replicates":      r.WellResults,
	}
	for key, v := range map[string]string{"result_timestamp": s.ResultTimestamp, "review_timestamp": s.ReviewTimestamp} {
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		d[key] = t.UTC().Format(time.RFC3339Nano)
	}
	return d, nil
}
