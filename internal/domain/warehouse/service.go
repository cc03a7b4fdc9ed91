package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
)

// Service implements the warehouse upserts. Every method runs on the
// transaction attached to ctx (see db.ContextWithTx), so a routine's writes
// for one document share its savepoint.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "warehouse").Logger()}
}

// -- Sites and targets --

// FindOrCreateSite returns the site with the given identifier, inserting it
// with details when absent. An existing site's details are not touched.
func (s *Service) FindOrCreateSite(ctx context.Context, identifier string, details Details) (*Site, Result, error) {
	site, err := s.repo.FindSite(ctx, identifier)
	if err == nil {
		s.logger.Debug().Str("site", identifier).Int("site_id", site.ID).Msg("found site")
		return site, updated(false), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, Result{}, fmt.Errorf("find site %q: %w", identifier, err)
	}

	site = &Site{Identifier: identifier, Details: details}
	ok, err := s.repo.InsertSite(ctx, site)
	if err != nil {
		return nil, Result{}, fmt.Errorf("insert site %q: %w", identifier, err)
	}
	if !ok {
		// Created by a concurrent run since the lookup above.
		if site, err = s.repo.FindSite(ctx, identifier); err != nil {
			return nil, Result{}, fmt.Errorf("find site %q: %w", identifier, err)
		}
		return site, updated(false), nil
	}
	s.logger.Info().Str("site", identifier).Int("site_id", site.ID).Msg("created site")
	return site, created(), nil
}

// FindOrCreateTarget returns the target with the given identifier,
// inserting it when absent.
func (s *Service) FindOrCreateTarget(ctx context.Context, identifier string, control bool) (*Target, Result, error) {
	target, err := s.repo.FindTarget(ctx, identifier)
	if err == nil {
		return target, updated(false), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, Result{}, fmt.Errorf("find target %q: %w", identifier, err)
	}

	target = &Target{Identifier: identifier, Control: control}
	ok, err := s.repo.InsertTarget(ctx, target)
	if err != nil {
		return nil, Result{}, fmt.Errorf("insert target %q: %w", identifier, err)
	}
	if !ok {
		if target, err = s.repo.FindTarget(ctx, identifier); err != nil {
			return nil, Result{}, fmt.Errorf("find target %q: %w", identifier, err)
		}
		return target, updated(false), nil
	}
	s.logger.Info().Str("target", identifier).Int("target_id", target.ID).Bool("control", control).Msg("created target")
	return target, created(), nil
}

// -- Individuals and encounters --

// UpsertIndividual always overwrites sex and merges details. Nothing is
// written when the row already holds the result.
func (s *Service) UpsertIndividual(ctx context.Context, identifier string, sex *string, details Details) (*Individual, Result, error) {
	ind := &Individual{Identifier: identifier, Sex: sex, Details: details}
	inserted, written, err := s.repo.UpsertIndividual(ctx, ind)
	if err != nil {
		return nil, Result{}, fmt.Errorf("upsert individual: %w", err)
	}
	switch {
	case inserted:
		s.logger.Info().Int("individual_id", ind.ID).Msg("created individual")
		return ind, created(), nil
	case written:
		s.logger.Info().Int("individual_id", ind.ID).Msg("updated individual")
	default:
		s.logger.Debug().Int("individual_id", ind.ID).Msg("individual unchanged")
	}
	return ind, updated(written), nil
}

// EncounterInput is the full state of an encounter. A re-seen identifier is
// a correction, so every field replaces the stored one.
type EncounterInput struct {
	Identifier   string
	IndividualID int
	SiteID       int
	Encountered  time.Time
	Age          pgtype.Interval
	Details      Details
}

// UpsertEncounter inserts or overwrites the encounter with in.Identifier.
// Details are compared ignoring urn:uuid references, which change on every
// export of the same bundle.
func (s *Service) UpsertEncounter(ctx context.Context, in EncounterInput) (*Encounter, Result, error) {
	in.Encountered = normalizeTimestamp(in.Encountered)

	matches, err := s.repo.FindEncountersForUpdate(ctx, in.Identifier)
	if err != nil {
		return nil, Result{}, fmt.Errorf("find encounter: %w", err)
	}

	if len(matches) == 0 {
		enc := &Encounter{
			Identifier:   in.Identifier,
			IndividualID: in.IndividualID,
			SiteID:       in.SiteID,
			Encountered:  in.Encountered,
			Age:          in.Age,
			Details:      in.Details,
		}
		ok, err := s.repo.InsertEncounter(ctx, enc)
		if err != nil {
			return nil, Result{}, fmt.Errorf("insert encounter: %w", err)
		}
		if ok {
			s.logger.Info().Int("encounter_id", enc.ID).Msg("created encounter")
			return enc, created(), nil
		}
		// A concurrent run inserted it first; treat its row as the current one.
		if matches, err = s.repo.FindEncountersForUpdate(ctx, in.Identifier); err != nil {
			return nil, Result{}, fmt.Errorf("find encounter: %w", err)
		}
	}

	switch len(matches) {
	case 0:
		return nil, Result{}, fmt.Errorf("encounter %q: %w", in.Identifier, ErrNotFound)
	case 1:
	default:
		return nil, Result{}, &AmbiguousMatchError{Entity: "encounter", Key: "identifier=" + in.Identifier, Matches: encounterIDs(matches)}
	}

	current := matches[0]
	if current.IndividualID == in.IndividualID &&
		current.SiteID == in.SiteID &&
		current.Encountered.Equal(in.Encountered) &&
		sameInterval(current.Age, in.Age) &&
		equalIgnoringURNUUIDs(current.Details, in.Details) {
		s.logger.Debug().Int("encounter_id", current.ID).Msg("encounter unchanged")
		return current, updated(false), nil
	}

	next := *current
	next.IndividualID = in.IndividualID
	next.SiteID = in.SiteID
	next.Encountered = in.Encountered
	next.Age = in.Age
	next.Details = in.Details
	if err := s.repo.UpdateEncounter(ctx, &next); err != nil {
		return nil, Result{}, fmt.Errorf("update encounter %d: %w", current.ID, err)
	}
	s.logger.Info().Int("encounter_id", next.ID).Msg("updated encounter")
	return &next, updated(true), nil
}

func encounterIDs(es []*Encounter) []int {
	ids := make([]int, len(es))
	for i, e := range es {
		ids[i] = e.ID
	}
	return ids
}

// -- Presence/absence --

type PresenceAbsenceInput struct {
	Identifier string
	SampleID   int
	TargetID   int
	Present    *bool
	Details    Details
}

// UpsertPresenceAbsence overwrites the result's sample, target and
// presence, and merges its details.
func (s *Service) UpsertPresenceAbsence(ctx context.Context, in PresenceAbsenceInput) (*PresenceAbsence, Result, error) {
	pa := &PresenceAbsence{
		Identifier: in.Identifier,
		SampleID:   in.SampleID,
		TargetID:   in.TargetID,
		Present:    in.Present,
		Details:    in.Details,
	}
	inserted, written, err := s.repo.UpsertPresenceAbsence(ctx, pa)
	if err != nil {
		return nil, Result{}, fmt.Errorf("upsert presence/absence %q: %w", in.Identifier, err)
	}
	if inserted {
		s.logger.Debug().Str("presence_absence", in.Identifier).Int("presence_absence_id", pa.ID).Msg("created presence/absence result")
		return pa, created(), nil
	}
	if written {
		s.logger.Debug().Str("presence_absence", in.Identifier).Int("presence_absence_id", pa.ID).Msg("updated presence/absence result")
	}
	return pa, updated(written), nil
}

// -- Locations --

// FindLocation looks a location up by its scale and identifier.
func (s *Service) FindLocation(ctx context.Context, scale, identifier string) (*Location, error) {
	return s.repo.FindLocation(ctx, lower(scale), identifier, false)
}

// UpsertLocation records a location and merges its hierarchy. Scales are
// lowercased and the hierarchy always contains the location itself.
func (s *Service) UpsertLocation(ctx context.Context, scale, identifier string, hierarchy Hierarchy) (*Location, Result, error) {
	scale = lower(scale)
	if scale == "" || strings.TrimSpace(identifier) == "" {
		return nil, Result{}, errors.New("location requires a scale and an identifier")
	}
	h := make(Hierarchy, len(hierarchy)+1)
	for k, v := range hierarchy {
		h[lower(k)] = v
	}
	h[scale] = identifier

	loc := &Location{Scale: scale, Identifier: identifier, Hierarchy: h}
	inserted, written, err := s.repo.UpsertLocation(ctx, loc)
	if err != nil {
		return nil, Result{}, fmt.Errorf("upsert location %s/%s: %w", scale, identifier, err)
	}
	if inserted {
		s.logger.Info().Str("scale", scale).Str("location", identifier).Msg("created location")
		return loc, created(), nil
	}
	if written {
		s.logger.Info().Str("scale", scale).Str("location", identifier).Msg("updated location hierarchy")
	}
	return loc, updated(written), nil
}

// UpsertEncounterLocation points the encounter's relation (e.g. "residence")
// at a location.
func (s *Service) UpsertEncounterLocation(ctx context.Context, encounterID int, relation string, locationID int) (*EncounterLocation, Result, error) {
	el := &EncounterLocation{EncounterID: encounterID, Relation: relation, LocationID: locationID}
	inserted, written, err := s.repo.UpsertEncounterLocation(ctx, el)
	if err != nil {
		return nil, Result{}, fmt.Errorf("upsert encounter location: %w", err)
	}
	if inserted {
		return el, created(), nil
	}
	return el, updated(written), nil
}
