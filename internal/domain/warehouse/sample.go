package warehouse

import (
	"context"
	"fmt"
	"time"
)

// SampleInput describes the incoming state of a sample. Nil fields carry no
// information and never clear a stored value.
type SampleInput struct {
	Identifier           *string
	CollectionIdentifier *string
	EncounterID          *int
	CollectionDate       *time.Time
	AccessRole           *string
	Details              Details

	// UpdateIdentifiers lets a matched sample take the incoming
	// identifiers. Without it, identifiers are used for matching only.
	UpdateIdentifiers bool

	// OverwriteCollectionDate replaces a stored collection date instead of
	// only filling an empty one.
	OverwriteCollectionDate bool
}

func (in SampleInput) key() string {
	return fmt.Sprintf("identifier=%s collection_identifier=%s", deref(in.Identifier), deref(in.CollectionIdentifier))
}

// UpsertSample finds the sample matching either identifier and brings it up
// to date, or creates it. More than one match is an *AmbiguousMatchError
// and nothing is written.
func (s *Service) UpsertSample(ctx context.Context, in SampleInput) (*Sample, Result, error) {
	if in.Identifier == nil && in.CollectionIdentifier == nil {
		return nil, Result{}, ErrMissingIdentifier
	}
	if in.CollectionDate != nil {
		d := Date(*in.CollectionDate)
		in.CollectionDate = &d
	}
	log := s.logger.With().Str("identifier", deref(in.Identifier)).Str("collection_identifier", deref(in.CollectionIdentifier)).Logger()

	matches, err := s.repo.FindSamplesForUpdate(ctx, in.Identifier, in.CollectionIdentifier)
	if err != nil {
		return nil, Result{}, fmt.Errorf("find sample: %w", err)
	}

	if len(matches) == 0 {
		sample := &Sample{
			Identifier:           in.Identifier,
			CollectionIdentifier: in.CollectionIdentifier,
			EncounterID:          in.EncounterID,
			Collected:            in.CollectionDate,
			AccessRole:           in.AccessRole,
			Details:              in.Details,
		}
		ok, err := s.repo.InsertSample(ctx, sample)
		if err != nil {
			return nil, Result{}, fmt.Errorf("insert sample: %w", err)
		}
		if ok {
			log.Info().Int("sample_id", sample.ID).Msg("created sample")
			return sample, created(), nil
		}
		// Lost an insert race; the winner's row goes down the update path.
		if matches, err = s.repo.FindSamplesForUpdate(ctx, in.Identifier, in.CollectionIdentifier); err != nil {
			return nil, Result{}, fmt.Errorf("find sample: %w", err)
		}
	}

	switch len(matches) {
	case 0:
		return nil, Result{}, fmt.Errorf("sample %s: %w", in.key(), ErrNotFound)
	case 1:
	default:
		ids := make([]int, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return nil, Result{}, &AmbiguousMatchError{Entity: "sample", Key: in.key(), Matches: ids}
	}

	current := matches[0]
	log = log.With().Int("sample_id", current.ID).Logger()

	identifiersChanged := (in.Identifier != nil && !sameString(current.Identifier, in.Identifier)) ||
		(in.CollectionIdentifier != nil && !sameString(current.CollectionIdentifier, in.CollectionIdentifier))

	if in.UpdateIdentifiers {
		if in.Identifier == nil || in.CollectionIdentifier == nil {
			log.Warn().Msg("updating identifiers with only one identifier provided; the other is kept")
		}
		if identifiersChanged {
			log.Warn().
				Str("current_identifier", deref(current.Identifier)).
				Str("current_collection_identifier", deref(current.CollectionIdentifier)).
				Msg("changing sample identifiers")
		}
	}

	metadataChanged := false

	if in.CollectionDate != nil {
		effective := current.Collected
		if in.OverwriteCollectionDate || effective == nil {
			effective = in.CollectionDate
		}
		if !sameDate(current.Collected, effective) {
			metadataChanged = true
		}
	}

	if in.EncounterID != nil {
		switch {
		case current.EncounterID == nil:
			metadataChanged = true
		case *current.EncounterID != *in.EncounterID:
			log.Warn().
				Int("current_encounter_id", *current.EncounterID).
				Int("requested_encounter_id", *in.EncounterID).
				Msg("sample already linked to another encounter; keeping the existing link")
		}
	}

	if !current.Details.Merge(in.Details).Equal(current.Details) {
		metadataChanged = true
	}

	accessChanged := in.AccessRole != nil && !sameString(current.AccessRole, in.AccessRole)

	if !metadataChanged && !accessChanged && (!in.UpdateIdentifiers || !identifiersChanged) {
		log.Debug().Msg("sample unchanged")
		return current, updated(false), nil
	}

	next, err := s.repo.UpdateSample(ctx, current.ID, SampleUpdate{
		Identifiers:          in.UpdateIdentifiers && identifiersChanged,
		Identifier:           in.Identifier,
		CollectionIdentifier: in.CollectionIdentifier,
		Metadata:             metadataChanged,
		Collected:            in.CollectionDate,
		OverwriteCollected:   in.OverwriteCollectionDate,
		EncounterID:          in.EncounterID,
		Details:              in.Details,
		AccessRole:           accessChanged,
		AccessRoleValue:      in.AccessRole,
	})
	if err != nil {
		return nil, Result{}, fmt.Errorf("update sample %d: %w", current.ID, err)
	}
	log.Info().Msg("updated sample")
	return next, updated(true), nil
}

// FindSample returns the sample whose identifier or collection identifier
// is value. Pass forUpdate to lock it for the rest of the transaction.
func (s *Service) FindSample(ctx context.Context, value string, forUpdate bool) (*Sample, error) {
	matches, err := s.repo.FindSamplesByAnyIdentifier(ctx, value, forUpdate)
	if err != nil {
		return nil, fmt.Errorf("find sample %q: %w", value, err)
	}
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return matches[0], nil
	}
	ids := make([]int, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return nil, &AmbiguousMatchError{Entity: "sample", Key: value, Matches: ids}
}

func (s *Service) FindSampleByID(ctx context.Context, id int, forUpdate bool) (*Sample, error) {
	return s.repo.FindSampleByID(ctx, id, forUpdate)
}

// SetSampleEncounter links a sample to an encounter. A sample already
// linked elsewhere is an *EncounterConflictError; the link is never moved.
func (s *Service) SetSampleEncounter(ctx context.Context, sampleID, encounterID int) (*Sample, Result, error) {
	current, err := s.repo.FindSampleByID(ctx, sampleID, true)
	if err != nil {
		return nil, Result{}, fmt.Errorf("find sample %d: %w", sampleID, err)
	}
	if current.EncounterID != nil {
		if *current.EncounterID == encounterID {
			return current, updated(false), nil
		}
		return nil, Result{}, &EncounterConflictError{SampleID: sampleID, Current: *current.EncounterID, Requested: encounterID}
	}

	next, err := s.repo.UpdateSample(ctx, sampleID, SampleUpdate{Metadata: true, EncounterID: &encounterID})
	if err != nil {
		return nil, Result{}, fmt.Errorf("link sample %d: %w", sampleID, err)
	}
	s.logger.Info().Int("sample_id", sampleID).Int("encounter_id", encounterID).Msg("linked sample to encounter")
	return next, updated(true), nil
}
