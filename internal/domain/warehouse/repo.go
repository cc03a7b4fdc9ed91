package warehouse

import (
	"context"
	"time"
)

// Repository holds the row-level statements behind the upsert operations.
// Single-row finders return ErrNotFound; the ForUpdate variants lock the
// rows they return until the surrounding transaction ends. Update methods
// set modified to now().
//
// Insert methods never fail on a natural key collision: they report
// inserted=false and leave the row to the caller to find again, since a
// concurrent run may have created it first. Upsert methods insert or merge
// in one statement and write nothing when the stored row already holds the
// result; they fill in the stored row either way.
type Repository interface {
	FindSite(ctx context.Context, identifier string) (*Site, error)
	InsertSite(ctx context.Context, s *Site) (inserted bool, err error)

	UpsertIndividual(ctx context.Context, i *Individual) (inserted, written bool, err error)

	FindEncountersForUpdate(ctx context.Context, identifier string) ([]*Encounter, error)
	InsertEncounter(ctx context.Context, e *Encounter) (inserted bool, err error)
	UpdateEncounter(ctx context.Context, e *Encounter) error

	// FindSamplesForUpdate matches identifier = $1 or collection_identifier
	// = $2; a nil argument matches nothing.
	FindSamplesForUpdate(ctx context.Context, identifier, collectionIdentifier *string) ([]*Sample, error)
	// FindSamplesByAnyIdentifier matches value against either identifier
	// column.
	FindSamplesByAnyIdentifier(ctx context.Context, value string, forUpdate bool) ([]*Sample, error)
	FindSampleByID(ctx context.Context, id int, forUpdate bool) (*Sample, error)
	InsertSample(ctx context.Context, s *Sample) (inserted bool, err error)
	UpdateSample(ctx context.Context, id int, u SampleUpdate) (*Sample, error)

	FindTarget(ctx context.Context, identifier string) (*Target, error)
	InsertTarget(ctx context.Context, t *Target) (inserted bool, err error)

	// UpsertPresenceAbsence overwrites sample, target and presence and
	// merges details.
	UpsertPresenceAbsence(ctx context.Context, p *PresenceAbsence) (inserted, written bool, err error)

	FindLocation(ctx context.Context, scale, identifier string, forUpdate bool) (*Location, error)
	// UpsertLocation merges the hierarchy into the stored one.
	UpsertLocation(ctx context.Context, l *Location) (inserted, written bool, err error)

	UpsertEncounterLocation(ctx context.Context, el *EncounterLocation) (inserted, written bool, err error)
}

// SampleUpdate lists the column groups an UpdateSample call writes. Groups
// left false are not mentioned in the statement.
type SampleUpdate struct {
	// Identifiers overwrites both identifier columns; a nil value keeps the
	// column as is.
	Identifiers          bool
	Identifier           *string
	CollectionIdentifier *string

	// Metadata writes the collection date, the encounter link and details.
	// Nil values and empty details leave their column untouched; the
	// encounter link only fills an empty column.
	Metadata           bool
	Collected          *time.Time
	OverwriteCollected bool
	EncounterID        *int
	Details            Details

	AccessRole      bool
	AccessRoleValue *string
}
