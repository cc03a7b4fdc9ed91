// Package routine holds the ETL transforms that map receiving documents onto
// the warehouse. Each routine is thin: it decodes one document shape and
// calls the identifier and warehouse services.
package routine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/seattleflu/id3c-sub000/internal/domain/identifier"
	"github.com/seattleflu/id3c-sub000/internal/domain/warehouse"
	"github.com/seattleflu/id3c-sub000/internal/engine"
)

// Identifiers resolves barcodes printed on labels.
type Identifiers interface {
	Lookup(ctx context.Context, key string) (*identifier.Identifier, error)
}

// Warehouse is the subset of warehouse.Service the routines call.
type Warehouse interface {
	FindOrCreateSite(ctx context.Context, identifier string, details warehouse.Details) (*warehouse.Site, warehouse.Result, error)
	FindOrCreateTarget(ctx context.Context, identifier string, control bool) (*warehouse.Target, warehouse.Result, error)
	UpsertIndividual(ctx context.Context, identifier string, sex *string, details warehouse.Details) (*warehouse.Individual, warehouse.Result, error)
	UpsertEncounter(ctx context.Context, in warehouse.EncounterInput) (*warehouse.Encounter, warehouse.Result, error)
	UpsertSample(ctx context.Context, in warehouse.SampleInput) (*warehouse.Sample, warehouse.Result, error)
	FindSample(ctx context.Context, value string, forUpdate bool) (*warehouse.Sample, error)
	SetSampleEncounter(ctx context.Context, sampleID, encounterID int) (*warehouse.Sample, warehouse.Result, error)
	UpsertPresenceAbsence(ctx context.Context, in warehouse.PresenceAbsenceInput) (*warehouse.PresenceAbsence, warehouse.Result, error)
	FindLocation(ctx context.Context, scale, identifier string) (*warehouse.Location, error)
	UpsertLocation(ctx context.Context, scale, identifier string, hierarchy warehouse.Hierarchy) (*warehouse.Location, warehouse.Result, error)
	UpsertEncounterLocation(ctx context.Context, encounterID int, relation string, locationID int) (*warehouse.EncounterLocation, warehouse.Result, error)
}

var _ Warehouse = (*warehouse.Service)(nil)

type Deps struct {
	Identifiers Identifiers
	Warehouse   Warehouse
	Logger      zerolog.Logger
}

// All returns every routine wired to deps.
func All(deps Deps) []*engine.Routine {
	return []*engine.Routine{
		Manifest(deps),
		PresenceAbsence(deps),
		FHIR(deps),
		Clinical(deps),
	}
}

// Register adds every routine to reg.
func Register(reg *engine.Registry, deps Deps) error {
	for _, r := range All(deps) {
		if err := reg.Register(r); err != nil {
			return err
		}
	}
	return nil
}

// UnexpectedSetError aborts a run when a barcode belongs to a set the
// routine does not accept. It signals a labeling mistake an operator must
// look at, so it is never skipped over.
type UnexpectedSetError struct {
	Barcode  string
	Set      string
	Expected []string
}

func (e *UnexpectedSetError) Error() string {
	return fmt.Sprintf("identifier %s found in set %q, not one of %v", e.Barcode, e.Set, e.Expected)
}

func checkSet(id *identifier.Identifier, barcode string, expected []string) error {
	for _, name := range expected {
		if id.SetName == name {
			return nil
		}
	}
	return &UnexpectedSetError{Barcode: barcode, Set: id.SetName, Expected: expected}
}

// lookup returns nil, nil for an unknown barcode.
func lookup(ctx context.Context, ids Identifiers, barcode string) (*identifier.Identifier, error) {
	id, err := ids.Lookup(ctx, barcode)
	if errors.Is(err, identifier.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up barcode %s: %w", barcode, err)
	}
	return id, nil
}

func ptr[T any](v T) *T { return &v }

func isNotFound(err error) bool {
	return errors.Is(err, warehouse.ErrNotFound)
}
