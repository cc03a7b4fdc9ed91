package routine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seattleflu/id3c-sub000/internal/domain/identifier"
	"github.com/seattleflu/id3c-sub000/internal/domain/receiving"
	"github.com/seattleflu/id3c-sub000/internal/domain/warehouse"
)

type fakeIdentifiers map[string]*identifier.Identifier

func (f fakeIdentifiers) add(set string) *identifier.Identifier {
	u := uuid.New()
	id := &identifier.Identifier{UUID: u, Barcode: identifier.BarcodeFromUUID(u), SetName: set}
	f[id.Barcode] = id
	f[u.String()] = id
	return id
}

func (f fakeIdentifiers) Lookup(_ context.Context, key string) (*identifier.Identifier, error) {
	if id, ok := f[identifier.NormalizeBarcode(key)]; ok {
		return id, nil
	}
	return nil, identifier.ErrNotFound
}

// fakeWarehouse records upserts keyed by natural identifier.
type fakeWarehouse struct {
	next int

	sites       map[string]*warehouse.Site
	targets     map[string]*warehouse.Target
	individuals map[string]*warehouse.Individual
	encounters  map[string]*warehouse.Encounter
	samples     []*warehouse.Sample
	results     map[string]*warehouse.PresenceAbsence
	locations   map[string]*warehouse.Location
	links       map[string]int

	sampleInputs []warehouse.SampleInput
}

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{
		sites:       make(map[string]*warehouse.Site),
		targets:     make(map[string]*warehouse.Target),
		individuals: make(map[string]*warehouse.Individual),
		encounters:  make(map[string]*warehouse.Encounter),
		results:     make(map[string]*warehouse.PresenceAbsence),
		locations:   make(map[string]*warehouse.Location),
		links:       make(map[string]int),
	}
}

func (f *fakeWarehouse) id() int { f.next++; return f.next }

var (
	createdResult = warehouse.Result{Status: warehouse.StatusCreated, Written: true}
	updatedResult = warehouse.Result{Status: warehouse.StatusUpdated, Written: true}
)

func (f *fakeWarehouse) FindOrCreateSite(_ context.Context, identifier string, details warehouse.Details) (*warehouse.Site, warehouse.Result, error) {
	if s, ok := f.sites[identifier]; ok {
		return s, warehouse.Result{Status: warehouse.StatusUpdated}, nil
	}
	s := &warehouse.Site{ID: f.id(), Identifier: identifier, Details: details}
	f.sites[identifier] = s
	return s, createdResult, nil
}

func (f *fakeWarehouse) FindOrCreateTarget(_ context.Context, identifier string, control bool) (*warehouse.Target, warehouse.Result, error) {
	if t, ok := f.targets[identifier]; ok {
		return t, warehouse.Result{Status: warehouse.StatusUpdated}, nil
	}
	t := &warehouse.Target{ID: f.id(), Identifier: identifier, Control: control}
	f.targets[identifier] = t
	return t, createdResult, nil
}

func (f *fakeWarehouse) UpsertIndividual(_ context.Context, identifier string, sex *string, details warehouse.Details) (*warehouse.Individual, warehouse.Result, error) {
	if i, ok := f.individuals[identifier]; ok {
		i.Sex = sex
		i.Details = i.Details.Merge(details)
		return i, updatedResult, nil
	}
	i := &warehouse.Individual{ID: f.id(), Identifier: identifier, Sex: sex, Details: details}
	f.individuals[identifier] = i
	return i, createdResult, nil
}

func (f *fakeWarehouse) UpsertEncounter(_ context.Context, in warehouse.EncounterInput) (*warehouse.Encounter, warehouse.Result, error) {
	e, ok := f.encounters[in.Identifier]
	res := updatedResult
	if !ok {
		e = &warehouse.Encounter{ID: f.id(), Identifier: in.Identifier}
		f.encounters[in.Identifier] = e
		res = createdResult
	}
	e.IndividualID, e.SiteID, e.Encountered, e.Age, e.Details = in.IndividualID, in.SiteID, in.Encountered, in.Age, in.Details
	return e, res, nil
}

func same(a, b *string) bool { return a != nil && b != nil && *a == *b }

func (f *fakeWarehouse) UpsertSample(_ context.Context, in warehouse.SampleInput) (*warehouse.Sample, warehouse.Result, error) {
	f.sampleInputs = append(f.sampleInputs, in)
	for _, s := range f.samples {
		if same(s.Identifier, in.Identifier) || same(s.CollectionIdentifier, in.CollectionIdentifier) {
			if in.UpdateIdentifiers {
				if in.Identifier != nil {
					s.Identifier = in.Identifier
				}
				if in.CollectionIdentifier != nil {
					s.CollectionIdentifier = in.CollectionIdentifier
				}
			}
			if s.EncounterID == nil {
				s.EncounterID = in.EncounterID
			}
			s.Details = s.Details.Merge(in.Details)
			return s, updatedResult, nil
		}
	}
	s := &warehouse.Sample{
		ID:                   f.id(),
		Identifier:           in.Identifier,
		CollectionIdentifier: in.CollectionIdentifier,
		EncounterID:          in.EncounterID,
		Details:              in.Details,
	}
	f.samples = append(f.samples, s)
	return s, createdResult, nil
}

func (f *fakeWarehouse) FindSample(_ context.Context, value string, _ bool) (*warehouse.Sample, error) {
	for _, s := range f.samples {
		if same(s.Identifier, &value) || same(s.CollectionIdentifier, &value) {
			return s, nil
		}
	}
	return nil, warehouse.ErrNotFound
}

func (f *fakeWarehouse) SetSampleEncounter(_ context.Context, sampleID, encounterID int) (*warehouse.Sample, warehouse.Result, error) {
	for _, s := range f.samples {
		if s.ID != sampleID {
			continue
		}
		if s.EncounterID != nil && *s.EncounterID != encounterID {
			return nil, warehouse.Result{}, &warehouse.EncounterConflictError{SampleID: sampleID, Current: *s.EncounterID, Requested: encounterID}
		}
		s.EncounterID = &encounterID
		return s, updatedResult, nil
	}
	return nil, warehouse.Result{}, warehouse.ErrNotFound
}

func (f *fakeWarehouse) UpsertPresenceAbsence(_ context.Context, in warehouse.PresenceAbsenceInput) (*warehouse.PresenceAbsence, warehouse.Result, error) {
	p, ok := f.results[in.Identifier]
	res := updatedResult
	if !ok {
		p = &warehouse.PresenceAbsence{ID: f.id(), Identifier: in.Identifier}
		f.results[in.Identifier] = p
		res = createdResult
	}
	p.SampleID, p.TargetID, p.Present = in.SampleID, in.TargetID, in.Present
	p.Details = p.Details.Merge(in.Details)
	return p, res, nil
}

func (f *fakeWarehouse) FindLocation(_ context.Context, scale, identifier string) (*warehouse.Location, error) {
	if l, ok := f.locations[scale+"/"+identifier]; ok {
		return l, nil
	}
	return nil, warehouse.ErrNotFound
}

func (f *fakeWarehouse) UpsertLocation(_ context.Context, scale, identifier string, hierarchy warehouse.Hierarchy) (*warehouse.Location, warehouse.Result, error) {
	h := warehouse.Hierarchy{scale: identifier}
	for k, v := range hierarchy {
		h[k] = v
	}
	if l, ok := f.locations[scale+"/"+identifier]; ok {
		l.Hierarchy = h
		return l, updatedResult, nil
	}
	l := &warehouse.Location{ID: f.id(), Scale: scale, Identifier: identifier, Hierarchy: h}
	f.locations[scale+"/"+identifier] = l
	return l, createdResult, nil
}

func (f *fakeWarehouse) UpsertEncounterLocation(_ context.Context, encounterID int, relation string, locationID int) (*warehouse.EncounterLocation, warehouse.Result, error) {
	f.links[relationKey(encounterID, relation)] = locationID
	return &warehouse.EncounterLocation{EncounterID: encounterID, Relation: relation, LocationID: locationID}, createdResult, nil
}

func relationKey(encounterID int, relation string) string {
	b, _ := json.Marshal([]any{encounterID, relation})
	return string(b)
}

func newDeps() (Deps, fakeIdentifiers, *fakeWarehouse) {
	ids := fakeIdentifiers{}
	wh := newFakeWarehouse()
	return Deps{Identifiers: ids, Warehouse: wh, Logger: zerolog.Nop()}, ids, wh
}

func document(t *testing.T, table receiving.Table, body any) *receiving.Document {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}
	return &receiving.Document{Table: table, ID: 1, Body: b, Received: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)}
}
