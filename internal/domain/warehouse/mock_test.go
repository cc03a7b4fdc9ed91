package warehouse

import (
	"context"
	"time"
)

// mockRepo keeps rows in memory and stamps modified from a counter clock,
// so tests can tell whether a row was written.
type mockRepo struct {
	clock time.Time
	next  int

	sites       map[string]*Site
	individuals map[string]*Individual
	encounters  []*Encounter
	samples     []*Sample
	targets     map[string]*Target
	results     map[string]*PresenceAbsence
	locations   map[[2]string]*Location
	encLocs     map[[2]any]*EncounterLocation

	writes        int
	sampleUpdates []SampleUpdate

	// race, when set, runs once just before the next insert, standing in
	// for a concurrent transaction that commits the same row first.
	race func(m *mockRepo)
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		clock:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		sites:       make(map[string]*Site),
		individuals: make(map[string]*Individual),
		targets:     make(map[string]*Target),
		results:     make(map[string]*PresenceAbsence),
		locations:   make(map[[2]string]*Location),
		encLocs:     make(map[[2]any]*EncounterLocation),
	}
}

func (m *mockRepo) tick() time.Time {
	m.writes++
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *mockRepo) racing() {
	if m.race != nil {
		race := m.race
		m.race = nil
		race(m)
	}
}

func (m *mockRepo) id() int {
	m.next++
	return m.next
}

func (m *mockRepo) FindSite(_ context.Context, identifier string) (*Site, error) {
	if s, ok := m.sites[identifier]; ok {
		c := *s
		return &c, nil
	}
	return nil, ErrNotFound
}

func (m *mockRepo) InsertSite(_ context.Context, s *Site) (bool, error) {
	m.racing()
	if _, ok := m.sites[s.Identifier]; ok {
		return false, nil
	}
	s.ID, s.Modified = m.id(), m.tick()
	c := *s
	m.sites[s.Identifier] = &c
	return true, nil
}

// UpsertIndividual mirrors the on conflict clause: sex is overwritten,
// details merged, and nothing written when both already match.
func (m *mockRepo) UpsertIndividual(_ context.Context, i *Individual) (bool, bool, error) {
	m.racing()
	cur, ok := m.individuals[i.Identifier]
	if !ok {
		i.ID, i.Modified = m.id(), m.tick()
		c := *i
		m.individuals[i.Identifier] = &c
		return true, true, nil
	}
	merged := cur.Details.Merge(i.Details)
	if sameString(cur.Sex, i.Sex) && merged.Equal(cur.Details) {
		*i = *cur
		return false, false, nil
	}
	cur.Sex, cur.Details, cur.Modified = i.Sex, merged, m.tick()
	*i = *cur
	return false, true, nil
}

func (m *mockRepo) FindEncountersForUpdate(_ context.Context, identifier string) ([]*Encounter, error) {
	var out []*Encounter
	for _, e := range m.encounters {
		if e.Identifier == identifier {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *mockRepo) InsertEncounter(_ context.Context, e *Encounter) (bool, error) {
	m.racing()
	for _, cur := range m.encounters {
		if cur.Identifier == e.Identifier {
			return false, nil
		}
	}
	e.ID, e.Modified = m.id(), m.tick()
	c := *e
	m.encounters = append(m.encounters, &c)
	return true, nil
}

func (m *mockRepo) UpdateEncounter(_ context.Context, e *Encounter) error {
	for i, cur := range m.encounters {
		if cur.ID == e.ID {
			e.Modified = m.tick()
			c := *e
			m.encounters[i] = &c
			return nil
		}
	}
	return ErrNotFound
}

func matchesString(col, v *string) bool {
	return col != nil && v != nil && *col == *v
}

func (m *mockRepo) FindSamplesForUpdate(_ context.Context, identifier, collectionIdentifier *string) ([]*Sample, error) {
	var out []*Sample
	for _, s := range m.samples {
		if matchesString(s.Identifier, identifier) || matchesString(s.CollectionIdentifier, collectionIdentifier) {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *mockRepo) FindSamplesByAnyIdentifier(_ context.Context, value string, _ bool) ([]*Sample, error) {
	var out []*Sample
	for _, s := range m.samples {
		if matchesString(s.Identifier, &value) || matchesString(s.CollectionIdentifier, &value) {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *mockRepo) FindSampleByID(_ context.Context, id int, _ bool) (*Sample, error) {
	for _, s := range m.samples {
		if s.ID == id {
			c := *s
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) InsertSample(_ context.Context, s *Sample) (bool, error) {
	m.racing()
	for _, cur := range m.samples {
		if matchesString(cur.Identifier, s.Identifier) || matchesString(cur.CollectionIdentifier, s.CollectionIdentifier) {
			return false, nil
		}
	}
	s.ID, s.Modified = m.id(), m.tick()
	c := *s
	m.samples = append(m.samples, &c)
	return true, nil
}

// UpdateSample mirrors the column rules of the SQL statement.
func (m *mockRepo) UpdateSample(_ context.Context, id int, u SampleUpdate) (*Sample, error) {
	m.sampleUpdates = append(m.sampleUpdates, u)
	for _, s := range m.samples {
		if s.ID != id {
			continue
		}
		if u.Identifiers {
			if u.Identifier != nil {
				s.Identifier = u.Identifier
			}
			if u.CollectionIdentifier != nil {
				s.CollectionIdentifier = u.CollectionIdentifier
			}
		}
		if u.Metadata {
			if u.Collected != nil && (u.OverwriteCollected || s.Collected == nil) {
				s.Collected = u.Collected
			}
			if u.EncounterID != nil && s.EncounterID == nil {
				s.EncounterID = u.EncounterID
			}
			if len(u.Details) > 0 {
				s.Details = s.Details.Merge(u.Details)
			}
		}
		if u.AccessRole {
			s.AccessRole = u.AccessRoleValue
		}
		s.Modified = m.tick()
		c := *s
		return &c, nil
	}
	return nil, ErrNotFound
}

func (m *mockRepo) FindTarget(_ context.Context, identifier string) (*Target, error) {
	if t, ok := m.targets[identifier]; ok {
		c := *t
		return &c, nil
	}
	return nil, ErrNotFound
}

func (m *mockRepo) InsertTarget(_ context.Context, t *Target) (bool, error) {
	m.racing()
	if _, ok := m.targets[t.Identifier]; ok {
		return false, nil
	}
	t.ID, t.Modified = m.id(), m.tick()
	c := *t
	m.targets[t.Identifier] = &c
	return true, nil
}

func (m *mockRepo) UpsertPresenceAbsence(_ context.Context, p *PresenceAbsence) (bool, bool, error) {
	m.racing()
	cur, ok := m.results[p.Identifier]
	if !ok {
		p.ID, p.Modified = m.id(), m.tick()
		c := *p
		m.results[p.Identifier] = &c
		return true, true, nil
	}
	merged := cur.Details.Merge(p.Details)
	if cur.SampleID == p.SampleID && cur.TargetID == p.TargetID &&
		sameBool(cur.Present, p.Present) && merged.Equal(cur.Details) {
		*p = *cur
		return false, false, nil
	}
	cur.SampleID, cur.TargetID, cur.Present, cur.Details = p.SampleID, p.TargetID, p.Present, merged
	cur.Modified = m.tick()
	*p = *cur
	return false, true, nil
}

func (m *mockRepo) FindLocation(_ context.Context, scale, identifier string, _ bool) (*Location, error) {
	if l, ok := m.locations[[2]string{scale, identifier}]; ok {
		c := *l
		return &c, nil
	}
	return nil, ErrNotFound
}

func (m *mockRepo) UpsertLocation(_ context.Context, l *Location) (bool, bool, error) {
	m.racing()
	key := [2]string{l.Scale, l.Identifier}
	cur, ok := m.locations[key]
	if !ok {
		l.ID, l.Modified = m.id(), m.tick()
		c := *l
		m.locations[key] = &c
		return true, true, nil
	}
	merged := make(Hierarchy, len(cur.Hierarchy)+len(l.Hierarchy))
	changed := false
	for k, v := range cur.Hierarchy {
		merged[k] = v
	}
	for k, v := range l.Hierarchy {
		if old, ok := merged[k]; !ok || old != v {
			changed = true
		}
		merged[k] = v
	}
	if changed {
		cur.Hierarchy, cur.Modified = merged, m.tick()
	}
	*l = *cur
	return false, changed, nil
}

func (m *mockRepo) UpsertEncounterLocation(_ context.Context, el *EncounterLocation) (bool, bool, error) {
	m.racing()
	key := [2]any{el.EncounterID, el.Relation}
	cur, ok := m.encLocs[key]
	if !ok {
		el.Modified = m.tick()
		c := *el
		m.encLocs[key] = &c
		return true, true, nil
	}
	if cur.LocationID == el.LocationID {
		*el = *cur
		return false, false, nil
	}
	cur.LocationID, cur.Modified = el.LocationID, m.tick()
	*el = *cur
	return false, true, nil
}
