package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seattleflu/id3c-sub000/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func notFound(err error) error {
	if db.IsNoRows(err) {
		return ErrNotFound
	}
	return err
}

// inserted reports whether an insert ... on conflict do nothing returning
// statement produced its row.
func inserted(err error) (bool, error) {
	if db.IsNoRows(err) {
		return false, nil
	}
	return err == nil, err
}

func forUpdate(lock bool) string {
	if lock {
		return " for update"
	}
	return ""
}

// -- Site --

func (r *repoPG) FindSite(ctx context.Context, identifier string) (*Site, error) {
	var s Site
	err := r.conn(ctx).QueryRow(ctx, `
		select site_id, identifier, details, modified
		  from warehouse.site
		 where identifier = $1`, identifier).
		Scan(&s.ID, &s.Identifier, &s.Details, &s.Modified)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *repoPG) InsertSite(ctx context.Context, s *Site) (bool, error) {
	return inserted(r.conn(ctx).QueryRow(ctx, `
		insert into warehouse.site (identifier, details)
		values ($1, $2)
		on conflict (identifier) do nothing
		returning site_id, modified`,
		s.Identifier, s.Details).Scan(&s.ID, &s.Modified))
}

// -- Individual --

func (r *repoPG) UpsertIndividual(ctx context.Context, i *Individual) (ins, written bool, err error) {
	err = r.conn(ctx).QueryRow(ctx, `
		insert into warehouse.individual as i (identifier, sex, details)
		values ($1, $2, $3)
		on conflict (identifier) do update
		   set sex = excluded.sex,
		       details = coalesce(i.details, '{}') || coalesce(excluded.details, '{}'),
		       modified = now()
		 where (i.sex, coalesce(i.details, '{}') || coalesce(excluded.details, '{}'))
		       is distinct from (excluded.sex, coalesce(i.details, '{}'))
		returning individual_id, sex, details, modified, (xmax = 0)`,
		i.Identifier, i.Sex, i.Details).Scan(&i.ID, &i.Sex, &i.Details, &i.Modified, &ins)
	if db.IsNoRows(err) {
		return false, false, notFound(r.conn(ctx).QueryRow(ctx, `
			select individual_id, sex, details, modified
			  from warehouse.individual
			 where identifier = $1`, i.Identifier).
			Scan(&i.ID, &i.Sex, &i.Details, &i.Modified))
	}
	if err != nil {
		return false, false, err
	}
	return ins, true, nil
}

// -- Encounter --

const encounterColumns = `encounter_id, identifier, individual_id, site_id, encountered, age, details, modified`

func (r *repoPG) FindEncountersForUpdate(ctx context.Context, identifier string) ([]*Encounter, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		select `+encounterColumns+`
		  from warehouse.encounter
		 where identifier = $1
		   for update`, identifier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Encounter
	for rows.Next() {
		var e Encounter
		if err := rows.Scan(&e.ID, &e.Identifier, &e.IndividualID, &e.SiteID,
			&e.Encountered, &e.Age, &e.Details, &e.Modified); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *repoPG) InsertEncounter(ctx context.Context, e *Encounter) (bool, error) {
	return inserted(r.conn(ctx).QueryRow(ctx, `
		insert into warehouse.encounter (identifier, individual_id, site_id, encountered, age, details)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (identifier) do nothing
		returning encounter_id, modified`,
		e.Identifier, e.IndividualID, e.SiteID, e.Encountered, e.Age, e.Details).
		Scan(&e.ID, &e.Modified))
}

func (r *repoPG) UpdateEncounter(ctx context.Context, e *Encounter) error {
	return notFound(r.conn(ctx).QueryRow(ctx, `
		update warehouse.encounter
		   set individual_id = $2,
		       site_id = $3,
		       encountered = $4,
		       age = $5,
		       details = $6,
		       modified = now()
		 where encounter_id = $1
		returning modified`,
		e.ID, e.IndividualID, e.SiteID, e.Encountered, e.Age, e.Details).Scan(&e.Modified))
}

// -- Sample --

const sampleColumns = `sample_id, identifier, collection_identifier, encounter_id, collected, access_role, details, modified`

func scanSamples(rows pgx.Rows) ([]*Sample, error) {
	defer rows.Close()
	var out []*Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.ID, &s.Identifier, &s.CollectionIdentifier, &s.EncounterID,
			&s.Collected, &s.AccessRole, &s.Details, &s.Modified); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *repoPG) FindSamplesForUpdate(ctx context.Context, identifier, collectionIdentifier *string) ([]*Sample, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		select `+sampleColumns+`
		  from warehouse.sample
		 where identifier = $1
		    or collection_identifier = $2
		 order by sample_id
		   for update`, identifier, collectionIdentifier)
	if err != nil {
		return nil, err
	}
	return scanSamples(rows)
}

func (r *repoPG) FindSamplesByAnyIdentifier(ctx context.Context, value string, lock bool) ([]*Sample, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		select `+sampleColumns+`
		  from warehouse.sample
		 where identifier = $1
		    or collection_identifier = $1
		 order by sample_id`+forUpdate(lock), value)
	if err != nil {
		return nil, err
	}
	return scanSamples(rows)
}

func (r *repoPG) FindSampleByID(ctx context.Context, id int, lock bool) (*Sample, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		select `+sampleColumns+`
		  from warehouse.sample
		 where sample_id = $1`+forUpdate(lock), id)
	if err != nil {
		return nil, err
	}
	samples, err := scanSamples(rows)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNotFound
	}
	return samples[0], nil
}

// InsertSample skips the insert when either identifier is taken.
func (r *repoPG) InsertSample(ctx context.Context, s *Sample) (bool, error) {
	return inserted(r.conn(ctx).QueryRow(ctx, `
		insert into warehouse.sample (identifier, collection_identifier, encounter_id, collected, access_role, details)
		values ($1, $2, $3, $4, $5, $6)
		on conflict do nothing
		returning sample_id, modified`,
		s.Identifier, s.CollectionIdentifier, s.EncounterID, s.Collected, s.AccessRole, s.Details).
		Scan(&s.ID, &s.Modified))
}

func (r *repoPG) UpdateSample(ctx context.Context, id int, u SampleUpdate) (*Sample, error) {
	args := []any{id}
	var sets []string
	set := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if u.Identifiers {
		if u.Identifier != nil {
			set("identifier = $%d", *u.Identifier)
		}
		if u.CollectionIdentifier != nil {
			set("collection_identifier = $%d", *u.CollectionIdentifier)
		}
	}
	if u.Metadata {
		if u.Collected != nil {
			if u.OverwriteCollected {
				set("collected = $%d::date", *u.Collected)
			} else {
				set("collected = coalesce(collected, $%d::date)", *u.Collected)
			}
		}
		if u.EncounterID != nil {
			set("encounter_id = coalesce(encounter_id, $%d)", *u.EncounterID)
		}
		if len(u.Details) > 0 {
			set("details = coalesce(details, '{}') || $%d::jsonb", u.Details)
		}
	}
	if u.AccessRole {
		set("access_role = $%d", u.AccessRoleValue)
	}
	sets = append(sets, "modified = now()")

	rows, err := r.conn(ctx).Query(ctx, `
		update warehouse.sample
		   set `+strings.Join(sets, ",\n		       ")+`
		 where sample_id = $1
		returning `+sampleColumns, args...)
	if err != nil {
		return nil, err
	}
	samples, err := scanSamples(rows)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNotFound
	}
	return samples[0], nil
}

// -- Target --

func (r *repoPG) FindTarget(ctx context.Context, identifier string) (*Target, error) {
	var t Target
	err := r.conn(ctx).QueryRow(ctx, `
		select target_id, identifier, control, modified
		  from warehouse.target
		 where identifier = $1`, identifier).
		Scan(&t.ID, &t.Identifier, &t.Control, &t.Modified)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *repoPG) InsertTarget(ctx context.Context, t *Target) (bool, error) {
	return inserted(r.conn(ctx).QueryRow(ctx, `
		insert into warehouse.target (identifier, control)
		values ($1, $2)
		on conflict (identifier) do nothing
		returning target_id, modified`,
		t.Identifier, t.Control).Scan(&t.ID, &t.Modified))
}

// -- Presence/absence --

func (r *repoPG) UpsertPresenceAbsence(ctx context.Context, p *PresenceAbsence) (ins, written bool, err error) {
	err = r.conn(ctx).QueryRow(ctx, `
		insert into warehouse.presence_absence as pa (identifier, sample_id, target_id, present, details)
		values ($1, $2, $3, $4, $5)
		on conflict (identifier) do update
		   set sample_id = excluded.sample_id,
		       target_id = excluded.target_id,
		       present = excluded.present,
		       details = coalesce(pa.details, '{}') || coalesce(excluded.details, '{}'),
		       modified = now()
		 where (pa.sample_id, pa.target_id, pa.present, coalesce(pa.details, '{}') || coalesce(excluded.details, '{}'))
		       is distinct from (excluded.sample_id, excluded.target_id, excluded.present, coalesce(pa.details, '{}'))
		returning presence_absence_id, details, modified, (xmax = 0)`,
		p.Identifier, p.SampleID, p.TargetID, p.Present, p.Details).
		Scan(&p.ID, &p.Details, &p.Modified, &ins)
	if db.IsNoRows(err) {
		return false, false, notFound(r.conn(ctx).QueryRow(ctx, `
			select presence_absence_id, details, modified
			  from warehouse.presence_absence
			 where identifier = $1`, p.Identifier).
			Scan(&p.ID, &p.Details, &p.Modified))
	}
	if err != nil {
		return false, false, err
	}
	return ins, true, nil
}

// -- Location --

func (r *repoPG) FindLocation(ctx context.Context, scale, identifier string, lock bool) (*Location, error) {
	var l Location
	err := r.conn(ctx).QueryRow(ctx, `
		select location_id, scale, identifier, hierarchy, modified
		  from warehouse.location
		 where (scale, identifier) = ($1, $2)`+forUpdate(lock), scale, identifier).
		Scan(&l.ID, &l.Scale, &l.Identifier, &l.Hierarchy, &l.Modified)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (r *repoPG) UpsertLocation(ctx context.Context, l *Location) (ins, written bool, err error) {
	err = r.conn(ctx).QueryRow(ctx, `
		insert into warehouse.location as l (scale, identifier, hierarchy)
		values ($1, $2, $3)
		on conflict (scale, identifier) do update
		   set hierarchy = coalesce(l.hierarchy, '{}') || excluded.hierarchy,
		       modified = now()
		 where coalesce(l.hierarchy, '{}') || excluded.hierarchy
		       is distinct from l.hierarchy
		returning location_id, hierarchy, modified, (xmax = 0)`,
		l.Scale, l.Identifier, l.Hierarchy).Scan(&l.ID, &l.Hierarchy, &l.Modified, &ins)
	if db.IsNoRows(err) {
		current, err := r.FindLocation(ctx, l.Scale, l.Identifier, false)
		if err != nil {
			return false, false, err
		}
		*l = *current
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return ins, true, nil
}

// -- Encounter location --

func (r *repoPG) UpsertEncounterLocation(ctx context.Context, el *EncounterLocation) (ins, written bool, err error) {
	err = r.conn(ctx).QueryRow(ctx, `
		insert into warehouse.encounter_location as el (encounter_id, relation, location_id)
		values ($1, $2, $3)
		on conflict (encounter_id, relation) do update
		   set location_id = excluded.location_id,
		       modified = now()
		 where el.location_id is distinct from excluded.location_id
		returning modified, (xmax = 0)`,
		el.EncounterID, el.Relation, el.LocationID).Scan(&el.Modified, &ins)
	if db.IsNoRows(err) {
		return false, false, notFound(r.conn(ctx).QueryRow(ctx, `
			select modified
			  from warehouse.encounter_location
			 where (encounter_id, relation) = ($1, $2)`, el.EncounterID, el.Relation).
			Scan(&el.Modified))
	}
	if err != nil {
		return false, false, err
	}
	return ins, true, nil
}
