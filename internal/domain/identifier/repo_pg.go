package identifier

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
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

func (r *repoPG) ListSetUses(ctx context.Context) ([]*SetUse, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		select use, description
		  from warehouse.identifier_set_use
		 order by use`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uses []*SetUse
	for rows.Next() {
		var u SetUse
		if err := rows.Scan(&u.Use, &u.Description); err != nil {
			return nil, err
		}
		uses = append(uses, &u)
	}
	return uses, rows.Err()
}

func (r *repoPG) CreateSetUse(ctx context.Context, use *SetUse) error {
	_, err := r.conn(ctx).Exec(ctx, `
		insert into warehouse.identifier_set_use (use, description)
		values ($1, $2)`,
		use.Use, use.Description)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrSetUseExists, use.Use)
	}
	return err
}

const setColumns = `identifier_set_id, name, use, description`

func scanSet(row pgx.Row) (*Set, error) {
	var s Set
	if err := row.Scan(&s.ID, &s.Name, &s.Use, &s.Description); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) GetSet(ctx context.Context, name string) (*Set, error) {
	return scanSet(r.conn(ctx).QueryRow(ctx, `
		select `+setColumns+`
		  from warehouse.identifier_set
		 where name = $1`, name))
}

func (r *repoPG) ListSets(ctx context.Context) ([]*Set, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		select `+setColumns+`
		  from warehouse.identifier_set
		 order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*Set
	for rows.Next() {
		s, err := scanSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, s)
	}
	return sets, rows.Err()
}

func (r *repoPG) CreateSet(ctx context.Context, set *Set) error {
	err := r.conn(ctx).QueryRow(ctx, `
		insert into warehouse.identifier_set (name, use, description)
		values ($1, $2, $3)
		returning identifier_set_id`,
		set.Name, set.Use, set.Description).Scan(&set.ID)
	switch {
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: %s", ErrSetExists, set.Name)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %s", ErrUnknownUse, set.Use)
	}
	return err
}

func (r *repoPG) MakeSet(ctx context.Context, set *Set) (bool, error) {
	err := r.conn(ctx).QueryRow(ctx, `
		insert into warehouse.identifier_set (name, use, description)
		values ($1, $2, $3)
		on conflict (name) do update
		       set use = excluded.use,
		           description = excluded.description
		     where (identifier_set.use, identifier_set.description)
		           is distinct from (excluded.use, excluded.description)
		returning identifier_set_id`,
		set.Name, set.Use, set.Description).Scan(&set.ID)
	switch {
	case err == nil:
		return true, nil
	case db.IsForeignKeyViolation(err):
		return false, fmt.Errorf("%w: %s", ErrUnknownUse, set.Use)
	case !db.IsNoRows(err):
		return false, err
	}

	// Conflict without a change returns no row.
	current, err := r.GetSet(ctx, set.Name)
	if err != nil {
		return false, err
	}
	set.ID = current.ID
	return false, nil
}

func (r *repoPG) Insert(ctx context.Context, id *Identifier) error {
	_, err := r.conn(ctx).Exec(ctx, `
		insert into warehouse.identifier (uuid, barcode, identifier_set_id, generated)
		values ($1, $2, $3, $4)`,
		id.UUID, id.Barcode, id.SetID, id.Generated)
	return err
}

const identifierSelect = `
	select i.uuid, i.barcode, i.generated, s.identifier_set_id, s.name, s.use
	  from warehouse.identifier i
	  join warehouse.identifier_set s using (identifier_set_id)`

func scanIdentifier(row pgx.Row) (*Identifier, error) {
	var id Identifier
	if err := row.Scan(&id.UUID, &id.Barcode, &id.Generated, &id.SetID, &id.SetName, &id.SetUse); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &id, nil
}

func (r *repoPG) GetByUUID(ctx context.Context, id uuid.UUID) (*Identifier, error) {
	return scanIdentifier(r.conn(ctx).QueryRow(ctx, identifierSelect+` where i.uuid = $1`, id))
}

func (r *repoPG) GetByBarcode(ctx context.Context, barcode string) (*Identifier, error) {
	return scanIdentifier(r.conn(ctx).QueryRow(ctx, identifierSelect+` where i.barcode = $1`, barcode))
}

func (r *repoPG) ListBatches(ctx context.Context, setName string) ([]*Batch, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		select s.name, i.generated, count(*)
		  from warehouse.identifier i
		  join warehouse.identifier_set s using (identifier_set_id)
		 where $1 = '' or s.name = $1
		 group by s.name, i.generated
		 order by i.generated desc, s.name`, setName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.SetName, &b.Generated, &b.Count); err != nil {
			return nil, err
		}
		batches = append(batches, &b)
	}
	return batches, rows.Err()
}

func (r *repoPG) ListBatch(ctx context.Context, setName string, generated time.Time) ([]*Identifier, error) {
	rows, err := r.conn(ctx).Query(ctx, identifierSelect+`
		 where s.name = $1 and i.generated = $2
		 order by i.barcode`, setName, generated)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []*Identifier
	for rows.Next() {
		id, err := scanIdentifier(rows)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
