package identifier

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence surface for identifiers, sets and set uses.
// Implementations return ErrNotFound when a single-row lookup matches
// nothing.
type Repository interface {
	ListSetUses(ctx context.Context) ([]*SetUse, error)
	CreateSetUse(ctx context.Context, use *SetUse) error

	GetSet(ctx context.Context, name string) (*Set, error)
	ListSets(ctx context.Context) ([]*Set, error)
	CreateSet(ctx context.Context, set *Set) error
	// MakeSet creates the set or updates its use and description, reporting
	// whether a row was written.
	MakeSet(ctx context.Context, set *Set) (bool, error)

	Insert(ctx context.Context, id *Identifier) error
	GetByUUID(ctx context.Context, id uuid.UUID) (*Identifier, error)
	GetByBarcode(ctx context.Context, barcode string) (*Identifier, error)

	ListBatches(ctx context.Context, setName string) ([]*Batch, error)
	ListBatch(ctx context.Context, setName string, generated time.Time) ([]*Identifier, error)
}
