package engine

import (
	"fmt"

	"github.com/seattleflu/id3c-sub000/internal/domain/receiving"
)

// RowError aborts a run. It names the document whose transform failed; the
// document's own writes have been rolled back, earlier documents' have not.
type RowError struct {
	Routine string
	Table   receiving.Table
	RowID   int64
	Err     error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s: %s record %d: %v", e.Routine, e.Table, e.RowID, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }
