package warehouse

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrMissingIdentifier rejects a sample upsert naming neither an
	// identifier nor a collection identifier.
	ErrMissingIdentifier = errors.New("sample upsert requires an identifier or a collection identifier")
)

// AmbiguousMatchError reports a natural-key lookup that matched more than
// one row. It is never resolved automatically.
type AmbiguousMatchError struct {
	Entity  string
	Key     string
	Matches []int
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("more than one %s matching %s: ids %v", e.Entity, e.Key, e.Matches)
}

// EncounterConflictError refuses to relink a sample already attached to a
// different encounter.
type EncounterConflictError struct {
	SampleID  int
	Current   int
	Requested int
}

func (e *EncounterConflictError) Error() string {
	return fmt.Sprintf("sample %d already linked to another encounter %d (requested %d)", e.SampleID, e.Current, e.Requested)
}
