package identifier

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("identifier not found")
	ErrSetExists    = errors.New("identifier set already exists")
	ErrSetUseExists = errors.New("identifier set use already exists")
	ErrUnknownUse   = errors.New("unknown identifier set use")
	ErrInvalidCount = errors.New("count must be a positive integer")
	ErrInvalidSet   = errors.New("invalid identifier set")
)

// SetNotFoundError reports a mint or lookup against a set name that does
// not exist.
type SetNotFoundError struct {
	Name string
}

func (e *SetNotFoundError) Error() string {
	return fmt.Sprintf("identifier set %q not found", e.Name)
}

func (e *SetNotFoundError) Unwrap() error { return ErrNotFound }

// TooManyFailuresError aborts a mint after Count consecutive barcode
// candidates were rejected by the database.
type TooManyFailuresError struct {
	Count int
}

func (e *TooManyFailuresError) Error() string {
	return fmt.Sprintf("Too many consecutive failures (%d); trying again may succeed", e.Count)
}
