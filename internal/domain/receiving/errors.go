package receiving

import "fmt"

// BadDocumentError rejects a body that is not a JSON document. Line is set
// for newline-delimited uploads.
type BadDocumentError struct {
	Line int
	Err  error
}

func (e *BadDocumentError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: invalid JSON document: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("invalid JSON document: %v", e.Err)
}

func (e *BadDocumentError) Unwrap() error { return e.Err }
