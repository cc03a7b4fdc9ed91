package receiving

import (
	"context"
	"io"
)

// Repository reads and appends to the receiving log. Bodies passed to
// Insert must already be valid JSON; CopyNDJSON validates each line.
type Repository interface {
	Insert(ctx context.Context, table Table, body []byte) (int64, error)
	CopyNDJSON(ctx context.Context, table Table, r io.Reader) (int64, error)

	// Claim locks and returns, in id order, the rows whose processing log
	// has no entry for tag.
	Claim(ctx context.Context, table Table, tag Tag, opts ClaimOptions) ([]*Document, error)
	AppendLog(ctx context.Context, table Table, id int64, entry LogEntry) error
	ProcessingLog(ctx context.Context, table Table, id int64) ([]LogEntry, error)
}
