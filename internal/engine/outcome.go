package engine

import "github.com/seattleflu/id3c-sub000/internal/domain/receiving"

// Outcome is a transform's verdict on a document. Failure is not an
// Outcome; a transform signals it by returning an error.
type Outcome struct {
	status receiving.Status
	extra  map[string]any
}

// Processed marks the document handled. extra is recorded in its
// processing log entry.
func Processed(extra map[string]any) Outcome {
	return Outcome{status: receiving.StatusProcessed, extra: extra}
}

// Skipped marks the document as not actionable. Writes made before the
// skip are kept.
func Skipped(extra map[string]any) Outcome {
	return Outcome{status: receiving.StatusSkipped, extra: extra}
}

// SkippedBecause is Skipped with a "reason" field.
func SkippedBecause(reason string) Outcome {
	return Skipped(map[string]any{"reason": reason})
}

func (o Outcome) Status() receiving.Status { return o.status }
func (o Outcome) Extra() map[string]any    { return o.extra }

// IsZero reports whether o was constructed by neither Processed nor Skipped.
func (o Outcome) IsZero() bool { return o.status == "" }
