package warehouse

import (
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Status tells callers whether an upsert inserted or matched a row.
type Status string

const (
	StatusCreated Status = "created"
	StatusUpdated Status = "updated"
)

// Result describes an upsert. Written is false when an existing row already
// held the incoming values and no statement was issued.
type Result struct {
	Status  Status
	Written bool
}

func created() Result { return Result{Status: StatusCreated, Written: true} }
func updated(written bool) Result { return Result{Status: StatusUpdated, Written: written} }

type Site struct {
	ID         int
	Identifier string
	Details    Details
	Modified   time.Time
}

type Individual struct {
	ID         int
	Identifier string
	Sex        *string
	Details    Details
	Modified   time.Time
}

type Encounter struct {
	ID           int
	Identifier   string
	IndividualID int
	SiteID       int
	Encountered  time.Time
	Age          pgtype.Interval
	Details      Details
	Modified     time.Time
}

type Sample struct {
	ID                   int
	Identifier           *string
	CollectionIdentifier *string
	EncounterID          *int
	Collected            *time.Time
	AccessRole           *string
	Details              Details
	Modified             time.Time
}

type Target struct {
	ID         int
	Identifier string
	Control    bool
	Modified   time.Time
}

type PresenceAbsence struct {
	ID         int
	Identifier string
	SampleID   int
	TargetID   int
	Present    *bool
	Details    Details
	Modified   time.Time
}

// Hierarchy maps location scales to identifiers, e.g. {"state": "wa"}.
type Hierarchy map[string]string

type Location struct {
	ID         int
	Scale      string
	Identifier string
	Hierarchy  Hierarchy
	Modified   time.Time
}

type EncounterLocation struct {
	EncounterID int
	Relation    string
	LocationID  int
	Modified    time.Time
}

// AgeFromYears converts a fractional age in years to a month-resolution
// interval.
func AgeFromYears(years float64) pgtype.Interval {
	return pgtype.Interval{Months: int32(math.Round(years * 12)), Valid: true}
}

func sameBool(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Date drops the time of day. The result is midnight UTC of t's calendar
// day, which is how pgx scans a date column.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameDate compares calendar days only.
func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return Date(*a).Equal(Date(*b))
}

func sameInterval(a, b pgtype.Interval) bool {
	if !a.Valid || !b.Valid {
		return a.Valid == b.Valid
	}
	return a.Months == b.Months && a.Days == b.Days && a.Microseconds == b.Microseconds
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// normalizeTimestamp matches the microsecond precision of timestamptz.
func normalizeTimestamp(t time.Time) time.Time {
	return t.Truncate(time.Microsecond)
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
