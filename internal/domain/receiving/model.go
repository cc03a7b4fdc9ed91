package receiving

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Table names a receiving log table in the receiving schema.
type Table string

const (
	Enrollment      Table = "enrollment"
	PresenceAbsence Table = "presence_absence"
	Manifest        Table = "manifest"
	FHIR            Table = "fhir"
	Clinical        Table = "clinical"
	RedcapDET       Table = "redcap_det"
	SequenceReadSet Table = "sequence_read_set"
	ConsensusGenome Table = "consensus_genome"
)

// Tables lists every receiving table.
var Tables = []Table{
	Enrollment, PresenceAbsence, Manifest, FHIR,
	Clinical, RedcapDET, SequenceReadSet, ConsensusGenome,
}

// ParseTable accepts a table name in either underscore or hyphen form.
func ParseTable(s string) (Table, error) {
	name := Table(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, t := range Tables {
		if t == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown receiving table %q", s)
}

// Slug is the hyphenated form used in URLs.
func (t Table) Slug() string { return strings.ReplaceAll(string(t), "_", "-") }

// IDColumn is the table's surrogate key column.
func (t Table) IDColumn() string { return string(t) + "_id" }

// Identifier is the schema-qualified, quotable table name.
func (t Table) Identifier() pgx.Identifier { return pgx.Identifier{"receiving", string(t)} }

// Tag identifies one revision of a routine. Its JSON form is the object
// searched for in processing logs.
type Tag struct {
	Name     string `json:"etl"`
	Revision int    `json:"revision"`
}

func (t Tag) String() string { return fmt.Sprintf("%s@%d", t.Name, t.Revision) }

type Status string

const (
	StatusProcessed Status = "processed"
	StatusSkipped   Status = "skipped"
)

// LogEntry is one element of a document's processing log. Extra fields sit
// alongside the fixed keys in the same JSON object and cannot shadow them.
type LogEntry struct {
	Tag
	Status    Status
	Timestamp time.Time
	Extra     map[string]any
}

func (e LogEntry) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Extra)+4)
	for k, v := range e.Extra {
		obj[k] = v
	}
	obj["etl"] = e.Name
	obj["revision"] = e.Revision
	obj["status"] = e.Status
	obj["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(obj)
}

func (e *LogEntry) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	fixed := map[string]any{
		"etl":       &e.Name,
		"revision":  &e.Revision,
		"status":    &e.Status,
		"timestamp": &e.Timestamp,
	}
	e.Extra = nil
	for k, raw := range obj {
		if dst, ok := fixed[k]; ok {
			if err := json.Unmarshal(raw, dst); err != nil {
				return fmt.Errorf("processing log %s: %w", k, err)
			}
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if e.Extra == nil {
			e.Extra = make(map[string]any)
		}
		e.Extra[k] = v
	}
	return nil
}

// Document is a claimed receiving row.
type Document struct {
	Table    Table
	ID       int64
	Body     json.RawMessage
	Received time.Time
}

// Decode unmarshals the document body into v.
func (d *Document) Decode(v any) error {
	if err := json.Unmarshal(d.Body, v); err != nil {
		return fmt.Errorf("decode %s %d: %w", d.Table, d.ID, err)
	}
	return nil
}

// ClaimOptions narrows a claim.
type ClaimOptions struct {
	// Limit caps the number of rows claimed; zero claims all.
	Limit int
	// SkipLocked passes over rows locked by a concurrent run instead of
	// waiting for them.
	SkipLocked bool
}
