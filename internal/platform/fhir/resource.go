// Package fhir reads FHIR R4 bundles received as JSON documents. Only the
// elements the ETL routines consume are modeled; the raw resource is kept
// for everything else.
package fhir

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Code returns the concept's code in system, or "" when it has none. More
// than one coding in the same system is an error.
func (c *CodeableConcept) Code(system string) (string, error) {
	if c == nil {
		return "", nil
	}
	var found []string
	for _, coding := range c.Coding {
		if coding.System == system {
			found = append(found, coding.Code)
		}
	}
	switch len(found) {
	case 0:
		return "", nil
	case 1:
		return found[0], nil
	}
	return "", fmt.Errorf("multiple codings for system %s", system)
}

type Identifier struct {
	Use    string `json:"use,omitempty"`
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Reference points at another resource, either by URL (usually a bundle
// entry's urn:uuid fullUrl) or by a logical identifier.
type Reference struct {
	Reference  string      `json:"reference,omitempty"`
	Type       string      `json:"type,omitempty"`
	Identifier *Identifier `json:"identifier,omitempty"`
	Display    string      `json:"display,omitempty"`
}

// Period bounds are FHIR dateTime strings, which may be partial dates.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

var dateTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02", "2006-01", "2006"}

// ParseDateTime parses a FHIR dateTime, including its reduced precision
// forms.
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid FHIR dateTime %q", s)
}

// Resource holds the elements shared by every resource type the routines
// read. Fields a type does not define are left zero.
type Resource struct {
	ResourceType string            `json:"resourceType"`
	ID           string            `json:"id,omitempty"`
	Identifier   []Identifier      `json:"identifier,omitempty"`
	Contained    []json.RawMessage `json:"contained,omitempty"`

	// Patient
	Gender string `json:"gender,omitempty"`

	// Encounter
	Period   *Period             `json:"period,omitempty"`
	Location []EncounterLocation `json:"location,omitempty"`

	// Observation, QuestionnaireResponse
	Subject      *Reference          `json:"subject,omitempty"`
	Encounter    *Reference          `json:"encounter,omitempty"`
	Specimen     json.RawMessage     `json:"specimen,omitempty"`
	Code         *CodeableConcept    `json:"code,omitempty"`
	Device       *Reference          `json:"device,omitempty"`
	ValueBoolean *bool               `json:"valueBoolean,omitempty"`
	Item         []QuestionnaireItem `json:"item,omitempty"`

	// DiagnosticReport
	Result []Reference `json:"result,omitempty"`

	// Location
	PartOf *Reference `json:"partOf,omitempty"`

	// Location and Specimen
	Type json.RawMessage `json:"type,omitempty"`

	raw json.RawMessage
}

type EncounterLocation struct {
	Location Reference `json:"location"`
}

type QuestionnaireItem struct {
	LinkID string                `json:"linkId"`
	Answer []QuestionnaireAnswer `json:"answer,omitempty"`
}

type QuestionnaireAnswer struct {
	ValueInteger *int     `json:"valueInteger,omitempty"`
	ValueDecimal *float64 `json:"valueDecimal,omitempty"`
	ValueString  string   `json:"valueString,omitempty"`
	ValueBoolean *bool    `json:"valueBoolean,omitempty"`
}

// ParseResource decodes one resource and keeps its raw JSON.
func ParseResource(data json.RawMessage) (*Resource, error) {
	var r Resource
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if r.ResourceType == "" {
		return nil, fmt.Errorf("resource has no resourceType")
	}
	r.raw = data
	return &r, nil
}

// Raw returns the resource as received.
func (r *Resource) Raw() json.RawMessage { return r.raw }

// IdentifierValue returns the value of the resource's identifier in
// system, or "" when it has none. More than one is an error.
func (r *Resource) IdentifierValue(system string) (string, error) {
	var found []string
	for _, id := range r.Identifier {
		if id.System == system {
			found = append(found, id.Value)
		}
	}
	switch len(found) {
	case 0:
		return "", nil
	case 1:
		return found[0], nil
	}
	return "", fmt.Errorf("%s has more than one identifier in system %s", r.ResourceType, system)
}

// SpecimenReferences returns the specimen element as a list; Observation
// holds a single reference and DiagnosticReport an array.
func (r *Resource) SpecimenReferences() ([]Reference, error) {
	if len(r.Specimen) == 0 {
		return nil, nil
	}
	if r.Specimen[0] == '[' {
		var refs []Reference
		err := json.Unmarshal(r.Specimen, &refs)
		return refs, err
	}
	var ref Reference
	if err := json.Unmarshal(r.Specimen, &ref); err != nil {
		return nil, err
	}
	return []Reference{ref}, nil
}

// TypeConcepts returns the type element as a list; Location holds an array
// of concepts and Specimen a single one.
func (r *Resource) TypeConcepts() ([]CodeableConcept, error) {
	if len(r.Type) == 0 {
		return nil, nil
	}
	if r.Type[0] == '[' {
		var cs []CodeableConcept
		err := json.Unmarshal(r.Type, &cs)
		return cs, err
	}
	var c CodeableConcept
	if err := json.Unmarshal(r.Type, &c); err != nil {
		return nil, err
	}
	return []CodeableConcept{c}, nil
}
