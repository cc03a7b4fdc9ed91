package identifier

import (
	"time"

	"github.com/google/uuid"
)

// SetUse classifies what the identifiers of a set label.
type SetUse struct {
	Use         string `json:"use"`
	Description string `json:"description"`
}

// Set is a named group of identifiers.
type Set struct {
	ID          int     `json:"identifier_set_id"`
	Name        string  `json:"name"`
	Use         string  `json:"use"`
	Description *string `json:"description,omitempty"`
}

// Identifier pairs a UUID with the short barcode printed on labels.
type Identifier struct {
	UUID      uuid.UUID `json:"uuid"`
	Barcode   string    `json:"barcode"`
	SetID     int       `json:"-"`
	SetName   string    `json:"set_name"`
	SetUse    string    `json:"set_use"`
	Generated time.Time `json:"generated"`
}

// Batch is the group of identifiers produced by one mint.
type Batch struct {
	SetName   string    `json:"set_name"`
	Generated time.Time `json:"generated"`
	Count     int       `json:"count"`
}
