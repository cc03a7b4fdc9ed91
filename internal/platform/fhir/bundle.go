package fhir

import (
	"encoding/json"
	"fmt"
)

type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Entry        []BundleEntry `json:"entry,omitempty"`

	byURL map[string]*Resource
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`

	parsed *Resource
}

// Parsed returns the entry's decoded resource; it is nil before Index.
func (e *BundleEntry) Parsed() *Resource { return e.parsed }

// ParseBundle decodes a bundle of the given type and indexes its entries.
func ParseBundle(data []byte, bundleType string) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if b.ResourceType != "Bundle" {
		return nil, fmt.Errorf("expected a Bundle resource, got %q", b.ResourceType)
	}
	if bundleType != "" && b.Type != bundleType {
		return nil, fmt.Errorf("expected a %s bundle, got %q", bundleType, b.Type)
	}
	if err := b.index(); err != nil {
		return nil, err
	}
	return &b, nil
}

func (b *Bundle) index() error {
	b.byURL = make(map[string]*Resource, len(b.Entry))
	for i := range b.Entry {
		e := &b.Entry[i]
		r, err := ParseResource(e.Resource)
		if err != nil {
			return fmt.Errorf("bundle entry %d: %w", i, err)
		}
		e.parsed = r
		if e.FullURL != "" {
			b.byURL[e.FullURL] = r
		}
	}
	return nil
}

// Resolve returns the resource a reference points at within the bundle,
// or nil.
func (b *Bundle) Resolve(ref *Reference) *Resource {
	if ref == nil || ref.Reference == "" {
		return nil
	}
	return b.byURL[ref.Reference]
}

// ByType groups the bundle's resources by resourceType, in entry order.
func (b *Bundle) ByType() map[string][]*Resource {
	out := make(map[string][]*Resource)
	for i := range b.Entry {
		r := b.Entry[i].parsed
		out[r.ResourceType] = append(out[r.ResourceType], r)
	}
	return out
}

// Referencing returns the resources whose subject or encounter reference
// points at url, grouped by type.
func (b *Bundle) Referencing(url string) map[string][]*Resource {
	out := make(map[string][]*Resource)
	for i := range b.Entry {
		r := b.Entry[i].parsed
		if (r.Subject != nil && r.Subject.Reference == url) || (r.Encounter != nil && r.Encounter.Reference == url) {
			out[r.ResourceType] = append(out[r.ResourceType], r)
		}
	}
	return out
}
