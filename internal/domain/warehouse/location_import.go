package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// LocationFeature is one location read from a GeoJSON feature collection.
type LocationFeature struct {
	Scale      string
	Identifier string
	Hierarchy  Hierarchy
}

// FeatureOptions says where each location's fields come from.
type FeatureOptions struct {
	// Scale applies to every feature and overrides ScaleFrom.
	Scale string
	// ScaleFrom names the property holding the scale. Default "scale".
	ScaleFrom string
	// IdentifierFrom names the property holding the identifier. The
	// feature's own id is used when empty.
	IdentifierFrom string
	// Hierarchy is added to every feature's hierarchy, winning on shared
	// keys.
	Hierarchy Hierarchy
	// HierarchyFrom names the property holding the hierarchy, either an
	// object or "key=>value, ..." text. Default "hierarchy".
	HierarchyFrom string
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	ID         json.RawMessage            `json:"id"`
	Properties map[string]json.RawMessage `json:"properties"`
}

// ReadLocationFeatures parses a GeoJSON FeatureCollection. Geometries are
// ignored. Numeric ids and properties are kept as written, so a census
// tract like 53033005302 stays an exact identifier.
func ReadLocationFeatures(r io.Reader, opts FeatureOptions) ([]LocationFeature, error) {
	if opts.ScaleFrom == "" {
		opts.ScaleFrom = "scale"
	}
	if opts.HierarchyFrom == "" {
		opts.HierarchyFrom = "hierarchy"
	}

	var fc featureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected a GeoJSON FeatureCollection, got type %q", fc.Type)
	}

	out := make([]LocationFeature, 0, len(fc.Features))
	for i, f := range fc.Features {
		loc, err := opts.location(f)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		out = append(out, loc)
	}
	return out, nil
}

func (opts FeatureOptions) location(f feature) (LocationFeature, error) {
	var loc LocationFeature

	loc.Scale = opts.Scale
	if loc.Scale == "" {
		s, err := scalar(f.Properties[opts.ScaleFrom])
		if err != nil {
			return loc, fmt.Errorf("scale property %q: %w", opts.ScaleFrom, err)
		}
		loc.Scale = s
	}

	raw := f.ID
	if opts.IdentifierFrom != "" {
		raw = f.Properties[opts.IdentifierFrom]
	}
	id, err := scalar(raw)
	if err != nil {
		return loc, fmt.Errorf("identifier: %w", err)
	}
	loc.Identifier = id

	if loc.Scale == "" || loc.Identifier == "" {
		return loc, errors.New("missing scale or identifier")
	}

	loc.Hierarchy = make(Hierarchy)
	if raw, ok := f.Properties[opts.HierarchyFrom]; ok && !isNull(raw) {
		h, err := decodeHierarchy(raw)
		if err != nil {
			return loc, fmt.Errorf("hierarchy property %q: %w", opts.HierarchyFrom, err)
		}
		for k, v := range h {
			loc.Hierarchy[k] = v
		}
	}
	for k, v := range opts.Hierarchy {
		loc.Hierarchy[k] = v
	}
	return loc, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// scalar renders a JSON string or number as text. Numbers keep their
// literal spelling.
func scalar(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("expected a string or number, got %s", raw)
}

func decodeHierarchy(raw json.RawMessage) (Hierarchy, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return ParseHierarchy(text)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("expected an object or key=>value text, got %s", raw)
	}
	h := make(Hierarchy, len(obj))
	for k, v := range obj {
		s, err := scalar(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		h[k] = s
	}
	return h, nil
}

// ParseHierarchy reads "country => US, state => WA". Keys are lowercased;
// empty text is an empty hierarchy.
func ParseHierarchy(text string) (Hierarchy, error) {
	h := make(Hierarchy)
	for _, pair := range strings.Split(text, ",") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=>")
		k, v = lower(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("invalid hierarchy pair %q, expected key=>value", strings.TrimSpace(pair))
		}
		h[k] = v
	}
	return h, nil
}

// ImportStats counts the outcome of ImportLocations.
type ImportStats struct {
	Created   int
	Updated   int
	Unchanged int
}

// ImportLocations upserts every feature in order and stops at the first
// failure.
func (s *Service) ImportLocations(ctx context.Context, features []LocationFeature) (ImportStats, error) {
	var st ImportStats
	for _, f := range features {
		_, res, err := s.UpsertLocation(ctx, f.Scale, f.Identifier, f.Hierarchy)
		if err != nil {
			return st, err
		}
		switch {
		case res.Status == StatusCreated:
			st.Created++
		case res.Written:
			st.Updated++
		default:
			st.Unchanged++
		}
	}
	s.logger.Info().
		Int("created", st.Created).
		Int("updated", st.Updated).
		Int("unchanged", st.Unchanged).
		Msgf("Imported %d locations", len(features))
	return st, nil
}
