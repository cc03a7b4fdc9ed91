package warehouse

import (
	"encoding/json"
	"reflect"
	"regexp"
)

// Details is a free-form JSON object attached to a warehouse row.
//
// Details merge at the top level only: keys present in the incoming object
// replace the existing value whole, keys absent from it are left alone.
// Nested objects are never merged.
type Details map[string]any

// Merge returns a new Details holding d overlaid with in. Neither argument
// is modified.
func (d Details) Merge(in Details) Details {
	if d == nil && in == nil {
		return nil
	}
	out := make(Details, len(d)+len(in))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Equal compares d and o as JSON documents, so values that differ only in
// Go type (int vs float64, typed vs untyped maps) compare equal. A nil
// Details equals an empty one.
func (d Details) Equal(o Details) bool {
	if len(d) == 0 && len(o) == 0 {
		return true
	}
	a, errA := normalize(d)
	b, errB := normalize(o)
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var urnUUID = regexp.MustCompile(`^urn:uuid:[a-f0-9-]{36}$`)

// withoutURNUUIDs blanks every "urn:uuid:..." string value. FHIR bundles
// mint these references afresh on each export, so they carry no data.
func withoutURNUUIDs(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = withoutURNUUIDs(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = withoutURNUUIDs(val)
		}
		return out
	case string:
		if urnUUID.MatchString(t) {
			return ""
		}
	}
	return v
}

// equalIgnoringURNUUIDs is Equal after blanking urn:uuid references.
func equalIgnoringURNUUIDs(a, b Details) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	na, errA := normalize(a)
	nb, errB := normalize(b)
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(withoutURNUUIDs(na), withoutURNUUIDs(nb))
}
