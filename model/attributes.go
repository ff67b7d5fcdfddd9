package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"reflect"
	"sort"
)

// Attributes is the flat attribute bag of an entity.
type Attributes map[string]any

// Clone returns a shallow copy; a nil receiver yields an empty bag.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	return maps.Clone(a)
}

// Keys returns the attribute names in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsBlank reports whether v counts as "no value" for identities and keys:
// nil, the empty string and numeric zero.
func IsBlank(v any) bool {
	switch n := Normalize(v).(type) {
	case nil:
		return true
	case string:
		return n == ""
	case int64:
		return n == 0
	case float64:
		return n == 0
	}
	return false
}

// Normalize folds the numeric representations produced by Go literals and
// JSON decoding into int64 (integral values) or float64.
func Normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint:
		return int64(n) //nolint:gosec // identities fit in int64
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n) //nolint:gosec // identities fit in int64
	case float32:
		return normalizeFloat(float64(n))
	case float64:
		return normalizeFloat(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return v
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

// SameValue compares two attribute values, treating numerically equal
// numbers of different Go types as equal.
func SameValue(a, b any) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == nil || nb == nil {
		return na == nil && nb == nil
	}
	return reflect.DeepEqual(na, nb)
}

// Key returns the canonical lookup key of an identity value. The second
// result is false for blank identities.
func Key(v any) (string, bool) {
	if IsBlank(v) {
		return "", false
	}
	return fmt.Sprint(Normalize(v)), true
}

// Decode parses a JSON document, converting numbers with Normalize and objects
// to Attributes.
func Decode(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("model: decode: %w", err)
	}
	return normalizeTree(v), nil
}

func normalizeTree(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeTree(e)
		}
		return Attributes(t)
	case []any:
		for i, e := range t {
			t[i] = normalizeTree(e)
		}
		return t
	case json.Number:
		return Normalize(t)
	}
	return v
}

// AsAttributes converts a decoded document or caller-supplied value into an
// attribute bag. Attributes, map[string]any and nil are accepted.
func AsAttributes(v any) (Attributes, bool) {
	switch t := v.(type) {
	case nil:
		return Attributes{}, true
	case Attributes:
		return t, true
	case map[string]any:
		return Attributes(t), true
	}
	return nil, false
}

// AsList converts a payload into a list of attribute bags. A single object
// is wrapped into a one-element list.
func AsList(v any) ([]Attributes, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case []Attributes:
		return t, true
	case []map[string]any:
		out := make([]Attributes, len(t))
		for i, m := range t {
			out[i] = Attributes(m)
		}
		return out, true
	case []any:
		out := make([]Attributes, 0, len(t))
		for _, e := range t {
			a, ok := AsAttributes(e)
			if !ok {
				return nil, false
			}
			out = append(out, a)
		}
		return out, true
	}
	if a, ok := AsAttributes(v); ok {
		return []Attributes{a}, true
	}
	return nil, false
}
