package model

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
)

// ValueKind identifies which variant a Value holds.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
)

// Value is a single lead field: a string, number, bool or null.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
}

// String builds a string Value. Empty strings become Null.
func String(s string) Value {
	if s == "" {
		return Null()
	}
	return Value{kind: KindString, str: s}
}

// Number builds a numeric Value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool builds a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Null returns the null Value.
func Null() Value { return Value{} }

// Kind reports the variant held by v.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// String renders v for use in prompts and exports. Null renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// MarshalJSON encodes v as the matching JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON scalar. Arrays and objects are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Null()
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "model: decode string value")
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return eris.Wrap(err, "model: decode bool value")
		}
		*v = Bool(b)
	case '[', '{':
		return eris.Errorf("model: lead values must be scalars, got %s", string(data[:1]))
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return eris.Wrap(err, "model: decode number value")
		}
		*v = Number(n)
	}
	return nil
}

// Lead is one prospective-customer record, keyed by column name.
type Lead map[string]Value

// Keys returns the lead's field names in sorted order.
func (l Lead) Keys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the string form of a field, or "" when missing.
func (l Lead) Get(key string) string {
	return l[key].String()
}

// Without returns a copy of the lead with the named fields removed.
func (l Lead) Without(fields []string) Lead {
	drop := make(map[string]bool, len(fields))
	for _, f := range fields {
		drop[f] = true
	}
	out := make(Lead, len(l))
	for k, v := range l {
		if !drop[k] {
			out[k] = v
		}
	}
	return out
}

// Clone returns a shallow copy of the lead. Values are immutable.
func (l Lead) Clone() Lead {
	if l == nil {
		return nil
	}
	out := make(Lead, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// LeadFromStrings builds a Lead from a column→text map, as produced by CSV rows.
func LeadFromStrings(row map[string]string) Lead {
	l := make(Lead, len(row))
	for k, v := range row {
		l[k] = String(v)
	}
	return l
}
