// Package document models the free-form metadata tree carried by entities.
//
// A [Value] is an explicit tagged union (null, string, number, bool, list,
// map). Nested fields are addressed by dot-separated [Path]s that are
// resolved segment by segment over [Map] values; there is no reflective
// attribute access anywhere in the tree.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Type identifies the kind of a Value.
type Type int

// Value types.
const (
	TypeNull Type = iota
	TypeString
	TypeNumber
	TypeBool
	TypeList
	TypeMap
)

var typeNames = map[Type]string{
	TypeNull:   "null",
	TypeString: "string",
	TypeNumber: "number",
	TypeBool:   "bool",
	TypeList:   "list",
	TypeMap:    "map",
}

// String returns the type name as written in schema configuration.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseType resolves a type name as written in schema configuration.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return TypeNull, fmt.Errorf("document: unknown value type %q", name)
}

var (
	// ErrEmptyPath is returned when a path has no segments or an empty segment.
	ErrEmptyPath = errors.New("document: empty path segment")

	// ErrNotMap is returned when a path traverses a value that is not a map.
	ErrNotMap = errors.New("document: path traverses a non-map value")

	// ErrUnsupported is returned when converting a Go value with no document form.
	ErrUnsupported = errors.New("document: unsupported value")
)

// Value is a single node of the metadata tree.
type Value struct {
	typ  Type
	str  string
	num  decimal.Decimal
	b    bool
	list []Value
	m    Map
}

// Map is a keyed collection of values; it is the interior node of the tree.
type Map map[string]Value

// Null returns the null value.
func Null() Value { return Value{typ: TypeNull} }

// String returns a string value.
func String(s string) Value { return Value{typ: TypeString, str: s} }

// Number returns a number value holding d exactly.
func Number(d decimal.Decimal) Value { return Value{typ: TypeNumber, num: d} }

// Int returns a number value for an integer.
func Int(n int64) Value { return Number(decimal.NewFromInt(n)) }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{typ: TypeBool, b: b} }

// List returns a list value over items.
func List(items ...Value) Value { return Value{typ: TypeList, list: items} }

// Object wraps a map as a value. A nil map becomes an empty one.
func Object(m Map) Value {
	if m == nil {
		m = Map{}
	}
	return Value{typ: TypeMap, m: m}
}

// Type returns the kind of the value.
func (v Value) Type() Type { return v.typ }

// AsString returns the string and whether v is a string.
func (v Value) AsString() (string, bool) { return v.str, v.typ == TypeString }

// AsNumber returns the number and whether v is a number.
func (v Value) AsNumber() (decimal.Decimal, bool) { return v.num, v.typ == TypeNumber }

// AsBool returns the boolean and whether v is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.typ == TypeBool }

// AsList returns the items and whether v is a list.
func (v Value) AsList() ([]Value, bool) { return v.list, v.typ == TypeList }

// AsMap returns the map and whether v is a map.
func (v Value) AsMap() (Map, bool) { return v.m, v.typ == TypeMap }

// Text coerces the value to its string form. Numbers render without
// exponent or trailing zeros, lists and maps render as JSON.
func (v Value) Text() string {
	switch v.typ {
	case TypeString:
		return v.str
	case TypeNumber:
		return v.num.String()
	case TypeBool:
		if v.b {
			return "true"
		}
		return "false"
	case TypeList, TypeMap:
		data, err := json.Marshal(v.Interface())
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return ""
	}
}

// Interface converts the value to plain Go values suitable for JSON output.
// Numbers become json.Number so they are emitted unquoted.
func (v Value) Interface() any {
	switch v.typ {
	case TypeString:
		return v.str
	case TypeNumber:
		return json.Number(v.num.String())
	case TypeBool:
		return v.b
	case TypeList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case TypeMap:
		return v.m.Interface()
	default:
		return nil
	}
}

// Equal reports deep equality. Numbers compare by value, so 1.50 == 1.5.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeNull:
		return true
	case TypeString:
		return v.str == o.str
	case TypeNumber:
		return v.num.Equal(o.num)
	case TypeBool:
		return v.b == o.b
	case TypeList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case TypeMap:
		return v.m.Equal(o.m)
	}
	return false
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.typ {
	case TypeList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.Clone()
		}
		return List(items...)
	case TypeMap:
		return Object(v.m.Clone())
	default:
		return v
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts decoded JSON or plain Go values into a Value.
func FromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case Map:
		return Object(x), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint32:
		return Int(int64(x)), nil
	case float32:
		return Number(decimal.NewFromFloat32(x)), nil
	case float64:
		return Number(decimal.NewFromFloat(x)), nil
	case decimal.Decimal:
		return Number(x), nil
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return Value{}, fmt.Errorf("%w: number %q", ErrUnsupported, x)
		}
		return Number(d), nil
	case []string:
		items := make([]Value, len(x))
		for i, s := range x {
			items[i] = String(s)
		}
		return List(items...), nil
	case []Value:
		return List(x...), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items...), nil
	case map[string]any:
		m, err := MapFromAny(x)
		if err != nil {
			return Value{}, err
		}
		return Object(m), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupported, raw)
	}
}

// MapFromAny converts a decoded JSON object into a Map.
func MapFromAny(raw map[string]any) (Map, error) {
	m := make(Map, len(raw))
	for k, item := range raw {
		v, err := FromAny(item)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		m[k] = v
	}
	return m, nil
}

// Keys returns the map keys in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the map.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// Equal reports deep equality of two maps.
func (m Map) Equal(o Map) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Interface converts the map to map[string]any.
func (m Map) Interface() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Interface()
	}
	return out
}

func (m Map) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Interface())
}
