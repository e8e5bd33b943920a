// Package canonical provides the JSON-like value model used for research event
// payloads and a deterministic, key-order-independent serialization of it.
//
// Every hash in the ledger is computed over Canonicalize output, so two
// payloads that differ only in key insertion order always hash identically.
// Insertion order is still preserved by Value itself and is what MarshalJSON
// emits, so exported artifacts read the way the payload was recorded.
package canonical

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ErrUnsupportedType is returned by FromAny for Go values with no JSON mapping.
var ErrUnsupportedType = errors.New("canonical: unsupported type")

// Value is an immutable JSON-like value. The zero Value is null.
type Value struct {
	kind    Kind
	boolean bool
	number  float64
	str     string
	elems   []Value
	members []Member
}

// Member is one key/value pair of an object, in insertion order.
type Member struct {
	Key   string
	Value Value
}

// M is shorthand for constructing a Member.
func M(key string, v Value) Member {
	return Member{Key: key, Value: v}
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Number returns a numeric value. Non-finite numbers are kept as given and
// serialize as null.
func Number(f float64) Value { return Value{kind: KindNumber, number: f} }

// Int returns a numeric value for an integer.
func Int(i int64) Value { return Value{kind: KindNumber, number: float64(i)} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array returns an array holding a copy of elems.
func Array(elems ...Value) Value {
	cp := make([]Value, len(elems))
	copy(cp, elems)
	return Value{kind: KindArray, elems: cp}
}

// Object returns an object with the given members in order. A repeated key
// replaces the earlier value but keeps the earlier position.
func Object(members ...Member) Value {
	v := Value{kind: KindObject, members: make([]Member, 0, len(members))}
	for _, m := range members {
		v.members = setMember(v.members, m.Key, m.Value)
	}
	return v
}

func setMember(members []Member, key string, val Value) []Member {
	for i := range members {
		if members[i].Key == key {
			members[i].Value = val
			return members
		}
	}
	return append(members, Member{Key: key, Value: val})
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v and whether v is a boolean.
func (v Value) AsBool() (bool, bool) { return v.boolean, v.kind == KindBool }

// AsNumber returns the number held by v and whether v is a number.
func (v Value) AsNumber() (float64, bool) { return v.number, v.kind == KindNumber }

// AsString returns the string held by v and whether v is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// Elems returns a copy of the array elements, or nil when v is not an array.
func (v Value) Elems() []Value {
	if v.kind != KindArray {
		return nil
	}
	cp := make([]Value, len(v.elems))
	copy(cp, v.elems)
	return cp
}

// Members returns a copy of the object members in insertion order, or nil
// when v is not an object.
func (v Value) Members() []Member {
	if v.kind != KindObject {
		return nil
	}
	cp := make([]Member, len(v.members))
	copy(cp, v.members)
	return cp
}

// Keys returns the object keys in insertion order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, len(v.members))
	for i, m := range v.members {
		keys[i] = m.Key
	}
	return keys
}

// Len returns the number of array elements or object members.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.elems)
	case KindObject:
		return len(v.members)
	default:
		return 0
	}
}

// Get returns the member value for key.
func (v Value) Get(key string) (Value, bool) {
	for _, m := range v.members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

// With returns a copy of the object v with key set to val. A null or
// non-object receiver is treated as an empty object.
func (v Value) With(key string, val Value) Value {
	var members []Member
	if v.kind == KindObject {
		members = make([]Member, len(v.members), len(v.members)+1)
		copy(members, v.members)
	}
	return Value{kind: KindObject, members: setMember(members, key, val)}
}

// Equal reports whether a and b have the same canonical form.
func Equal(a, b Value) bool {
	return Canonicalize(a) == Canonicalize(b)
}

// FromAny converts a Go JSON-like value into a Value. Maps are converted with
// keys in sorted order since Go maps carry no insertion order.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case interface{ Float64() (float64, error) }: // json.Number
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("canonical: number %v: %w", t, err)
		}
		return Number(f), nil
	case []Value:
		return Array(t...), nil
	case []any:
		elems := make([]Value, len(t))
		for i, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			elems[i] = ev
		}
		return Value{kind: KindArray, elems: elems}, nil
	case []string:
		elems := make([]Value, len(t))
		for i, s := range t {
			elems[i] = String(s)
		}
		return Value{kind: KindArray, elems: elems}, nil
	case map[string]any:
		members := make([]Member, 0, len(t))
		for _, k := range sortedKeys(t) {
			mv, err := FromAny(t[k])
			if err != nil {
				return Value{}, fmt.Errorf("%q: %w", k, err)
			}
			members = append(members, Member{Key: k, Value: mv})
		}
		return Value{kind: KindObject, members: members}, nil
	case map[string]string:
		members := make([]Member, 0, len(t))
		for _, k := range sortedKeys(t) {
			members = append(members, Member{Key: k, Value: String(t[k])})
		}
		return Value{kind: KindObject, members: members}, nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, x)
	}
}

// MustFromAny is FromAny for literals in tests and fixtures; it panics on error.
func MustFromAny(x any) Value {
	v, err := FromAny(x)
	if err != nil {
		panic(err)
	}
	return v
}

// sortedKeys gives map-sourced objects a stable member order.
func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// finite reports whether f can be represented in JSON.
func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
