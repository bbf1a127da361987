// Package props implements the property bag that carries all client-supplied
// post content: an ordered mapping from property name to a list of values.
//
// A value is either a plain string or a nested structured object (for example
// a photo with alt text, or content carrying both html and text). The bag
// keeps insertion order so that stored and re-encoded posts look the way the
// client sent them.
package props

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// ErrUnsupportedValue is returned when decoding a value that is neither a
// string, number, boolean nor object.
var ErrUnsupportedValue = errors.New("unsupported property value")

// Value is a single property value. The zero value is the empty string.
type Value struct {
	str string
	obj map[string]any
}

// String returns a plain string value.
func String(s string) Value {
	return Value{str: s}
}

// Object returns a structured value. The map is not copied and must not be
// modified afterwards.
func Object(m map[string]any) Value {
	if m == nil {
		m = map[string]any{}
	}

	return Value{obj: m}
}

// Strings converts plain strings to values.
func Strings(ss ...string) []Value {
	out := make([]Value, 0, len(ss))
	for _, s := range ss {
		out = append(out, String(s))
	}

	return out
}

// IsObject reports whether v holds a structured object.
func (v Value) IsObject() bool {
	return v.obj != nil
}

// Str returns the string held by v. ok is false for objects.
func (v Value) Str() (s string, ok bool) {
	if v.obj != nil {
		return "", false
	}

	return v.str, true
}

// Fields returns the object held by v. ok is false for plain strings.
func (v Value) Fields() (map[string]any, bool) {
	if v.obj == nil {
		return nil, false
	}

	return v.obj, true
}

// Field returns a string field of an object value.
func (v Value) Field(key string) (string, bool) {
	if v.obj == nil {
		return "", false
	}

	raw, ok := v.obj[key]
	if !ok {
		return "", false
	}

	s, ok := raw.(string)

	return s, ok
}

// HasField reports whether an object value carries key, whatever its type.
func (v Value) HasField(key string) bool {
	if v.obj == nil {
		return false
	}

	_, ok := v.obj[key]

	return ok
}

// Equal compares two values structurally.
func (v Value) Equal(other Value) bool {
	if v.IsObject() != other.IsObject() {
		return false
	}

	if !v.IsObject() {
		return v.str == other.str
	}

	// encoding/json sorts map keys, so equal objects encode identically.
	a, errA := json.Marshal(v.obj)
	b, errB := json.Marshal(other.obj)

	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// MarshalJSON encodes v as a JSON string or object.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.obj != nil {
		return json.Marshal(v.obj)
	}

	return json.Marshal(v.str)
}

// UnmarshalJSON decodes a JSON string or object. Numbers and booleans are
// kept as their literal text.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any

	err := dec.Decode(&raw)
	if err != nil {
		return fmt.Errorf("decode value: %w", err)
	}

	switch typed := raw.(type) {
	case string:
		*v = String(typed)
	case json.Number:
		*v = String(typed.String())
	case bool:
		*v = String(strconv.FormatBool(typed))
	case map[string]any:
		*v = Object(typed)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedValue, bytes.TrimSpace(data))
	}

	return nil
}

// Bag is an ordered mapping from property name to a list of values.
// The zero value is an empty bag ready to use.
type Bag struct {
	keys   []string
	values map[string][]Value
}

// Len returns the number of properties.
func (b Bag) Len() int {
	return len(b.keys)
}

// Keys returns the property names in insertion order.
func (b Bag) Keys() []string {
	return slices.Clone(b.keys)
}

// Has reports whether the property is present, even with an empty list.
func (b Bag) Has(key string) bool {
	_, ok := b.values[key]

	return ok
}

// Get returns a copy of the values stored under key.
func (b Bag) Get(key string) []Value {
	return slices.Clone(b.values[key])
}

// First collapses a property to its first value.
func (b Bag) First(key string) (Value, bool) {
	vals := b.values[key]
	if len(vals) == 0 {
		return Value{}, false
	}

	return vals[0], true
}

// FirstString collapses a property to its first value if that is a string.
func (b Bag) FirstString(key string) (string, bool) {
	v, ok := b.First(key)
	if !ok {
		return "", false
	}

	return v.Str()
}

// Set stores values under key, replacing any previous list. New keys are
// appended to the key order; existing keys keep their position.
func (b *Bag) Set(key string, values []Value) {
	if b.values == nil {
		b.values = make(map[string][]Value)
	}

	if _, exists := b.values[key]; !exists {
		b.keys = append(b.keys, key)
	}

	b.values[key] = slices.Clone(values)
}

// Delete removes key and reports whether it was present.
func (b *Bag) Delete(key string) bool {
	if _, ok := b.values[key]; !ok {
		return false
	}

	delete(b.values, key)
	b.keys = slices.DeleteFunc(b.keys, func(k string) bool { return k == key })

	return true
}

// Clone returns a copy that shares no slices with b.
func (b Bag) Clone() Bag {
	out := Bag{
		keys:   slices.Clone(b.keys),
		values: make(map[string][]Value, len(b.values)),
	}

	for k, v := range b.values {
		out.values[k] = slices.Clone(v)
	}

	return out
}

// With returns a copy of b with key set to values.
func (b Bag) With(key string, values ...Value) Bag {
	out := b.Clone()
	out.Set(key, values)

	return out
}

// Without returns a copy of b with the given keys removed.
func (b Bag) Without(keys ...string) Bag {
	out := b.Clone()
	for _, k := range keys {
		out.Delete(k)
	}

	return out
}

// Equal reports whether both bags hold the same keys, in the same order, with
// equal values.
func (b Bag) Equal(other Bag) bool {
	if !slices.Equal(b.keys, other.keys) {
		return false
	}

	return maps.EqualFunc(b.values, other.values, func(x, y []Value) bool {
		return slices.EqualFunc(x, y, Value.Equal)
	})
}

// Filter returns a bag containing only the named keys that are present,
// in the order they were requested.
func (b Bag) Filter(keys ...string) Bag {
	var out Bag

	for _, k := range keys {
		if vals, ok := b.values[k]; ok && !out.Has(k) {
			out.Set(k, vals)
		}
	}

	return out
}

// MarshalJSON encodes the bag as a JSON object of arrays, preserving key
// order.
func (b Bag) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, k := range b.keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("encode key %q: %w", k, err)
		}

		vals := b.values[k]
		if vals == nil {
			vals = []Value{}
		}

		val, err := json.Marshal(vals)
		if err != nil {
			return nil, fmt.Errorf("encode property %q: %w", k, err)
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into the bag. A property given as a
// single value instead of a list becomes a one-element list. null decodes to
// an empty bag.
func (b *Bag) UnmarshalJSON(data []byte) error {
	*b = Bag{}

	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode properties: %w", err)
	}

	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("decode properties: expected a JSON object")
	}

	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return fmt.Errorf("decode properties: %w", err)
		}

		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("decode properties: unexpected token %v", tok)
		}

		var raw json.RawMessage

		err = dec.Decode(&raw)
		if err != nil {
			return fmt.Errorf("decode property %q: %w", key, err)
		}

		vals, err := decodeValues(raw)
		if err != nil {
			return fmt.Errorf("decode property %q: %w", key, err)
		}

		b.Set(key, vals)
	}

	_, err = dec.Token()
	if err != nil {
		return fmt.Errorf("decode properties: %w", err)
	}

	return nil
}

func decodeValues(raw json.RawMessage) ([]Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var vals []Value

		err := json.Unmarshal(trimmed, &vals)
		if err != nil {
			return nil, err
		}

		if vals == nil {
			vals = []Value{}
		}

		return vals, nil
	}

	var single Value

	err := json.Unmarshal(trimmed, &single)
	if err != nil {
		return nil, err
	}

	return []Value{single}, nil
}
