package post

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/calvinalkan/postgate/internal/props"
)

// ErrMissingProperty is returned when a key-list delete names a property the
// post does not have.
var ErrMissingProperty = errors.New("property not present")

// Deletion is the delete part of an update. It is either a list of property
// names to drop entirely, or a bag of values to remove from their properties.
type Deletion struct {
	keys    []string
	values  props.Bag
	byValue bool
}

// DeleteKeys removes whole properties. Every key must exist.
func DeleteKeys(keys ...string) *Deletion {
	return &Deletion{keys: slices.Clone(keys)}
}

// DeleteValues removes individual values. Properties the post does not have
// are skipped.
func DeleteValues(values props.Bag) *Deletion {
	return &Deletion{values: values.Clone(), byValue: true}
}

// UnmarshalJSON accepts a JSON array of names or an object of values.
func (d *Deletion) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New("decode delete: empty input")
	}

	switch trimmed[0] {
	case '[':
		var keys []string

		err := json.Unmarshal(trimmed, &keys)
		if err != nil {
			return fmt.Errorf("decode delete keys: %w", err)
		}

		*d = Deletion{keys: keys}
	case '{':
		var values props.Bag

		err := json.Unmarshal(trimmed, &values)
		if err != nil {
			return fmt.Errorf("decode delete values: %w", err)
		}

		*d = Deletion{values: values, byValue: true}
	default:
		return errors.New("decode delete: expected a list of properties or an object of values")
	}

	return nil
}

// MarshalJSON encodes the deletion in the same shape it was decoded from.
func (d Deletion) MarshalJSON() ([]byte, error) {
	if d.byValue {
		return json.Marshal(d.values)
	}

	keys := d.keys
	if keys == nil {
		keys = []string{}
	}

	return json.Marshal(keys)
}

// Update is a partial modification of a post's properties. Nil parts are
// skipped.
type Update struct {
	Add     *props.Bag `json:"add,omitempty"`
	Replace *props.Bag `json:"replace,omitempty"`
	Delete  *Deletion  `json:"delete,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.Add == nil && u.Replace == nil && u.Delete == nil
}

// ApplyUpdate returns a new bag with add, replace and delete applied in that
// order. current is never modified; on error no partial result is returned.
//
// add overwrites the whole value list of each key, exactly like replace.
func ApplyUpdate(current props.Bag, upd Update) (props.Bag, error) {
	next := current.Clone()

	for _, part := range []*props.Bag{upd.Add, upd.Replace} {
		if part == nil {
			continue
		}

		for _, key := range part.Keys() {
			next.Set(key, part.Get(key))
		}
	}

	if upd.Delete == nil {
		return next, nil
	}

	if !upd.Delete.byValue {
		for _, key := range upd.Delete.keys {
			if !next.Delete(key) {
				return props.Bag{}, fmt.Errorf("delete %q: %w", key, ErrMissingProperty)
			}
		}

		return next, nil
	}

	for _, key := range upd.Delete.values.Keys() {
		if !next.Has(key) {
			continue
		}

		remove := upd.Delete.values.Get(key)
		kept := slices.DeleteFunc(next.Get(key), func(v props.Value) bool {
			return slices.ContainsFunc(remove, v.Equal)
		})

		if len(kept) == 0 {
			next.Delete(key)
		} else {
			next.Set(key, kept)
		}
	}

	return next, nil
}
