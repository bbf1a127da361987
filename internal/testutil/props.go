package testutil

import "github.com/calvinalkan/postgate/internal/props"

// Keys and values are drawn from small pools so generated updates hit
// existing properties and values often.
var (
	PropertyKeys = []string{"content", "name", "category", "photo", "like-of", "summary"}
	valuePool    = []string{"a", "b", "c", "foo", "bar", ""}
)

// Bag derives a property bag with up to four keys of up to three string
// values each.
func Bag(s *ByteStream) props.Bag {
	var bag props.Bag

	for range s.NextInt(5) {
		key := Pick(s, PropertyKeys)

		values := make([]string, 1+s.NextInt(3))
		for i := range values {
			values[i] = Pick(s, valuePool)
		}

		bag.Set(key, props.Strings(values...))
	}

	return bag
}

// Keys derives up to three property names, possibly repeated.
func Keys(s *ByteStream) []string {
	keys := make([]string, s.NextInt(4))
	for i := range keys {
		keys[i] = Pick(s, PropertyKeys)
	}

	return keys
}
