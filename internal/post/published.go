package post

import (
	"errors"
	"fmt"
	"time"

	"github.com/calvinalkan/postgate/internal/props"
)

// ErrInvalidPublished reports a client-supplied publish date that cannot be
// parsed.
var ErrInvalidPublished = errors.New("invalid published date")

// Accepted publish date layouts. Layouts without a zone are read as UTC.
var publishedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// PublishedFrom returns the publish time requested in bag, or now if the
// property is absent.
func PublishedFrom(bag props.Bag, now time.Time) (time.Time, error) {
	v, ok := bag.First(PropPublished)
	if !ok {
		return now.UTC(), nil
	}

	s, ok := v.Str()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: expected a string", ErrInvalidPublished)
	}

	for _, layout := range publishedLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPublished, s)
}
