package post

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/calvinalkan/postgate/internal/props"
)

// ErrInvalidSlug reports a client slug that cannot be used as a single path
// segment.
var ErrInvalidSlug = errors.New("invalid slug")

const idDateLayout = "2006/01/02" // YYYY/MM/DD (example: 2023/01/29)

// Slug properties, in lookup order. slug is the deprecated spelling.
const (
	PropSlug           = "mp-slug"
	propDeprecatedSlug = "slug"
)

// GenerateID derives the path identifier of a new post.
//
// With a slug the id is "<kind>s/YYYY/MM/DD/<slug>" and no collision check is
// made. Without one the last segment is count+1, zero padded to two digits,
// where count is the number of live and deleted posts already in the
// (kind, day) partition.
func GenerateID(kind Kind, published time.Time, slug string, count int) (string, error) {
	if count < 0 {
		return "", fmt.Errorf("generate id: negative partition count %d", count)
	}

	suffix := slug
	if suffix == "" {
		suffix = fmt.Sprintf("%02d", count+1)
	} else if err := validateSlug(slug); err != nil {
		return "", err
	}

	return fmt.Sprintf("%ss/%s/%s", kind, published.UTC().Format(idDateLayout), suffix), nil
}

// SlugFrom returns the explicit slug requested by the client, if any.
func SlugFrom(bag props.Bag) string {
	for _, key := range []string{PropSlug, propDeprecatedSlug} {
		if s, ok := bag.FirstString(key); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}

	return ""
}

// validateSlug keeps ids inside the output tree: a slug is exactly one path
// segment.
func validateSlug(slug string) error {
	switch {
	case strings.ContainsAny(slug, `/\`):
		return fmt.Errorf("%w %q: must not contain path separators", ErrInvalidSlug, slug)
	case slug == "." || slug == "..":
		return fmt.Errorf("%w %q: must not be a relative path element", ErrInvalidSlug, slug)
	case strings.ContainsRune(slug, 0):
		return fmt.Errorf("%w %q: must not contain NUL", ErrInvalidSlug, slug)
	}

	return nil
}
