// Package post holds the post record types and the pure algorithms that act
// on them: kind classification, identity generation and property merging.
package post

import (
	"fmt"
	"time"

	"github.com/calvinalkan/postgate/internal/props"
)

// Kind is the closed classification of a post, derived once at creation.
type Kind string

// Kind values.
const (
	KindNote     Kind = "note"
	KindArticle  Kind = "article"
	KindLike     Kind = "like"
	KindBookmark Kind = "bookmark"
	KindRepost   Kind = "repost"
	KindPhoto    Kind = "photo"
)

// Kinds lists every valid kind.
var Kinds = []Kind{KindNote, KindArticle, KindLike, KindBookmark, KindRepost, KindPhoto}

// ParseKind validates a stored kind string.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}

	return "", fmt.Errorf("unknown kind %q", s)
}

// Reserved property names that have dedicated fields on [Post].
const (
	PropPublished = "published"
	PropUpdated   = "updated"
)

// Post is the durable unit stored in the record store.
type Post struct {
	// ID is the slash-separated path identifier, e.g. notes/2023/01/29/01.
	ID string

	// Type is the microformat root type as supplied by the client (h-entry).
	Type string

	Kind Kind

	// Published is set at creation and never changes.
	Published time.Time

	// Updated is nil until the first update.
	Updated *time.Time

	// Properties never contains the published or updated keys.
	Properties props.Bag
}

// DeletedPost is the tombstone kept after a post is deleted so that its
// partition ordinal is never handed out again.
type DeletedPost struct {
	ID        string
	Kind      Kind
	Published time.Time
}

// Tombstone returns the tombstone recorded when p is deleted.
func (p Post) Tombstone() DeletedPost {
	return DeletedPost{ID: p.ID, Kind: p.Kind, Published: p.Published}
}

// Day returns the partition day of a publish time: its UTC calendar date.
func Day(published time.Time) string {
	return published.UTC().Format(time.DateOnly)
}
