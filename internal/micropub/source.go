package micropub

import (
	"context"
	"time"

	"github.com/calvinalkan/postgate/internal/post"
	"github.com/calvinalkan/postgate/internal/props"
)

// Source is the answer to a source query: the stored post in Micropub JSON
// form. Type is omitted when the query asked for specific properties.
type Source struct {
	Type       []string  `json:"type,omitempty"`
	Properties props.Bag `json:"properties"`
}

// Source returns the post at rawURL. With properties, only those keys are
// returned and the type is left out.
func (s *Service) Source(ctx context.Context, p *Principal, rawURL string, properties ...string) (Source, error) {
	err := s.authorize(p, "")
	if err != nil {
		return Source{}, err
	}

	id, err := s.IDFromURL(rawURL)
	if err != nil {
		return Source{}, err
	}

	stored, err := s.store.Get(ctx, id)
	if err != nil {
		return Source{}, storeError(err, id)
	}

	bag := stored.Properties.With(post.PropPublished, props.String(stored.Published.UTC().Format(time.RFC3339)))
	if stored.Updated != nil {
		bag.Set(post.PropUpdated, props.Strings(stored.Updated.UTC().Format(time.RFC3339)))
	}

	if len(properties) > 0 {
		return Source{Properties: bag.Filter(properties...)}, nil
	}

	return Source{Type: []string{stored.Type}, Properties: bag}, nil
}
