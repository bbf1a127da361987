// Package render turns a post into the markdown document consumed by the
// static site generator: a YAML front-matter block framed by "---" lines,
// followed by the body.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/calvinalkan/postgate/internal/post"
	"github.com/calvinalkan/postgate/internal/props"
)

// Validation errors. A post that triggers one must not be written.
var (
	ErrInvalidPhoto    = errors.New("invalid photo")
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidProperty = errors.New("invalid property")
)

// Delimiter frames the front-matter block. Downstream tooling splits on it.
const Delimiter = "---"

// Photo is the normalized front-matter form of a photo property value.
type Photo struct {
	Value string `yaml:"value"`
	Alt   string `yaml:"alt"`
}

// FrontMatter is the metadata block of a rendered post. Field order here is
// the order in the document. Optional fields are omitted when the property is
// absent; a present but empty value is kept.
type FrontMatter struct {
	H          string     `yaml:"h"`
	Kind       post.Kind  `yaml:"kind"`
	Published  time.Time  `yaml:"published"`
	Updated    *time.Time `yaml:"updated,omitempty"`
	Tags       []string   `yaml:"tags,omitempty"`
	Summary    *string    `yaml:"summary,omitempty"`
	LikeOf     *string    `yaml:"like-of,omitempty"`
	RepostOf   *string    `yaml:"repost-of,omitempty"`
	BookmarkOf *string    `yaml:"bookmark-of,omitempty"`
	InReplyTo  *string    `yaml:"in-reply-to,omitempty"`
	Photo      []Photo    `yaml:"photo,omitempty"`
	Title      *string    `yaml:"title,omitempty"`
}

// Render serializes p into its document form.
func Render(p post.Post) ([]byte, error) {
	fm, err := Metadata(p)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", p.ID, err)
	}

	var buf bytes.Buffer

	buf.WriteString(Delimiter + "\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	err = enc.Encode(fm)
	if err != nil {
		return nil, fmt.Errorf("render %s: encode front-matter: %w", p.ID, err)
	}

	err = enc.Close()
	if err != nil {
		return nil, fmt.Errorf("render %s: encode front-matter: %w", p.ID, err)
	}

	buf.WriteString(Delimiter + "\n")
	buf.WriteString(Body(p.Properties))

	return buf.Bytes(), nil
}

// Metadata builds the front-matter of p.
func Metadata(p post.Post) (FrontMatter, error) {
	bag := p.Properties

	fm := FrontMatter{
		H:         strings.TrimPrefix(p.Type, "h-"),
		Kind:      p.Kind,
		Published: p.Published.UTC(),
	}

	if p.Updated != nil {
		updated := p.Updated.UTC()
		fm.Updated = &updated
	}

	tags, err := categories(bag)
	if err != nil {
		return FrontMatter{}, err
	}

	fm.Tags = tags

	singles := []struct {
		prop string
		dst  **string
	}{
		{"summary", &fm.Summary},
		{"like-of", &fm.LikeOf},
		{"repost-of", &fm.RepostOf},
		{"bookmark-of", &fm.BookmarkOf},
		{"in-reply-to", &fm.InReplyTo},
		{"name", &fm.Title},
	}

	for _, s := range singles {
		*s.dst, err = firstString(bag, s.prop)
		if err != nil {
			return FrontMatter{}, err
		}
	}

	fm.Photo, err = photos(bag)
	if err != nil {
		return FrontMatter{}, err
	}

	return fm, nil
}

// Body returns the document body: the first content value, preferring its
// html over its value when content is structured.
func Body(bag props.Bag) string {
	v, ok := bag.First("content")
	if !ok {
		return ""
	}

	if s, ok := v.Str(); ok {
		return s
	}

	for _, field := range []string{"html", "value"} {
		if s, ok := v.Field(field); ok {
			return s
		}
	}

	return ""
}

func photos(bag props.Bag) ([]Photo, error) {
	vals := bag.Get("photo")
	if len(vals) == 0 {
		return nil, nil
	}

	out := make([]Photo, 0, len(vals))

	for i, v := range vals {
		if s, ok := v.Str(); ok {
			out = append(out, Photo{Value: s})

			continue
		}

		value, okValue := v.Field("value")
		alt, okAlt := v.Field("alt")

		if !okValue || !okAlt {
			return nil, fmt.Errorf("%w: photo[%d] must have string value and alt", ErrInvalidPhoto, i)
		}

		out = append(out, Photo{Value: value, Alt: alt})
	}

	return out, nil
}

func categories(bag props.Bag) ([]string, error) {
	vals := bag.Get("category")
	if len(vals) == 0 {
		return nil, nil
	}

	out := make([]string, 0, len(vals))

	for i, v := range vals {
		s, ok := v.Str()
		if !ok {
			return nil, fmt.Errorf("%w: category[%d] must be a string", ErrInvalidCategory, i)
		}

		out = append(out, s)
	}

	return out, nil
}

// firstString returns nil when prop is absent.
func firstString(bag props.Bag, prop string) (*string, error) {
	v, ok := bag.First(prop)
	if !ok {
		return nil, nil
	}

	s, ok := v.Str()
	if ok {
		return &s, nil
	}

	// Structured citations (h-cite) carry their URL in value or url.
	for _, field := range []string{"value", "url"} {
		if s, ok := v.Field(field); ok {
			return &s, nil
		}
	}

	return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidProperty, prop)
}
