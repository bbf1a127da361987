package render_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
	"gopkg.in/yaml.v3"

	"github.com/calvinalkan/postgate/internal/post"
	"github.com/calvinalkan/postgate/internal/props"
	"github.com/calvinalkan/postgate/internal/render"
)

var publishedTS = time.Date(2023, 1, 29, 5, 30, 0, 0, time.UTC)

func bagOf(t *testing.T, raw string) props.Bag {
	t.Helper()

	var bag props.Bag

	err := json.Unmarshal([]byte(raw), &bag)
	if err != nil {
		t.Fatalf("decode bag fixture: %v", err)
	}

	return bag
}

func Test_Render_Matches_Golden_Document(t *testing.T) {
	t.Parallel()

	updated := time.Date(2023, 2, 1, 15, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))

	tests := []struct {
		name string
		post post.Post
	}{
		{
			name: "note",
			post: post.Post{
				ID: "notes/2023/01/29/01", Type: "h-entry", Kind: post.KindNote, Published: publishedTS,
				Properties: bagOf(t, `{"content":["Hello World!"]}`),
			},
		},
		{
			name: "like",
			post: post.Post{
				ID: "likes/2023/01/29/01", Type: "h-entry", Kind: post.KindLike, Published: publishedTS,
				Properties: bagOf(t, `{"like-of":["https://some-cool.website","https://ignored.example"]}`),
			},
		},
		{
			name: "photo",
			post: post.Post{
				ID: "photos/2023/01/29/01", Type: "h-entry", Kind: post.KindPhoto, Published: publishedTS,
				Properties: bagOf(t, `{
					"photo":["https://nice.photo/1",{"value":"https://nice.photo/2","alt":"A red flower"}],
					"content":["What a nice flower!"]
				}`),
			},
		},
		{
			name: "article",
			post: post.Post{
				ID: "articles/2023/01/29/01", Type: "h-entry", Kind: post.KindArticle, Published: publishedTS,
				Updated: &updated,
				Properties: bagOf(t, `{
					"content":[{"html":"<p>Hi</p>","value":"Hi"}],
					"name":["Hello"],
					"in-reply-to":["https://example.com/post"],
					"category":["foo","bar"],
					"summary":["A short summary"]
				}`),
			},
		},
	}

	g := goldie.New(t)

	for _, tt := range tests {
		got, err := render.Render(tt.post)
		if err != nil {
			t.Fatalf("Render(%s): %v", tt.name, err)
		}

		g.Assert(t, tt.name, got)
	}
}

func Test_Render_Expands_Bare_Photo_Strings(t *testing.T) {
	t.Parallel()

	p := post.Post{
		ID: "photos/2023/01/29/01", Type: "h-entry", Kind: post.KindPhoto, Published: publishedTS,
		Properties: bagOf(t, `{"photo":["https://x/1"]}`),
	}

	fm, err := render.Metadata(p)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}

	want := []render.Photo{{Value: "https://x/1", Alt: ""}}
	if diff := cmp.Diff(want, fm.Photo); diff != "" {
		t.Fatalf("photo mismatch (-want +got):\n%s", diff)
	}
}

func Test_Render_Returns_Error_When_Photo_Object_Lacks_Alt(t *testing.T) {
	t.Parallel()

	p := post.Post{
		ID: "photos/2023/01/29/01", Type: "h-entry", Kind: post.KindPhoto, Published: publishedTS,
		Properties: bagOf(t, `{"photo":[{"value":"a"}]}`),
	}

	_, err := render.Render(p)
	if !errors.Is(err, render.ErrInvalidPhoto) {
		t.Fatalf("err = %v, want %v", err, render.ErrInvalidPhoto)
	}
}

func Test_Render_Returns_Error_When_Category_Is_Structured(t *testing.T) {
	t.Parallel()

	p := post.Post{
		ID: "notes/2023/01/29/01", Type: "h-entry", Kind: post.KindNote, Published: publishedTS,
		Properties: bagOf(t, `{"category":[{"type":["h-card"]}]}`),
	}

	_, err := render.Render(p)
	if !errors.Is(err, render.ErrInvalidCategory) {
		t.Fatalf("err = %v, want %v", err, render.ErrInvalidCategory)
	}
}

func Test_Render_Omits_Absent_Fields_Instead_Of_Null(t *testing.T) {
	t.Parallel()

	p := post.Post{
		ID: "notes/2023/01/29/01", Type: "entry", Kind: post.KindNote, Published: publishedTS,
		Properties: bagOf(t, `{"content":["x"]}`),
	}

	got, err := render.Render(p)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	front := frontMatter(t, got)

	want := map[string]any{
		"h":         "entry",
		"kind":      "note",
		"published": "2023-01-29T05:30:00Z", // yaml.v3 keeps timestamps as strings in interface{}
	}
	if diff := cmp.Diff(want, front); diff != "" {
		t.Fatalf("front-matter mismatch (-want +got):\n%s", diff)
	}

	if strings.Contains(string(got), "null") {
		t.Fatalf("document contains null:\n%s", got)
	}
}

func Test_Render_Keeps_Present_But_Empty_Name_And_Summary(t *testing.T) {
	t.Parallel()

	p := post.Post{
		ID: "articles/2023/01/29/01", Type: "h-entry", Kind: post.KindArticle, Published: publishedTS,
		Properties: bagOf(t, `{"name":[""],"summary":[""],"content":["x"]}`),
	}

	got, err := render.Render(p)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	want := "---\nh: entry\nkind: article\npublished: 2023-01-29T05:30:00Z\nsummary: \"\"\ntitle: \"\"\n---\nx"
	if string(got) != want {
		t.Fatalf("Render =\n%s\nwant\n%s", got, want)
	}
}

func Test_Body_Falls_Back_To_Value_When_Content_Has_No_HTML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{`{"content":[{"value":"plain"}]}`, "plain"},
		{`{"content":[{"html":"<b>x</b>","value":"x"}]}`, "<b>x</b>"},
		{`{"content":[{"text":"ignored"}]}`, ""},
		{`{"content":["first","second"]}`, "first"},
		{`{}`, ""},
	}

	for _, tt := range tests {
		if got := render.Body(bagOf(t, tt.raw)); got != tt.want {
			t.Fatalf("Body(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func Test_Render_Is_Deterministic_For_Same_Post(t *testing.T) {
	t.Parallel()

	p := post.Post{
		ID: "notes/2023/01/29/01", Type: "h-entry", Kind: post.KindNote, Published: publishedTS,
		Properties: bagOf(t, `{"content":["x"],"category":["a","b"],"photo":["https://x/1"]}`),
	}

	first, err := render.Render(p)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	second, err := render.Render(p)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if string(first) != string(second) {
		t.Fatalf("renders differ:\n%s\n---\n%s", first, second)
	}
}

// frontMatter parses the YAML between the two delimiter lines.
func frontMatter(t *testing.T, doc []byte) map[string]any {
	t.Helper()

	rest, ok := strings.CutPrefix(string(doc), render.Delimiter+"\n")
	if !ok {
		t.Fatalf("document does not start with delimiter:\n%s", doc)
	}

	block, _, ok := strings.Cut(rest, "\n"+render.Delimiter+"\n")
	if !ok {
		t.Fatalf("document has no closing delimiter:\n%s", doc)
	}

	var out map[string]any

	err := yaml.Unmarshal([]byte(block), &out)
	if err != nil {
		t.Fatalf("parse front-matter: %v", err)
	}

	return out
}
