package post

import "github.com/calvinalkan/postgate/internal/props"

// classifyOrder is evaluated top to bottom; the first present property wins.
// A liked page that also carries a name is still a like.
var classifyOrder = []struct {
	prop string
	kind Kind
}{
	{"like-of", KindLike},
	{"name", KindArticle},
	{"bookmark-of", KindBookmark},
	{"repost-of", KindRepost},
	{"photo", KindPhoto},
}

// Classify derives the kind of a new post from its properties.
func Classify(bag props.Bag) Kind {
	for _, c := range classifyOrder {
		if bag.Has(c.prop) {
			return c.kind
		}
	}

	return KindNote
}
