package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/calvinalkan/postgate/internal/post"
	"github.com/calvinalkan/postgate/internal/props"
)

func encodeProperties(b props.Bag) (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encode properties: %w", err)
	}

	return string(data), nil
}

func decodeProperties(s string) (props.Bag, error) {
	var b props.Bag

	err := json.Unmarshal([]byte(s), &b)
	if err != nil {
		return props.Bag{}, fmt.Errorf("decode properties: %w", err)
	}

	return b, nil
}

func decodeKind(s string) (post.Kind, error) {
	k, err := post.ParseKind(s)
	if err != nil {
		return "", fmt.Errorf("decode kind: %w", err)
	}

	return k, nil
}

// SQLite has no time type; timestamps are stored as UTC RFC 3339 text.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode time %q: %w", s, err)
	}

	return t.UTC(), nil
}
