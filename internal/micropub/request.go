package micropub

import (
	"encoding/json"
	"fmt"

	"github.com/calvinalkan/postgate/internal/post"
	"github.com/calvinalkan/postgate/internal/props"
)

// Actions accepted in [Request.Action]. An empty action creates a post.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Request is the JSON form of a Micropub request.
//
//	{"type": ["h-entry"], "properties": {"content": ["hi"]}}
//	{"action": "update", "url": "...", "replace": {"content": ["hello"]}}
//	{"action": "delete", "url": "..."}
type Request struct {
	Type       TypeList  `json:"type,omitempty"`
	Properties props.Bag `json:"properties"`
	Action     string    `json:"action,omitempty"`
	URL        string    `json:"url,omitempty"`

	post.Update
}

// TypeList is the microformat type of a create request. It decodes from a
// string or a list of strings.
type TypeList []string

// UnmarshalJSON accepts "h-entry" as well as ["h-entry"].
func (t *TypeList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = TypeList{single}

		return nil
	}

	var list []string

	err := json.Unmarshal(data, &list)
	if err != nil {
		return fmt.Errorf("decode type: %w", err)
	}

	*t = list

	return nil
}

// First returns the first type, or "" when none was given.
func (t TypeList) First() string {
	if len(t) == 0 {
		return ""
	}

	return t[0]
}

// DecodeRequest parses a JSON request body.
func DecodeRequest(data []byte) (Request, error) {
	var req Request

	err := json.Unmarshal(data, &req)
	if err != nil {
		return Request{}, newError(KindBadRequest, err, "malformed request")
	}

	return req, nil
}

// Response describes a successful request.
type Response struct {
	Action string `json:"action"`

	// Location is the post URL. It is set for creates and updates.
	Location string `json:"location,omitempty"`
}
