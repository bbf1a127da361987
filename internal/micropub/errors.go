package micropub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the stable tag a client sees for a failed request.
type ErrorKind string

// Error kinds. The names are the Micropub error codes.
const (
	KindBadRequest        ErrorKind = "bad_request"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindForbidden         ErrorKind = "forbidden"
	KindInsufficientScope ErrorKind = "insufficient_scope"
	KindNotFound          ErrorKind = "not_found"
	KindConflict          ErrorKind = "conflict"
	KindInternal          ErrorKind = "internal_server_error"
)

// Error is a classified failure. Message is safe to show to clients; Err
// carries the underlying cause for logs and errors.Is.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}

	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the response status a transport should use.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden, KindInsufficientScope:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// MarshalJSON encodes the Micropub error body.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error       ErrorKind `json:"error"`
		Description string    `json:"error_description,omitempty"`
	}{e.Kind, e.Message})
}

// KindOf returns the kind of err. Unclassified errors are internal; nil has
// no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}

// AsError returns err as an [*Error], classifying unknown errors as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

func newError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}
