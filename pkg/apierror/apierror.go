package apierror

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the client can surface. The set is total:
// any failed request or channel event resolves to exactly one kind.
type Kind string

const (
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindNetwork      Kind = "NETWORK_ERROR"
	KindServer       Kind = "SERVER_ERROR"
	KindParse        Kind = "PARSE_ERROR"
	KindConnection   Kind = "CONNECTION_ERROR"
)

type Error struct {
	Kind    Kind   `json:"kind"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func New(kind Kind, status int, message string, details string) *Error {
	return &Error{Kind: kind, Status: status, Message: message, Details: details}
}

// IsKind reports whether err (or anything it wraps) is a classified error of
// the given kind.
func IsKind(err error, kind Kind) bool {
	var classified *Error
	if !errors.As(err, &classified) {
		return false
	}

	return classified.Kind == kind
}
