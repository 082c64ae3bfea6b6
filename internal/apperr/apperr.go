// Package apperr defines the error taxonomy shared by every docchat component.
//
// Components return *Error values tagged with a Kind. Only the HTTP layer
// (internal/server) looks at the Kind to pick a status code and a
// user-facing message; everything below it just returns errors.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The zero value is KindUnknown so that an
// untagged error never accidentally looks like a client mistake.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindConfiguration
	KindUnsupportedMediaType
	KindNotFound
	KindParse
	KindUpstream
)

// String returns the kind name used in log lines.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindConfiguration:
		return "configuration"
	case KindUnsupportedMediaType:
		return "unsupported_media_type"
	case KindNotFound:
		return "not_found"
	case KindParse:
		return "parse"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed
// (e.g. "document.Save") and Err carries the underlying cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New builds an *Error. err may be nil.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error whose cause is a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnknown if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
