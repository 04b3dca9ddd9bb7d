// Package kberr defines the error kinds shared across the gateway.
//
// Components wrap failures in an *Error carrying a Kind; the HTTP layer and
// the chat orchestrator branch on the kind, never on error strings.
package kberr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindUnknown is the zero value; treat as an internal error.
	KindUnknown Kind = iota

	// KindConfigMissing means a required environment value was absent at use time.
	KindConfigMissing

	// KindRemoteUnavailable means a backend timed out or refused the connection.
	KindRemoteUnavailable

	// KindRemoteBadResponse means a backend answered with non-2xx or a malformed body.
	KindRemoteBadResponse

	// KindRateLimited means a local or upstream rate limit was exceeded.
	KindRateLimited

	// KindValidation means bad tool parameters or a bad request body.
	KindValidation

	// KindParseFailure means malformed Markdown or unparseable JSON from the LLM.
	KindParseFailure

	// KindNotFound means an unknown tool or command.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfigMissing:
		return "config_missing"
	case KindRemoteUnavailable:
		return "remote_unavailable"
	case KindRemoteBadResponse:
		return "remote_bad_response"
	case KindRateLimited:
		return "rate_limited"
	case KindValidation:
		return "validation"
	case KindParseFailure:
		return "parse_failure"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a kind-tagged error. It supports errors.Is against other *Error
// values of the same kind, and errors.Unwrap for the cause chain.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New creates a kind-tagged error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a kind-tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error. Returns nil when
// err is nil so call sites can wrap unconditionally.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ConfigMissing builds the standard error for an absent environment variable.
func ConfigMissing(envVar string) *Error {
	return Newf(KindConfigMissing, "required environment variable %s is not set", envVar)
}
