// Package rerr defines the error kinds the supervisor surfaces to callers.
//
// Internal sub-concerns (a dropped notification, a dead subscriber, a bad
// regex) never unwind into these — they are handled locally and published as
// events instead. Kind is only for errors returned to an operator-facing
// caller (the HTTP API, a CLI command).
package rerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the HTTP boundary to map to a status code.
type Kind string

const (
	NotFound           Kind = "not_found"
	Conflict           Kind = "conflict"
	InvalidInput       Kind = "invalid_input"
	RegexCompile       Kind = "regex_compile"
	TransportFailure   Kind = "transport_failure"
	SubscriberOverflow Kind = "subscriber_overflow"
	Overloaded         Kind = "overloaded"
	NotifyQueueFull    Kind = "notify_queue_full"
	ChildSpawnFailed   Kind = "child_spawn_failed"
	PersistenceCorrupt Kind = "persistence_corrupt"
)

// Error is a kinded error with a human-readable message.
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

// New builds a kinded error.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a kinded error around an existing cause.
func Wrap(kind Kind, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the kind from err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
