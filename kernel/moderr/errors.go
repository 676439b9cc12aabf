// Package moderr defines the typed error taxonomy shared by every
// component of the module host: the kinds a boundary call can fail
// with, and a small wrapper that keeps Go's errors.Is/As working while
// still exposing the spec's Kind enum to callers.
package moderr

import (
	"errors"
	"fmt"
)

// Kind is one of the detailed error kinds from the external interface's
// status enumeration.
type Kind string

const (
	NotFound             Kind = "not_found"
	Duplicate            Kind = "duplicate"
	NotPermitted         Kind = "not_permitted"
	NotADependency       Kind = "not_a_dependency"
	CyclicDependency     Kind = "cyclic_dependency"
	Detached             Kind = "detached"
	InvalidExport        Kind = "invalid_export"
	InvalidParameterType Kind = "invalid_parameter_type"
	OperationFailed      Kind = "operation_failed"
)

// Error is the detailed, thread-local-equivalent error value attached
// to a failing boundary call. Op names the operation that failed
// ("add_namespace", "link_instances", ...); Cause optionally wraps the
// underlying error (a user callback's own error, for OperationFailed).
type Error struct {
	Kind  Kind
	Op    string
	Name  string // the module/instance/symbol name most relevant to the failure, if any
	Cause error
}

func (e *Error) Error() string {
	switch {
	case e.Cause != nil && e.Name != "":
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Name, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	case e.Name != "":
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.Name)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(op string, kind Kind, name string) *Error {
	return &Error{Op: op, Kind: kind, Name: name}
}

// Wrap builds an *Error wrapping cause, following the teacher's
// WrapError(err, msg) convention but carrying a typed Kind alongside
// the message.
func Wrap(op string, kind Kind, name string, cause error) *Error {
	return &Error{Op: op, Kind: kind, Name: name, Cause: cause}
}

// Is reports whether err is a *Error of the given kind — the
// errors.Is-compatible way callers check the spec's status enumeration.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
