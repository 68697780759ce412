// Package dberr defines the error kinds surfaced by the storage core.
//
// The core never performs partial mutation: every operation either fully
// succeeds or returns one of these kinds, wrapped with fmt.Errorf the same
// way the rest of this repository wraps errors.
package dberr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of failure.
type Kind int

const (
	// OutOfMemory indicates allocator exhaustion.
	OutOfMemory Kind = iota + 1
	// CorruptData indicates header fields violate invariants, or a ref
	// points outside the arena.
	CorruptData
	// StaleSubtable indicates an operation on an Invalidated wrapper.
	StaleSubtable
	// PreconditionViolation indicates an out-of-range index, a
	// width-impossible value, or a null buffer where forbidden.
	PreconditionViolation
)

func (k Kind) String() string {
	switch k {
	case OutOfMemory:
		return "OutOfMemory"
	case CorruptData:
		return "CorruptData"
	case StaleSubtable:
		return "StaleSubtable"
	case PreconditionViolation:
		return "PreconditionViolation"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is a typed error carrying a Kind.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Msg }

// New constructs an *Error for the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf constructs an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Is lets errors.Is match on Kind alone (ignoring Msg), so callers can do
// errors.Is(err, dberr.New(dberr.CorruptData, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// KindOf extracts the Kind from err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
