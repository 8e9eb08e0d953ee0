// CLAUDE:SUMMARY Error taxonomy for the comparison pipeline: document, navigation, dimension mismatch, resource, invalid request.
// Package fault classifies pipeline failures so the orchestrator can report
// them without inspecting message text.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a pipeline failure.
type Kind string

const (
	// KindDocument: unreadable or invalid source document, or page out of range.
	KindDocument Kind = "document"
	// KindNavigation: the live page failed to load within the timeout.
	KindNavigation Kind = "navigation"
	// KindDimensionMismatch: images reached the differ with different sizes.
	KindDimensionMismatch Kind = "dimension_mismatch"
	// KindResource: rendering engine or rasterizer binary unavailable.
	KindResource Kind = "resource"
	// KindInvalid: malformed comparison request.
	KindInvalid Kind = "invalid"
	// KindCancelled: the comparison was skipped because its batch was cancelled.
	KindCancelled Kind = "cancelled"
	KindUnknown   Kind = "unknown"
)

// Error is a classified pipeline error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New returns an Error without a cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err. An err that already carries a Kind is returned as is,
// so the innermost classification wins. Wrap(nil) is nil.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: kind, Op: op, Message: message, Cause: err}
}

// IsKind reports whether the first classified error in err's chain has kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the Kind of the first classified error in the chain,
// or KindUnknown.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindUnknown
}
