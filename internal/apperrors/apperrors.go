// Package apperrors defines the error taxonomy shared by the feed pipeline.
// Callers distinguish the kinds with errors.As.
package apperrors

import (
	"fmt"
)

// ParseError reports a malformed or structurally invalid feed payload.
// Section names the part of the payload at fault when it is known, for
// example "stops.txt" or "feed_message".
type ParseError struct {
	Section string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Section == "" {
		return fmt.Sprintf("parse error: %v", e.Err)
	}
	return fmt.Sprintf("parse error in %s: %v", e.Section, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError wraps err as a ParseError for the given section.
func NewParseError(section string, err error) *ParseError {
	return &ParseError{Section: section, Err: err}
}

// ReconciliationConflictError reports a batch that cannot be merged into
// storage: two incoming rows with the same natural id, or a stale entity that
// is still referenced by a live one.
type ReconciliationConflictError struct {
	Kind   string
	ID     string
	Reason string
}

func (e *ReconciliationConflictError) Error() string {
	return fmt.Sprintf("reconciliation conflict for %s %q: %s", e.Kind, e.ID, e.Reason)
}

// InvalidInputError reports caller-supplied parameters that violate a
// precondition.
type InvalidInputError struct {
	Message string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Message
}

// InvalidInputf builds an InvalidInputError from a format string.
func InvalidInputf(format string, args ...any) *InvalidInputError {
	return &InvalidInputError{Message: fmt.Sprintf(format, args...)}
}

// IdNotFoundError reports a lookup of an entity that does not exist.
type IdNotFoundError struct {
	Kind string
	ID   string
}

func (e *IdNotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}
