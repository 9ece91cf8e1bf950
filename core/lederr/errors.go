package lederr

import (
	"errors"
	"fmt"
)

// The ledger and query layer reject every bad operation with one of five
// typed errors. Each carries enough structured detail for the route
// layer to render a precise message; none of them is ever produced after
// a partial mutation.

// ValidationError reports malformed or out-of-bound input. Safe to retry
// once the input is fixed.
type ValidationError struct {
	Field  string      `json:"field"`
	Value  interface{} `json:"value,omitempty"`
	Limit  interface{} `json:"limit,omitempty"`
	Reason string      `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Limit != nil {
		return fmt.Sprintf("validation failed: %s %s (value=%v, limit=%v)", e.Field, e.Reason, e.Value, e.Limit)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// AuthorizationError reports a caller acting on a record it does not
// own, or addressing itself as its own counterparty.
type AuthorizationError struct {
	Caller string `json:"caller"`
	Reason string `json:"reason"`
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("unauthorized: %s (caller=%s)", e.Reason, e.Caller)
}

// NotFoundError reports an id that was never allocated. Records that
// exist but are terminal are reported via ConflictError instead, so
// clients can distinguish "never existed" from "already settled".
type NotFoundError struct {
	Kind string `json:"kind"` // "consent", "request", "hash"
	ID   string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ConflictError reports an operation against a record already in a
// terminal state. Signals a stale client, not a system fault.
type ConflictError struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	State string `json:"state"` // the record's terminal state
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s already %s", e.Kind, e.ID, e.State)
}

// IntegrityError reports a hash referenced by a record that no longer
// resolves in the string registry. Should never happen; logged loudly
// and surfaced distinctly from ordinary not-found.
type IntegrityError struct {
	Hash   string `json:"hash"`
	Record string `json:"record"`
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation: hash %s referenced by %s does not resolve", e.Hash, e.Record)
}

// Category helpers used by the route layer to map errors onto transport
// status codes without type-switching in every handler.

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsIntegrity(err error) bool {
	var target *IntegrityError
	return errors.As(err, &target)
}

// Code returns the short machine tag for an error, used in receipts and
// audit entries.
func Code(err error) string {
	switch {
	case IsValidation(err):
		return "validation_failed"
	case IsAuthorization(err):
		return "unauthorized"
	case IsNotFound(err):
		return "not_found"
	case IsConflict(err):
		return "conflict"
	case IsIntegrity(err):
		return "integrity_violation"
	default:
		return "internal_error"
	}
}
