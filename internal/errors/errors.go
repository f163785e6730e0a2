// Package errors provides structured error types for conductor.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for conductor.
const (
	// Lookup errors
	CodeRunNotFound    Code = "RUN_NOT_FOUND"
	CodeEventNotFound  Code = "EVENT_NOT_FOUND"
	CodeEntityNotFound Code = "ENTITY_NOT_FOUND"

	// State machine errors
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeOptimisticLockFailed Code = "OPTIMISTIC_LOCK_FAILED"

	// Event log errors
	CodeForbiddenSource Code = "FORBIDDEN_SOURCE"
	CodeDuplicate       Code = "DUPLICATE"
	CodeValidation      Code = "VALIDATION_FAILED"

	// Outbox errors
	CodeRetryableExternal Code = "RETRYABLE_EXTERNAL"
	CodePermanentExternal Code = "PERMANENT_EXTERNAL"
	CodeNotImplemented    Code = "NOT_IMPLEMENTED"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryForbidden
	CategoryInternal
	CategoryUnavailable
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeRunNotFound:          CategoryNotFound,
	CodeEventNotFound:        CategoryNotFound,
	CodeEntityNotFound:       CategoryNotFound,
	CodeInvalidTransition:    CategoryConflict,
	CodeOptimisticLockFailed: CategoryConflict,
	CodeForbiddenSource:      CategoryForbidden,
	CodeDuplicate:            CategoryConflict,
	CodeValidation:           CategoryBadRequest,
	CodeRetryableExternal:    CategoryUnavailable,
	CodePermanentExternal:    CategoryInternal,
	CodeNotImplemented:       CategoryInternal,
	CodeConfigInvalid:        CategoryBadRequest,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryForbidden:
		return 403
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// Error is the structured error type for conductor.
type Error struct {
	Code   Code   `json:"code"`
	What   string `json:"what"`
	Detail string `json:"detail,omitempty"`
	Cause  error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Category returns the error category for HTTP status mapping.
func (e *Error) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// Is reports whether target is a conductor Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// MarshalJSON implements json.Marshaler, including the cause message.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{alias: (*alias)(e)}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// WithCause returns a copy of the error with the given cause.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, What: e.What, Detail: e.Detail, Cause: err}
}

// --- Error constructors ---

// New returns an error with the given code and message.
func New(code Code, what string) *Error {
	return &Error{Code: code, What: what}
}

// ErrRunNotFound returns an error for a missing run.
func ErrRunNotFound(runID string) *Error {
	return &Error{
		Code: CodeRunNotFound,
		What: fmt.Sprintf("run %s not found", runID),
	}
}

// ErrInvalidTransition returns an error for a transition the state machine forbids.
func ErrInvalidTransition(runID, from, to string) *Error {
	return &Error{
		Code:   CodeInvalidTransition,
		What:   fmt.Sprintf("run %s cannot transition from %s to %s", runID, from, to),
		Detail: "the phase state machine forbids this move",
	}
}

// ErrOptimisticLockFailed returns an error when a concurrent transition won.
// Callers should re-read the run and decide again.
func ErrOptimisticLockFailed(runID, expectedPhase string) *Error {
	return &Error{
		Code:   CodeOptimisticLockFailed,
		What:   fmt.Sprintf("run %s was concurrently modified", runID),
		Detail: fmt.Sprintf("expected phase %s no longer current", expectedPhase),
	}
}

// ErrForbiddenSource returns an error for a source-authority violation.
func ErrForbiddenSource(eventType, source string) *Error {
	return &Error{
		Code:   CodeForbiddenSource,
		What:   fmt.Sprintf("event type %s may not be emitted by source %s", eventType, source),
		Detail: "decision events are reserved for the orchestrator",
	}
}

// ErrValidation returns an error for a payload or reference that fails checks.
func ErrValidation(detail string) *Error {
	return &Error{
		Code:   CodeValidation,
		What:   "validation failed",
		Detail: detail,
	}
}

// ErrNotImplemented returns an error for reserved outbox kinds.
// Treated as a permanent failure: the outbox must not retry it.
func ErrNotImplemented(kind string) *Error {
	return &Error{
		Code: CodeNotImplemented,
		What: fmt.Sprintf("write kind %s is not implemented", kind),
	}
}

// ErrRetryableExternal wraps a transient external failure (rate limit, 5xx, network).
func ErrRetryableExternal(err error) *Error {
	return &Error{
		Code:  CodeRetryableExternal,
		What:  "external call failed transiently",
		Cause: err,
	}
}

// ErrPermanentExternal wraps a non-retryable external failure (4xx, bad payload).
func ErrPermanentExternal(err error) *Error {
	return &Error{
		Code:  CodePermanentExternal,
		What:  "external call failed permanently",
		Cause: err,
	}
}

// IsCode reports whether err is a conductor Error with the given code.
func IsCode(err error, code Code) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// AsError attempts to convert an error to a conductor Error.
// Returns nil if the error is not one.
func AsError(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return nil
}

// Wrap wraps a generic error with unknown code.
func Wrap(err error, what string) *Error {
	return &Error{Code: Code("UNKNOWN"), What: what, Cause: err}
}
