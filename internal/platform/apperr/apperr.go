// Package apperr defines the error taxonomy shared by the billing and
// consultation domains and its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports malformed or missing input. Nothing was mutated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Validation builds a ValidationError.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidStateError reports an operation that is not legal for the current
// status of an aggregate.
type InvalidStateError struct {
	Entity string
	State  string
	Action string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s in state %q: cannot %s", e.Entity, e.State, e.Action)
}

// InvalidState builds an InvalidStateError.
func InvalidState(entity, state, action string) error {
	return &InvalidStateError{Entity: entity, State: state, Action: action}
}

// InsufficientStockError reports a consumable whose stock cannot cover the
// requested quantity.
type InsufficientStockError struct {
	Code      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Code, e.Requested, e.Available)
}

// TransactionConflictError is raised when a unit of work is asked to begin a
// second transaction while one is still open.
type TransactionConflictError struct {
	ActiveID string
}

func (e *TransactionConflictError) Error() string {
	return fmt.Sprintf("transaction %s is still open", e.ActiveID)
}

// NotFoundError reports a missing row or aggregate.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// HTTPStatus maps an error from the domain onto a response code.
func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		state      *InvalidStateError
		stock      *InsufficientStockError
		notFound   *NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &state), errors.As(err, &stock):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
