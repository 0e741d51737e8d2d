package services

import "fmt"

// ValidationError reports malformed input per field. Nothing reaches the
// store when one is returned.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type AuthError struct{ Message string }

func (e *AuthError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

// ConflictError reports a lifecycle race that could not be resolved.
type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

// StoreError is a store failure that survived the retry budget.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func validationFailed(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}
