package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common domain errors. Callers discriminate with errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrExecution      = errors.New("action execution failed")
	ErrCooldownActive = errors.New("cooldown active")
	ErrExecutionLimit = errors.New("execution limit exceeded")
	ErrInvalidInput   = errors.New("invalid input")
)

// NotFoundError identifies exactly which entity was missing. Always surfaced
// to the caller, never retried.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFound constructs a NotFoundError for the given entity kind and id.
func NewNotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ValidationError reports structural problems with an entity at create or
// update time. The entity is never stored when this is returned.
type ValidationError struct {
	Entity   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Entity, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ExecutionError wraps an individual action failure. It is caught and recorded
// per action, never propagated to abort a batch.
type ExecutionError struct {
	ActionType string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %s: %v", e.ActionType, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}
