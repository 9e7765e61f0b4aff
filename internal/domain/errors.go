// Package domain defines core types, interfaces, and errors for the schema evolution engine.
package domain

import (
	"fmt"
	"time"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate sequence number).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// MalformedSchemaError indicates a structurally invalid schema: an unknown
// type tag, a duplicate field name, or a missing nested type. Such schemas are
// rejected before diffing.
type MalformedSchemaError struct {
	Path    string // dotted field path, empty for schema-level problems
	Message string
}

func (e *MalformedSchemaError) Error() string {
	if e.Path == "" {
		return "malformed schema: " + e.Message
	}
	return fmt.Sprintf("malformed schema at %q: %s", e.Path, e.Message)
}

// NoPriorSnapshotError signals that a dataset has no registered snapshot yet.
// It is the trigger for first-time registration, not a failure.
type NoPriorSnapshotError struct {
	DatasetID string
}

func (e *NoPriorSnapshotError) Error() string {
	return fmt.Sprintf("dataset %q has no prior snapshot", e.DatasetID)
}

// ConcurrentEvaluationError is returned when an evaluation for the same dataset
// is already in flight. Callers should retry after RetryAfter.
type ConcurrentEvaluationError struct {
	DatasetID  string
	RetryAfter time.Duration
}

func (e *ConcurrentEvaluationError) Error() string {
	return fmt.Sprintf("evaluation already in progress for dataset %q, retry after %s", e.DatasetID, e.RetryAfter)
}

// LineageUnavailableError wraps a failure of the lineage collaborator.
type LineageUnavailableError struct {
	DatasetID string
	Err       error
}

func (e *LineageUnavailableError) Error() string {
	return fmt.Sprintf("lineage provider unavailable for %q: %v", e.DatasetID, e.Err)
}

func (e *LineageUnavailableError) Unwrap() error { return e.Err }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrMalformed creates a MalformedSchemaError for the given field path.
func ErrMalformed(path, format string, args ...interface{}) *MalformedSchemaError {
	return &MalformedSchemaError{Path: path, Message: fmt.Sprintf(format, args...)}
}
