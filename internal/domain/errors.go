package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrImageNotFound  = errors.New("image not found")
	ErrResultNotFound = errors.New("result not found")
	ErrObjectNotFound = errors.New("object not found")
	ErrQueueFull      = errors.New("dispatch queue is full")
	ErrEngineClosed   = errors.New("transform engine is shut down")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// ConflictError reports an illegal state transition.
type ConflictError struct {
	TaskID string
	From   TaskState
	To     TaskState
	Reason string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("task %s: cannot move from %s to %s", e.TaskID, e.From, e.To)
}

// TransformError reports the pipeline stage that failed.
type TransformError struct {
	Stage string
	Cause error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Cause)
}

func (e *TransformError) Unwrap() error {
	return e.Cause
}

// StorageError reports an object or row persistence failure.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s failed: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrImageNotFound) ||
		errors.Is(err, ErrResultNotFound) ||
		errors.Is(err, ErrObjectNotFound)
}
