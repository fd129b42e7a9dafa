package errors

import (
	"errors"
	"fmt"
)

// MalformedGenerationError means the Generation Service answered but the
// payload failed schema or shape checks. Index is -1 for payload level
// problems, otherwise the offending quizData entry.
type MalformedGenerationError struct {
	Index  int
	Reason string
	Err    error
}

func (e *MalformedGenerationError) Error() string {
	msg := "malformed generation"
	if e.Index >= 0 {
		msg = fmt.Sprintf("%s: question %d", msg, e.Index+1)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *MalformedGenerationError) Unwrap() error { return e.Err }

func NewMalformedGenerationError(index int, reason string, err error) *MalformedGenerationError {
	return &MalformedGenerationError{Index: index, Reason: reason, Err: err}
}

// ServiceUnavailableError wraps network, auth and quota failures of the
// Generation Service.
type ServiceUnavailableError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *ServiceUnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation service unavailable during %s (status %d): %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generation service unavailable during %s: %v", e.Operation, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

func NewServiceUnavailableError(operation string, statusCode int, err error) *ServiceUnavailableError {
	return &ServiceUnavailableError{Operation: operation, StatusCode: statusCode, Err: err}
}

// PersistenceError is a store read or write failure. In-memory state stays
// usable when one is returned.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func NewPersistenceError(op, key string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Key: key, Err: err}
}

func IsMalformedGeneration(err error) bool {
	var target *MalformedGenerationError
	return errors.As(err, &target)
}

func IsServiceUnavailable(err error) bool {
	var target *ServiceUnavailableError
	return errors.As(err, &target)
}

func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}
