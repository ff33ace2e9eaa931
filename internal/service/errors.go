package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrExtraction          = errors.New("no text could be extracted from the document")
	ErrNotFound            = errors.New("scan not found")
	ErrForbidden           = errors.New("scan belongs to another account")
	ErrPersistence         = errors.New("persistence failure")
)

// ValidationError describes a malformed input field. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ExternalServiceError reports a failed call to the AI analysis service.
// The scan is left unchanged, so Retriable errors can be retried as-is.
type ExternalServiceError struct {
	Op        string
	Retriable bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func persistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
