package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidPrecondition = errors.New("invalid precondition")
	ErrMissingColumn       = errors.New("missing column")
	ErrColumnType          = errors.New("column type mismatch")
	ErrNotImplemented      = errors.New("not implemented")
	ErrStorage             = errors.New("storage failure")
	ErrInvalidFilter       = errors.New("invalid filter")
)

// StorageError wraps an error returned by the row store. The driver error is
// kept unchanged and reachable through errors.Unwrap.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// ErrSchemaViolation is returned when a request document does not conform to
// the JSON schema of the aggregate it describes.
type ErrSchemaViolation struct {
	Errors []string
}

func (e *ErrSchemaViolation) Error() string {
	return fmt.Sprintf("schema validation failed: %s", strings.Join(e.Errors, "; "))
}
