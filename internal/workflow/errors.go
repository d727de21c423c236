package workflow

import (
	"errors"
	"fmt"
)

// ErrNotOwned indicates a run or task belongs to a different user than the
// one making the request. The API layer maps this to HTTP 403 Forbidden.
var ErrNotOwned = errors.New("resource is owned by another user")

// ServiceError wraps failures crossing the workflow service boundary with
// the operation that produced them. The underlying cause stays reachable
// through errors.Is/errors.As so callers can branch on sentinels such as
// store.ErrRunNotFound, ErrNotOwned or domain.ErrInvalidRunTransition.
type ServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("workflow service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("workflow service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
func NewServiceError(operation, message string, err error) *ServiceError {
	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
