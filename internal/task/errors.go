package task

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors returned by the task engine.
var (
	// ErrNeedsUserInput is returned (or wrapped) by a handler to signal that
	// the task cannot proceed without additional user input. The dispatcher
	// parks the task in blocked_user instead of treating this as a failure.
	ErrNeedsUserInput = errors.New("task needs user input")

	// ErrTaskTypeUnknown indicates no handler is registered for a task type.
	ErrTaskTypeUnknown = errors.New("no handler registered for task type")

	// ErrTaskTypeRegistered indicates a duplicate handler registration.
	ErrTaskTypeRegistered = errors.New("handler already registered for task type")

	// ErrTaskNotBlocked indicates an unblock was attempted on a task that is
	// not waiting for user input.
	ErrTaskNotBlocked = errors.New("task is not waiting for user input")

	// ErrTaskNotFailed indicates a retry was attempted on a task that is not
	// in the failed status.
	ErrTaskNotFailed = errors.New("task is not in a failed status")

	// ErrTaskSettled indicates a manual completion or failure was attempted
	// on a task that already reached a terminal status.
	ErrTaskSettled = errors.New("task already reached a terminal status")
)

// DependencyError describes an invalid dependency reference in a task spec.
type DependencyError struct {
	// TaskID is the referenced task, or uuid.Nil for batch-index references.
	TaskID uuid.UUID

	// Index is the offending spec's position within its batch, or -1 when the
	// spec was submitted alone.
	Index int

	Reason string
}

func (e *DependencyError) Error() string {
	if e.TaskID != uuid.Nil {
		return fmt.Sprintf("invalid dependency on task %s: %s", e.TaskID, e.Reason)
	}
	return fmt.Sprintf("invalid dependency in spec %d: %s", e.Index, e.Reason)
}

// permanentError marks a handler error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the dispatcher fails the task immediately instead
// of consuming the remaining retry budget. A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or any error it wraps) was marked with
// Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
