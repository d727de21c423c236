package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/pageforge/pageforge-api/internal/api/shared"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/service/auth"
	"github.com/pageforge/pageforge-api/internal/store"
	"github.com/pageforge/pageforge-api/internal/task"
	"github.com/pageforge/pageforge-api/internal/workflow"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var depErr *task.DependencyError

	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrInvalidRefreshToken),
		errors.Is(err, auth.ErrExpiredRefreshToken),
		errors.Is(err, auth.ErrWrongTokenType),
		errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized

	// Authorization errors
	case errors.Is(err, workflow.ErrNotOwned):
		return http.StatusForbidden

	// Not found errors
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, task.ErrTaskTypeUnknown):
		return http.StatusNotFound

	// Conflict errors: the entity exists but is in the wrong state for the
	// requested operation.
	case errors.Is(err, store.ErrEmailExists),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, domain.ErrInvalidRunTransition),
		errors.Is(err, task.ErrTaskNotBlocked),
		errors.Is(err, task.ErrTaskNotFailed),
		errors.Is(err, task.ErrTaskSettled):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidWorkflowType),
		errors.As(err, &depErr):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message based
// on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var depErr *task.DependencyError

	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return "Invalid token"

	case errors.Is(err, auth.ErrInvalidRefreshToken),
		errors.Is(err, auth.ErrExpiredRefreshToken),
		errors.Is(err, auth.ErrWrongTokenType):
		return "Invalid refresh token"

	case errors.Is(err, domain.ErrUnauthorized):
		return "Unauthorized"

	case errors.Is(err, workflow.ErrNotOwned):
		return "You do not own this resource"

	case errors.Is(err, store.ErrUserNotFound):
		return "User not found"

	case errors.Is(err, store.ErrRunNotFound):
		return "Workflow run not found"

	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, task.ErrTaskTypeUnknown):
		return "Unknown task type"

	case errors.Is(err, store.ErrEmailExists):
		return "Email already exists"

	case errors.Is(err, domain.ErrInvalidRunTransition):
		return "Run cannot make this transition"

	case errors.Is(err, task.ErrTaskNotBlocked):
		return "Task is not waiting for user input"

	case errors.Is(err, task.ErrTaskNotFailed):
		return "Task is not in a failed status"

	case errors.Is(err, task.ErrTaskSettled):
		return "Task already reached a terminal status"

	case errors.Is(err, domain.ErrInvalidWorkflowType):
		return "Invalid workflow type"

	case errors.As(err, &depErr):
		return "Invalid task dependency"

	case errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, domain.ErrValidation):
		return "Invalid request data"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the response for an error crossing the API boundary:
// the status code from MapErrorToStatusCode and either the supplied message
// or the sanitized one derived from the error.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// SanitizeValidationError reduces a validator error to a user-friendly
// message naming only the offending field and rule, never the raw input.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()
	if !strings.Contains(errMsg, "Field validation") {
		return "Validation error"
	}

	// Example input: "Key: 'LoginRequest.Email' Error:Field validation for
	// 'Email' failed on the 'required' tag"
	parts := strings.Split(errMsg, "Error:")
	if len(parts) < 2 {
		return "Validation error"
	}
	fieldParts := strings.Split(parts[1], "'")
	if len(fieldParts) < 3 {
		return "Validation error"
	}

	field := fieldParts[1]
	if len(fieldParts) >= 5 {
		return "Invalid " + field + ": " + validationTagMessage(fieldParts[3])
	}
	return "Invalid " + field
}

func validationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "email":
		return "invalid email format"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
