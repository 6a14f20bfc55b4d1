package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/agent-infra/internal/api/shared"
	"github.com/phrazzld/agent-infra/internal/store"
	"github.com/phrazzld/agent-infra/internal/task"
)

// ErrValidation marks a request that failed validation.
var ErrValidation = errors.New("validation failed")

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking their text to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, task.ErrInvalidTaskID),
		errors.Is(err, ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, task.ErrUnknownTask),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed),
		errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-safe message for err.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.Is(err, task.ErrInvalidTaskID):
		return "Invalid task ID"
	case errors.Is(err, task.ErrUnknownTask):
		return "Task not found"
	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed):
		return "Task queue unavailable, try again later"
	case errors.Is(err, store.ErrUnavailable):
		return "Service temporarily unavailable"
	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"
	case errors.Is(err, store.ErrDuplicate):
		return "Resource already exists"
	case errors.Is(err, store.ErrInvalidEntity), errors.Is(err, ErrValidation):
		return "Invalid request data"
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes an error response for err. fallbackMsg replaces
// the generic message for unmapped (500) errors when non-empty.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallbackMsg string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallbackMsg != "" {
		msg = fallbackMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}

// HandleValidationError writes a 400 response describing the first failed
// field of a validator error.
func HandleValidationError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest,
		SanitizeValidationError(err), fmt.Errorf("%w: %v", ErrValidation, err))
}

// SanitizeValidationError turns a validator error into a short message such
// as "Invalid to: invalid email format".
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fieldName(fe)
		if tag := fe.Tag(); tag != "" {
			return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
		}
		return fmt.Sprintf("Invalid %s", field)
	}
	return "Validation error"
}

// fieldName prefers the lowercased field name as clients send it.
func fieldName(fe validator.FieldError) string {
	return strings.ToLower(fe.Field())
}

func getValidationTagMessage(tag string) string {
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
