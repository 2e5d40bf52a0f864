package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mkessler/taskstation/internal/ratelimit"
	"github.com/mkessler/taskstation/internal/retry"
	"github.com/mkessler/taskstation/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return http.StatusTooManyRequests

	// Shed-load conditions: the subsystem is refusing work, not broken.
	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, retry.ErrCircuitOpen):
		return http.StatusServiceUnavailable

	case errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound

	case errors.Is(err, task.ErrTaskTerminal):
		return http.StatusConflict

	case errors.Is(err, task.ErrHandlerNotFound):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-facing message for err.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"

	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return "Rate limit exceeded, retry later"

	case errors.Is(err, task.ErrQueueFull):
		return "Task queue is full, retry later"

	case errors.Is(err, retry.ErrCircuitOpen):
		return "Task submission temporarily unavailable"

	case errors.Is(err, task.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, task.ErrTaskTerminal):
		return "Task has already completed"

	case errors.Is(err, task.ErrHandlerNotFound):
		return "Unknown task name"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError reduces a validator error to a message safe to
// return to clients.
func SanitizeValidationError(err error) string {
	msg := err.Error()
	if !strings.Contains(msg, "Field validation") {
		return "Validation error"
	}

	// Example input: "Key: 'SubmitTaskRequest.Name' Error:Field
	// validation for 'Name' failed on the 'required' tag".
	parts := strings.Split(msg, "Error:")
	if len(parts) < 2 {
		return "Validation error"
	}
	fields := strings.Split(parts[1], "'")
	if len(fields) < 3 {
		return "Validation error"
	}

	field := fields[1]
	if len(fields) >= 5 {
		return fmt.Sprintf("Invalid %s: failed %s check", field, fields[3])
	}
	return fmt.Sprintf("Invalid %s", field)
}
