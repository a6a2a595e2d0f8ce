// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/doc-extract/backend/internal/review"
	"github.com/doc-extract/backend/internal/session"
	"github.com/doc-extract/backend/internal/storage"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewUnprocessableError creates a 422 error for a request that is well formed
// but not allowed in the current review state.
func NewUnprocessableError(code, message string, details any) *APIError {
	return &APIError{
		Status:  http.StatusUnprocessableEntity,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// mapError translates domain errors into API errors. resource and id name
// the addressed object for not found responses.
func mapError(err error, resource, id string) *APIError {
	var apiErr *APIError
	var invalid *review.ValidationError

	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, session.ErrRunNotFound),
		errors.Is(err, storage.ErrSessionNotFound):
		return NewNotFoundError(resource, id)
	case errors.Is(err, review.ErrFileNotFound),
		errors.Is(err, storage.ErrFileNotFound),
		errors.Is(err, session.ErrDocumentNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, session.ErrRunNotFinished), errors.Is(err, session.ErrSessionExists):
		return NewConflictError(err.Error())
	case errors.As(err, &invalid):
		return NewUnprocessableError("VALIDATION_ERROR", err.Error(), map[string]any{"fields": invalid.Fields})
	case errors.Is(err, review.ErrRejectionReasonRequired):
		return NewUnprocessableError("VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, review.ErrNoExtractedData):
		return NewUnprocessableError("APPROVAL_PRECONDITION", err.Error(), nil)
	case errors.Is(err, session.ErrNoFiles),
		errors.Is(err, review.ErrEmptyFieldName),
		errors.Is(err, review.ErrRecordOutOfRange),
		errors.Is(err, storage.ErrInvalidSnapshot),
		errors.Is(err, storage.ErrSnapshotVersion):
		return NewBadRequestError(err.Error(), nil)
	default:
		return NewInternalError("request failed", err)
	}
}

// ErrorHandler renders errors as APIError JSON.
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		apiErr = &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	default:
		apiErr = mapError(err, "resource", "")
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(apiErr.Status)
		return
	}
	_ = c.JSON(apiErr.Status, apiErr)
}
