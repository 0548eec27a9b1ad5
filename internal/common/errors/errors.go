// Package errors defines the application error type the HTTP layer
// renders. Services return plain sentinel errors; handlers translate them
// into AppErrors carrying a stable code and status, and the error-handling
// middleware writes the response.
package errors

import (
	"fmt"
	"net/http"
)

// Error codes surfaced to API clients.
const (
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeRunNotActive  = "RUN_NOT_ACTIVE"
	ErrCodeInvalidChatID = "INVALID_CHAT_ID"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// AppError is an error with a client-facing code and HTTP status.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest reports an invalid request payload or parameter.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// RunNotActive reports a mid-run operation (cancel, tool result) against a
// chat with no live agent process.
func RunNotActive(chatID string) *AppError {
	return &AppError{
		Code:       ErrCodeRunNotActive,
		Message:    fmt.Sprintf("no running agent for chat '%s'", chatID),
		HTTPStatus: http.StatusNotFound,
	}
}

// InvalidChatID reports a chat id outside the allowed alphabet.
func InvalidChatID(chatID string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidChatID,
		Message:    fmt.Sprintf("invalid chat id '%s'", chatID),
		HTTPStatus: http.StatusBadRequest,
	}
}

// Internal reports an unexpected failure, keeping the cause for the log.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}
