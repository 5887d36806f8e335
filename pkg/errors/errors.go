package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers
// and surfaced in session snapshots by code.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches another AppError by code so wrapped copies compare equal to their sentinel.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError carrying a different user-facing message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// Connection and relay-authorization failures. None of them is fatal to the process.
var (
	ErrMalformedConnectionString = &AppError{
		Code:       "connection.malformed_string",
		Message:    "Invalid connection string",
		StatusCode: http.StatusBadRequest,
	}

	ErrNoMatchingEndpoint = &AppError{
		Code:       "connection.no_match",
		Message:    "No match found for connection string",
		StatusCode: http.StatusNotFound,
	}

	ErrTokenExchangeFailed = &AppError{
		Code:       "auth.token_exchange_failed",
		Message:    "Relay authorization failed",
		StatusCode: http.StatusBadGateway,
	}

	ErrUnexpectedDisconnect = &AppError{
		Code:       "connection.unexpected_disconnect",
		Message:    "Radio was disconnected",
		StatusCode: http.StatusServiceUnavailable,
	}

	ErrUndefinedConflictState = &AppError{
		Code:       "connection.undefined_conflict",
		Message:    "Radio occupancy does not allow a connection decision",
		StatusCode: http.StatusConflict,
	}

	ErrStateMismatch = &AppError{
		Code:       "auth.state_mismatch",
		Message:    "Authorization response does not match the pending request",
		StatusCode: http.StatusBadRequest,
	}

	ErrLoginSuperseded = &AppError{
		Code:       "auth.login_superseded",
		Message:    "Relay login was cancelled by a logout",
		StatusCode: http.StatusConflict,
	}

	ErrRelayNotConfigured = &AppError{
		Code:       "auth.relay_not_configured",
		Message:    "Relay login is not configured",
		StatusCode: http.StatusServiceUnavailable,
	}
)

// Errors rendered by the HTTP surface.
var (
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "Request conflicts with current state",
		StatusCode: http.StatusConflict,
	}

	ErrServiceUnavailable = &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "Service unavailable",
		StatusCode: http.StatusServiceUnavailable,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// Code returns the AppError code carried by err, or "" when err is not an AppError.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Code
	}
	return ""
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
