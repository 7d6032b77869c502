// Package apperr provides the daemon's error taxonomy, mapping one-to-one
// onto the wire-facing error kinds reported via status{error}.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as reported on the wire and logged.
const (
	CodeInvalidCwd          = "INVALID_CWD"
	CodeUnknownAgent        = "UNKNOWN_AGENT"
	CodeUnknownPermission   = "UNKNOWN_PERMISSION"
	CodeUnsupportedMode     = "UNSUPPORTED_MODE"
	CodeMalformedMessage    = "MALFORMED_MESSAGE"
	CodeBusy                = "BUSY"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
	CodeProviderTransient   = "PROVIDER_TRANSIENT"
	CodeProviderFatal       = "PROVIDER_FATAL"
)

// AppError is a wire-safe error carrying a stable code, a human-readable
// message, and the HTTP status to use if surfaced over the debug HTTP
// endpoint. The ws status{error} path only ever sends Code and Message.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// InvalidCwd reports that a requested working directory does not exist.
func InvalidCwd(cwd string) *AppError {
	return &AppError{
		Code:       CodeInvalidCwd,
		Message:    fmt.Sprintf("working directory %q does not exist", cwd),
		HTTPStatus: http.StatusBadRequest,
	}
}

// UnknownAgent reports that an agentId does not name a live agent.
func UnknownAgent(agentID string) *AppError {
	return &AppError{
		Code:       CodeUnknownAgent,
		Message:    fmt.Sprintf("agent %q not found", agentID),
		HTTPStatus: http.StatusNotFound,
	}
}

// UnknownPermission reports that a permissionId is not pending.
func UnknownPermission(permissionID string) *AppError {
	return &AppError{
		Code:       CodeUnknownPermission,
		Message:    fmt.Sprintf("permission request %q is not pending", permissionID),
		HTTPStatus: http.StatusConflict,
	}
}

// UnsupportedMode reports that a modeId is not in the agent's availableModes.
func UnsupportedMode(modeID string) *AppError {
	return &AppError{
		Code:       CodeUnsupportedMode,
		Message:    fmt.Sprintf("mode %q is not available for this agent", modeID),
		HTTPStatus: http.StatusBadRequest,
	}
}

// MalformedMessage reports that an inbound frame failed validation.
func MalformedMessage(reason string) *AppError {
	return &AppError{
		Code:       CodeMalformedMessage,
		Message:    reason,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Busy reports that a turn was rejected because one is already active.
// By construction this should be unreachable; if it fires, the caller
// should log loudly, since it indicates a single-writer violation.
func Busy(agentID string) *AppError {
	return &AppError{
		Code:       CodeBusy,
		Message:    fmt.Sprintf("agent %q already has an active turn", agentID),
		HTTPStatus: http.StatusConflict,
	}
}

// ServiceUnavailable reports that a named dependency is unreachable or
// unimplemented (e.g. the git worktree helper, the file explorer walker).
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code:       CodeServiceUnavailable,
		Message:    fmt.Sprintf("%s is unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// ProviderTransient reports a retriable provider failure (handshake
// timeout, interrupted stream). The agent moves to error and can recover
// via refresh.
func ProviderTransient(message string, err error) *AppError {
	return &AppError{
		Code:       CodeProviderTransient,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// ProviderFatal reports a non-retriable provider failure (binary missing,
// persistent crash). The agent remains in error until explicitly reset.
func ProviderFatal(message string, err error) *AppError {
	return &AppError{
		Code:       CodeProviderFatal,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// Internal wraps an unexpected error as an internal error.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap preserves the code/status of an existing AppError while prefixing
// its message, or wraps a plain error as Internal.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}
	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Code returns the wire code of err, or CodeInternal if it is not an AppError.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// HTTPStatus returns the HTTP status to use for err over the debug HTTP
// surface, defaulting to 500 for non-AppErrors.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
