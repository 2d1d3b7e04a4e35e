package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"opspulse/storage"
)

// ActionCode classifies the outcome of a mutation entry point for per-action
// UI feedback.
type ActionCode string

const (
	ActionOK             ActionCode = "OK"
	ActionUnauthorized   ActionCode = "UNAUTHORIZED"
	ActionNotFound       ActionCode = "NOT_FOUND"
	ActionValidationErr  ActionCode = "VALIDATION_ERROR"
	ActionServiceFailure ActionCode = "SERVICE_FAILURE"
	ActionNoop           ActionCode = "NOOP"
)

// Sentinel errors for the service taxonomy
var (
	// ErrUnauthorized is returned when the actor lacks the elevated role
	ErrUnauthorized = errors.New("unauthorized: elevated role required")

	// ErrValidation is returned when a patch or request input is malformed
	ErrValidation = errors.New("validation failed")

	// ErrNoop is returned when a mutation would not change anything
	ErrNoop = errors.New("no change")
)

// AppError is the normalized failure shape that crosses the service boundary.
// Message is always a human-readable string, never a raw serialized object.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NormalizeError converts any failure into an AppError with a non-empty
// message. Known provider codes map to friendlier messages.
func NormalizeError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, storage.ErrAlertNotFound),
		errors.Is(err, storage.ErrOrganizationNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, sql.ErrNoRows):
		return &AppError{Code: "NOT_FOUND", Message: "record no longer exists"}
	case errors.Is(err, storage.ErrDuplicateFingerprint):
		return &AppError{Code: "CONFLICT", Message: "duplicate conflict"}
	case errors.Is(err, storage.ErrStaleWrite):
		return &AppError{Code: "CONFLICT", Message: "record was modified concurrently, retry"}
	case errors.Is(err, ErrUnauthorized):
		return &AppError{Code: "UNAUTHORIZED", Message: "elevated role required"}
	case errors.Is(err, ErrValidation):
		return &AppError{Code: "VALIDATION_ERROR", Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: "TIMEOUT", Message: "data source timed out"}
	case errors.Is(err, context.Canceled):
		return &AppError{Code: "CANCELED", Message: "request was canceled"}
	}

	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "unknown error"
	}
	return &AppError{Code: "SERVICE_FAILURE", Message: msg}
}

// ActionCodeFor maps an error to the action result code surfaced to callers.
func ActionCodeFor(err error) ActionCode {
	switch {
	case err == nil:
		return ActionOK
	case errors.Is(err, ErrUnauthorized):
		return ActionUnauthorized
	case errors.Is(err, storage.ErrAlertNotFound),
		errors.Is(err, storage.ErrOrganizationNotFound),
		errors.Is(err, storage.ErrNotFound):
		return ActionNotFound
	case errors.Is(err, ErrValidation):
		return ActionValidationErr
	case errors.Is(err, ErrNoop):
		return ActionNoop
	default:
		return ActionServiceFailure
	}
}
