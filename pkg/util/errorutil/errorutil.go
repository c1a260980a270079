package errorutil

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes surfaced to API callers.
const (
	CodeValidation         = "VALIDATION_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeNotPendingApproval = "NOT_PENDING_APPROVAL"
	CodeInvalidSchedule    = "INVALID_SCHEDULE"
	CodeNotScheduled       = "NOT_SCHEDULED"
	CodeInvalidPauseState  = "INVALID_PAUSE_STATE"
	CodeNotPaused          = "NOT_PAUSED"
	CodeAuthentication     = "AUTHENTICATION_FAILED"
	CodeMalformedPayload   = "MALFORMED_PAYLOAD"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeUnavailable        = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewInvalidTransition(from, to string) error {
	return NewDomainError(CodeInvalidTransition,
		fmt.Sprintf("cannot change status from %s to %s", from, to),
		http.StatusConflict,
		map[string]any{"from": from, "to": to})
}

func NewNotPendingApproval(status string) error {
	return NewDomainError(CodeNotPendingApproval, "ticket is not pending approval",
		http.StatusConflict, map[string]any{"status": status})
}

func NewInvalidSchedule(message string, details map[string]any) error {
	return NewDomainError(CodeInvalidSchedule, message, http.StatusUnprocessableEntity, details)
}

func NewNotScheduled() error {
	return NewDomainError(CodeNotScheduled, "ticket is not scheduled", http.StatusConflict, nil)
}

func NewInvalidPauseState(status string, paused bool) error {
	return NewDomainError(CodeInvalidPauseState, "ticket cannot be paused in its current state",
		http.StatusConflict, map[string]any{"status": status, "is_paused": paused})
}

func NewNotPaused() error {
	return NewDomainError(CodeNotPaused, "ticket is not paused", http.StatusConflict, nil)
}

func NewAuthenticationError(message string) error {
	return NewDomainError(CodeAuthentication, message, http.StatusUnauthorized, nil)
}

func NewMalformedPayload(err error) error {
	return &DomainError{
		Code:       CodeMalformedPayload,
		Message:    "payload must be a JSON object or array",
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
	}
}

func NewPayloadTooLarge(limit int64) error {
	return NewDomainError(CodePayloadTooLarge, fmt.Sprintf("payload exceeds %d bytes", limit),
		http.StatusRequestEntityTooLarge, map[string]any{"limit_bytes": limit})
}

// NewUnavailable reports a failure the caller may retry later.
func NewUnavailable(err error) error {
	return &DomainError{
		Code:       CodeUnavailable,
		Message:    "service temporarily unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return &DomainError{
			Code:       CodeNotFound,
			Message:    "resource not found",
			HTTPStatus: http.StatusNotFound,
			Details:    map[string]any{},
			Err:        err,
		}
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}

// HasCode reports whether err carries the given DomainError code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.Code == code
}
