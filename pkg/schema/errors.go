package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeAuthorization = "AUTHORIZATION_ERROR"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeDisabled      = "CREDENTIAL_DISABLED"
	ErrCodeTransport     = "TRANSPORT_ERROR"
	ErrCodeDecryption    = "DECRYPTION_ERROR"
	ErrCodeUnresolved    = "UNRESOLVED_PLACEHOLDER"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeStore         = "STORE_ERROR"
)

// VaultError is the structured error type for all vault operations.
type VaultError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *VaultError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *VaultError) Unwrap() error {
	return e.Cause
}

// NewError creates a new VaultError.
func NewError(code, message string) *VaultError {
	return &VaultError{Code: code, Message: message}
}

// NewErrorf creates a new VaultError with a formatted message.
func NewErrorf(code, format string, args ...any) *VaultError {
	return &VaultError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause.
func (e *VaultError) WithCause(err error) *VaultError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *VaultError) WithDetails(details map[string]any) *VaultError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first VaultError in err's chain, or "".
func CodeOf(err error) string {
	var verr *VaultError
	if errors.As(err, &verr) {
		return verr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether the caller's own retry policy may retry err.
// Nothing in this module retries internally.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeTransport, ErrCodeRateLimited:
		return true
	}
	return false
}
