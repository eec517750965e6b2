// Package apperr defines the error taxonomy shared by the catalog core and
// the mapping of those errors to user-facing messages.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// AuthCode classifies authentication provider failures.
type AuthCode string

// Authentication failure codes.
const (
	AuthInvalidEmail        AuthCode = "invalid-email"
	AuthUserDisabled        AuthCode = "user-disabled"
	AuthUserNotFound        AuthCode = "user-not-found"
	AuthWrongPassword       AuthCode = "wrong-password"
	AuthEmailInUse          AuthCode = "email-already-in-use"
	AuthOperationNotAllowed AuthCode = "operation-not-allowed"
	AuthWeakPassword        AuthCode = "weak-password"
	AuthOther               AuthCode = "other"
)

// AuthError is returned by sign-in, registration and credential updates.
type AuthError struct {
	Code AuthCode
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("auth: %s", e.Code)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError returns an AuthError with the given code and cause.
func NewAuthError(code AuthCode, err error) *AuthError {
	return &AuthError{Code: code, Err: err}
}

// PersistenceCode classifies realtime store failures.
type PersistenceCode string

// Persistence failure codes.
const (
	WriteFailed PersistenceCode = "write-failed"
	ReadFailed  PersistenceCode = "read-failed"
)

// PersistenceError is returned when a read from or write to the realtime
// store fails. Path is the store path the operation targeted.
type PersistenceError struct {
	Code PersistenceCode
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s %q: %v", e.Code, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UploadCode classifies blob upload failures.
type UploadCode string

// TransferFailed is the only upload failure code.
const TransferFailed UploadCode = "transfer-failed"

// UploadError is returned when a blob upload or URL resolution fails.
type UploadError struct {
	Code UploadCode
	Path string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload: %s %q: %v", e.Code, e.Path, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ValidationCode classifies locally detected input problems.
type ValidationCode string

// Validation failure codes.
const (
	MissingRequiredField ValidationCode = "missing-required-field"
	PasswordMismatch     ValidationCode = "password-mismatch"
)

// ValidationError is raised before any collaborator is called.
type ValidationError struct {
	Code  ValidationCode
	Field string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Code, e.Field)
	}
	return fmt.Sprintf("validation: %s", e.Code)
}

// Missing returns a ValidationError for an empty required field.
func Missing(field string) *ValidationError {
	return &ValidationError{Code: MissingRequiredField, Field: field}
}

// IsAuth reports whether err carries an AuthError with the given code.
func IsAuth(err error, code AuthCode) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Code == code
}

// IsValidation reports whether err carries a ValidationError with the given code.
func IsValidation(err error, code ValidationCode) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Code == code
}
