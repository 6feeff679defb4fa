package services

import (
	"errors"
	"fmt"
)

// Error envelope categories: credential failures report under
// "authentication", session/CSRF/policy-gate failures under "authorization".
const (
	CategoryAuthentication = "authentication"
	CategoryAuthorization  = "authorization"
)

// InvalidCredentials is the single message reported for every primary-login
// failure. Unknown user, missing secret and wrong secret are deliberately
// indistinguishable to the caller.
const InvalidCredentials = "Invalid credentials"

// Authorization error codes surfaced in the error envelope.
const (
	CodeInvalidSignature = "InvalidSignature"
	CodeExpiredSignature = "ExpiredSignature"
	CodeNoSuchKey        = "NoSuchKey"
	CodeCsrfError        = "CsrfError"
	CodeNotPermitted     = "NotPermitted"
)

// AuthenticationError indicates a failed primary login. The message is the
// same for every sub-case.
type AuthenticationError struct {
	Err error
}

// Error implements the error interface
func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", CategoryAuthentication, InvalidCredentials, e.Err)
	}
	return fmt.Sprintf("%s: %s", CategoryAuthentication, InvalidCredentials)
}

// Unwrap implements errors.Unwrap
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// NewAuthenticationError creates an authentication error wrapping the
// internal cause. The cause is for logs only and never reaches the caller.
func NewAuthenticationError(err error) *AuthenticationError {
	return &AuthenticationError{Err: err}
}

// AuthorizationError indicates an invalid session, a CSRF failure, or an
// internal-authorization gate that failed closed. It aborts the enclosing
// call with status 401 before any further work runs.
type AuthorizationError struct {
	Code string
	Err  error
}

// Error implements the error interface
func (e *AuthorizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", CategoryAuthorization, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", CategoryAuthorization, e.Code)
}

// Unwrap implements errors.Unwrap
func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is: authorization errors compare by code.
func (e *AuthorizationError) Is(target error) bool {
	t, ok := target.(*AuthorizationError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewAuthorizationError creates an authorization error with the given code.
func NewAuthorizationError(code string, err error) *AuthorizationError {
	return &AuthorizationError{Code: code, Err: err}
}

// IsAuthenticationError checks if an error is an authentication error
func IsAuthenticationError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

// IsAuthorizationError checks if an error is an authorization error
func IsAuthorizationError(err error) bool {
	var authzErr *AuthorizationError
	return errors.As(err, &authzErr)
}

// AuthorizationCode returns the code of an authorization error, or the empty
// string if err is not one.
func AuthorizationCode(err error) string {
	var authzErr *AuthorizationError
	if errors.As(err, &authzErr) {
		return authzErr.Code
	}
	return ""
}

// ErrorCategory returns the envelope category for err, or the empty string
// for errors that are neither authentication nor authorization failures.
func ErrorCategory(err error) string {
	if IsAuthenticationError(err) {
		return CategoryAuthentication
	}
	if IsAuthorizationError(err) {
		return CategoryAuthorization
	}
	return ""
}
