// Package common defines shared constants and sentinel errors used across
// the identity core. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository/store-level errors.
	ErrorNotFound     = errors.New("not found")
	ErrStorageFailure = errors.New("storage failure")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")
	ErrorValidation   = errors.New("validation error")

	// Identity lifecycle errors.
	ErrDuplicateEmail        = errors.New("email already registered")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrEmailNotVerified      = errors.New("email not verified")
	ErrAlreadyVerified       = errors.New("email already verified")
	ErrIncorrectPassword     = errors.New("current password is incorrect")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

	// Auth errors (invalid or malformed session token).
	ErrInvalidToken = errors.New("invalid token")
)
