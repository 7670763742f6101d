// Package common defines shared sentinel errors used across the PikaPost
// client layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Session / auth errors.
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountExists      = errors.New("account already exists")
	ErrAccountUnconfirmed = errors.New("account not confirmed")
	ErrRateLimited        = errors.New("rate limited")

	// Remote store errors.
	ErrRemoteRead  = errors.New("remote read failed")
	ErrRemoteWrite = errors.New("remote write failed")

	// Validation errors (bad input, recipient not in friend list, ...).
	ErrValidation = errors.New("validation failed")

	// An authenticated identity with no backing profile row. The profile
	// repository forces a sign-out when it sees this.
	ErrIntegrityViolation = errors.New("integrity violation")

	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Row mapping errors (missing or mistyped required column).
	ErrBadRow = errors.New("bad row")
)
