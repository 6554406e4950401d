// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates malformed or missing input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated caller without the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrReaderLocked indicates the lector password gate is locked out.
	ErrReaderLocked = errors.New("lector locked")

	// ErrLockConflict indicates the reader is leased by another operator.
	ErrLockConflict = errors.New("reader in use")

	// ErrLockNotHeld indicates the caller does not hold the reader lease.
	ErrLockNotHeld = errors.New("reader lock not held")

	// ErrUnknownIdentity indicates a scanned identity that is not in the directory.
	ErrUnknownIdentity = errors.New("unknown identity")

	// ErrScannerDisabled indicates scanning is switched off remotely.
	ErrScannerDisabled = errors.New("scanner disabled")

	// ErrUnknownAction indicates an envelope action outside the supported set.
	ErrUnknownAction = errors.New("unknown action")
)
