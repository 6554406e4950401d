package errs

import "errors"

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidArgument, "invalid_argument"},
	{ErrUnknownAction, "unknown_action"},
	{ErrUnauthorized, "unauthorized"},
	{ErrForbidden, "forbidden"},
	{ErrUnknownIdentity, "unknown_identity"},
	{ErrNotFound, "not_found"},
	{ErrLockConflict, "lock_conflict"},
	{ErrLockNotHeld, "lock_not_held"},
	{ErrReaderLocked, "reader_locked"},
	{ErrScannerDisabled, "scanner_disabled"},
}

// Code returns the stable wire code of err, or "internal".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// FromCode returns the sentinel for a wire code, or nil when unknown.
func FromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
