package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTwoFactorRequired signals that resolution must redirect to the
	// two-factor challenge instead of degrading to guest.
	ErrTwoFactorRequired = errors.New("two-factor verification required")
	// ErrTwoFactorSetup signals that the account must configure a second
	// factor before resolution may complete.
	ErrTwoFactorSetup = errors.New("two-factor setup required")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
