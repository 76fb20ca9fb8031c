// Package session owns the authentication state machine. This file
// centralizes recoverable, user-facing error values so callers can present
// them without string matching. None of these errors ever resets the
// session; only logout and a failed refresh clear identity.
package session

import "errors"

var (
	// ErrBrowserLaunch is returned when the system browser could not be
	// opened for the Google login flow (the popup-blocked case).
	ErrBrowserLaunch = errors.New("could not open the browser for sign-in")

	// ErrResendCooldown is returned when a verification code is requested
	// again too quickly.
	ErrResendCooldown = errors.New("please wait before requesting another code")

	// ErrNoPendingVerification is returned when Verify is called without an
	// email and no pending verification is stored.
	ErrNoPendingVerification = errors.New("no verification is pending")
)
