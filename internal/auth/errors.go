package auth

import "errors"

// Sentinel errors for the authentication/authorization taxonomy. Handlers map
// these to user-visible codes; anything else is an opaque internal failure and
// must never be conflated with a credential outcome.
var (
	// ErrInvalidToken covers structurally invalid, tampered, expired, and
	// revoked access tokens alike.
	ErrInvalidToken = errors.New("invalid or expired access token")
	// ErrNotAdmin is returned when an operation requires the admin flag.
	ErrNotAdmin = errors.New("administrator privileges required")
	// ErrNotSelfOrAdmin is returned when an operation targets another user
	// and the caller is not an administrator.
	ErrNotSelfOrAdmin = errors.New("operation not permitted on other users")
	// ErrEmailNotVerified is returned when an operation requires a verified
	// email address.
	ErrEmailNotVerified = errors.New("email address not verified")
	// ErrInvalidCredentials covers both unknown user and wrong password;
	// the two are deliberately indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrMfaFailed is returned when password verification succeeded but the
	// MFA assertion did not.
	ErrMfaFailed = errors.New("mfa authentication failed")
	// ErrUserDisabled is returned when the account is disabled.
	ErrUserDisabled = errors.New("user account is disabled")
	// ErrCaptchaRequired is returned when the failed-login threshold was
	// reached and no passing CAPTCHA response was supplied.
	ErrCaptchaRequired = errors.New("captcha required")
	// ErrInvalidRefreshToken is returned when a presented refresh token
	// matches no live session.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenExpired is returned alongside the session id when the
	// session exists but is past its refresh lifetime, so the caller can
	// delete it as cleanup.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrSessionNotFound is returned when the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUserNotFound is returned by administrative operations that target a
	// user by id, where enumeration resistance does not apply.
	ErrUserNotFound = errors.New("user not found")
)
