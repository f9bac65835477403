package auth

import "errors"

var (
	// ErrInvalidToken covers malformed, wrongly signed, revoked or unknown tokens
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for a well-formed token whose lifetime elapsed
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenError is returned when no usable provider access token can be obtained.
	// The caller must restart the SSO flow.
	ErrTokenError = errors.New("provider token unavailable")

	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrUserInactive          = errors.New("user account is inactive")
	ErrProviderNotConfigured = errors.New("sso provider not configured")
	ErrWeakPassword          = errors.New("password does not meet requirements")

	// ErrRefreshTokenNotFound is returned by the refresh token store on lookup miss
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
)

// IsTokenError reports whether err is one of the two access/refresh token failures
func IsTokenError(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenExpired)
}
