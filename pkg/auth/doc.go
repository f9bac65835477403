// Package auth issues, verifies, rotates and revokes credentials.
//
// # Overview
//
// Two kinds of credential are kept strictly apart:
//
//   - Access tokens are short-lived HMAC-signed JWTs. Verification is a pure
//     signature and expiry check followed by a subject lookup; nothing is
//     cached or stored.
//   - Refresh tokens are opaque 256-bit random strings persisted in the
//     refresh_tokens table. They are single use: a successful refresh revokes
//     the presented token before the new pair is returned.
//
// The same table holds provider refresh tokens for Microsoft and Jira,
// separated by TokenType.
//
// # Refresh state machine
//
// A refresh token is ACTIVE until it is revoked (logout or rotation) or it
// expires. Both are terminal. RefreshTokens checks, in order: unknown token,
// revoked, expired, unknown subject. A token that is both revoked and expired
// therefore reports ErrInvalidToken.
//
// # Cascading logout
//
// AuthService.Refresh treats any token error for a token it can trace to a
// user as a compromised session: every APP refresh token of that user is
// revoked and their cached permission and provider token entries dropped.
//
//	pair, err := authService.Refresh(ctx, presented)
//	if errors.Is(err, auth.ErrTokenExpired) {
//		// user must sign in again; all their sessions are gone
//	}
//
// # Provider tokens
//
// ProviderTokenService.GetValidToken serves Microsoft and Jira access tokens
// from the cache key token:{PROVIDER}:{user_id}, refreshing through the
// provider on miss. Concurrent misses share one provider call and failures
// surface as ErrTokenError without retry.
package auth
