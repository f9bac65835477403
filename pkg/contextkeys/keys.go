// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the service must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/zODC-Dev/zodc-service-auth-sub000/pkg/contextkeys"
//	ctx = contextkeys.WithIdentity(ctx, identity)
//	identity, ok := contextkeys.Identity(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains the authenticated caller
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: rbac.PermissionMiddleware, protected API endpoints
	// Type: *auth.Identity
	IdentityKey Key = "identity"

	// AccessTokenKey contains the raw bearer token presented by the caller
	// Set by: middleware.AuthMiddleware
	// Used by: rbac.PermissionMiddleware (token to user binding check)
	// Type: string
	AccessTokenKey Key = "access_token"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, event metadata
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains logrus.FieldLogger
	// Set by: observability.WithLogger
	// Used by: Handlers that need structured logging with request context
	// Type: logrus.FieldLogger
	LoggerKey Key = "logger"
)

// WithIdentity adds the authenticated identity to context.
// The value is stored as-is; callers read it back through Identity.
func WithIdentity(ctx context.Context, identity any) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// Identity retrieves the raw identity value from context
func Identity(ctx context.Context) (any, bool) {
	v := ctx.Value(IdentityKey)
	return v, v != nil
}

// WithAccessToken adds the raw bearer token to context
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, AccessTokenKey, token)
}

// AccessToken retrieves the raw bearer token from context
func AccessToken(ctx context.Context) string {
	if token, ok := ctx.Value(AccessTokenKey).(string); ok {
		return token
	}
	return ""
}

// WithRequestID adds a request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID retrieves the request ID from context
func RequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
