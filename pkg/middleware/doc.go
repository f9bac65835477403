// Package middleware provides HTTP middleware for bearer authentication and
// rate limiting of credential endpoints.
//
// AuthMiddleware verifies the access token and stores the resolved
// *auth.Identity and the raw token on the request context:
//
//	authMW := middleware.NewAuthMiddleware(tokenService, false, logger)
//	protected := router.PathPrefix("/").Subrouter()
//	protected.Use(authMW.Handler)
//
// Expired tokens get 401 "Token expired", every other token failure 401
// "Invalid token".
//
// RateLimitMiddleware wraps a Limiter: RateLimiter keeps token buckets in
// process, DistributedRateLimiter counts in Redis. Limiter errors fail open.
package middleware
