package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/auth"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/contextkeys"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/httputil"
)

// Messages returned on 401 responses
const (
	MsgMissingAuthHeader = "Missing authorization header"
	MsgInvalidAuthHeader = "Invalid authorization header format"
	MsgTokenExpired      = "Token expired"
	MsgInvalidToken      = "Invalid token"
)

// TokenVerifier resolves access tokens
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*auth.Identity, error)
}

// AuthMiddleware authenticates bearer access tokens
type AuthMiddleware struct {
	verifier TokenVerifier
	optional bool // If true, allow requests without auth
	logger   logrus.FieldLogger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(verifier TokenVerifier, optional bool, logger logrus.FieldLogger) *AuthMiddleware {
	if logger == nil {
		logger = logrus.New()
	}
	return &AuthMiddleware{
		verifier: verifier,
		optional: optional,
		logger:   logger.WithField("component", "auth_middleware"),
	}
}

// Handler wraps an HTTP handler with authentication. The identity and the
// raw token are stored on the request context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, MsgMissingAuthHeader)
			return
		}

		token, ok := BearerToken(r)
		if !ok {
			httputil.WriteUnauthorized(w, MsgInvalidAuthHeader)
			return
		}

		identity, err := m.verifier.VerifyToken(r.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrTokenExpired):
			httputil.WriteUnauthorized(w, MsgTokenExpired)
			return
		case errors.Is(err, auth.ErrInvalidToken):
			httputil.WriteUnauthorized(w, MsgInvalidToken)
			return
		default:
			m.logger.WithError(err).Error("Token verification failed")
			httputil.WriteInternalError(w)
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), identity)
		ctx = contextkeys.WithAccessToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the token from "Authorization: Bearer <token>"
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// IdentityFromContext returns the authenticated caller, if any
func IdentityFromContext(ctx context.Context) *auth.Identity {
	v, ok := contextkeys.Identity(ctx)
	if !ok {
		return nil
	}
	identity, _ := v.(*auth.Identity)
	return identity
}

// GetIdentity extracts the authenticated caller from the request
func GetIdentity(r *http.Request) *auth.Identity {
	return IdentityFromContext(r.Context())
}
