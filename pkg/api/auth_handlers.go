package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/auth"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/httputil"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/middleware"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/sso"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/users"
)

// Error messages returned by the auth endpoints
const (
	MsgInvalidCredentials = "Invalid email or password"
	MsgUserInactive       = "User account is inactive"
	MsgEmailTaken         = "Email is already registered"
	MsgWeakPassword       = "Password must be between 8 and 72 characters"
	MsgUnknownProvider    = "SSO provider not configured"
	MsgProviderToken      = "Provider token unavailable, sign in with the provider again"
)

// Authenticator is the auth service surface used by the handlers
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*auth.TokenPair, *users.User, error)
	Register(ctx context.Context, input auth.RegisterInput) (*auth.TokenPair, *users.User, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	Logout(ctx context.Context, userID int64) error
	SSOLogin(ctx context.Context, provider sso.ProviderName, code string) (*auth.TokenPair, *users.User, error)
	HasProvider(provider sso.ProviderName) bool
}

// ProviderTokens hands out valid external provider access tokens
type ProviderTokens interface {
	GetValidToken(ctx context.Context, provider sso.ProviderName, userID int64) (string, error)
}

// UserReader resolves the current user
type UserReader interface {
	GetByID(ctx context.Context, id int64) (*users.User, error)
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest is the body of POST /auth/refresh
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// SSOCallbackRequest carries the authorization code returned by the provider
type SSOCallbackRequest struct {
	Code string `json:"code" validate:"required"`
}

// LoginResponse pairs issued tokens with the signed-in user
type LoginResponse struct {
	*auth.TokenPair
	User *users.User `json:"user"`
}

// ProviderTokenResponse is returned by GET /auth/tokens/{provider}
type ProviderTokenResponse struct {
	Provider    sso.ProviderName `json:"provider"`
	AccessToken string           `json:"access_token"`
}

// AuthHandlers serves login, registration, refresh, logout and SSO
type AuthHandlers struct {
	auth           Authenticator
	providerTokens ProviderTokens
	users          UserReader
	authenticate   func(http.Handler) http.Handler
	rateLimit      func(http.Handler) http.Handler
	logger         logrus.FieldLogger
}

// NewAuthHandlers creates auth handlers. rateLimit may be nil.
func NewAuthHandlers(authService Authenticator, providerTokens ProviderTokens, userReader UserReader, authMW *middleware.AuthMiddleware, rateLimit *middleware.RateLimitMiddleware, logger logrus.FieldLogger) *AuthHandlers {
	if logger == nil {
		logger = logrus.New()
	}
	h := &AuthHandlers{
		auth:           authService,
		providerTokens: providerTokens,
		users:          userReader,
		authenticate:   authMW.Handler,
		rateLimit:      func(next http.Handler) http.Handler { return next },
		logger:         logger.WithField("component", "auth_handlers"),
	}
	if rateLimit != nil {
		h.rateLimit = rateLimit.Handler
	}
	return h
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	limited := func(fn http.HandlerFunc) http.Handler { return h.rateLimit(fn) }
	authed := func(fn http.HandlerFunc) http.Handler { return h.authenticate(fn) }

	router.Handle("/auth/login", limited(h.Login)).Methods("POST")
	router.Handle("/auth/register", limited(h.Register)).Methods("POST")
	router.Handle("/auth/refresh", limited(h.Refresh)).Methods("POST")
	router.Handle("/auth/sso/{provider}/callback", limited(h.SSOCallback)).Methods("POST")

	router.Handle("/auth/logout", authed(h.Logout)).Methods("POST")
	router.Handle("/auth/me", authed(h.Me)).Methods("GET")
	router.Handle("/auth/tokens/{provider}", authed(h.ProviderToken)).Methods("GET")
}

// Login handles POST /auth/login
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	pair, user, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, LoginResponse{TokenPair: pair, User: user})
}

// Register handles POST /auth/register
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	pair, user, err := h.auth.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, LoginResponse{TokenPair: pair, User: user})
}

// Refresh handles POST /auth/refresh. Any failure means the client must
// sign in again; the service has already revoked the user's sessions.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, pair)
}

// Logout handles POST /auth/logout
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if err := h.auth.Logout(r.Context(), identity.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Me handles GET /auth/me
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	user, err := h.users.GetByID(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, user)
}

// SSOCallback handles POST /auth/sso/{provider}/callback
func (h *AuthHandlers) SSOCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(r)
	if !ok {
		httputil.WriteNotFoundError(w, MsgUnknownProvider)
		return
	}

	var req SSOCallbackRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	pair, user, err := h.auth.SSOLogin(r.Context(), provider, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, LoginResponse{TokenPair: pair, User: user})
}

// ProviderToken handles GET /auth/tokens/{provider}
func (h *AuthHandlers) ProviderToken(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(r)
	if !ok {
		httputil.WriteNotFoundError(w, MsgUnknownProvider)
		return
	}

	identity := middleware.GetIdentity(r)
	token, err := h.providerTokens.GetValidToken(r.Context(), provider, identity.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, ProviderTokenResponse{Provider: provider, AccessToken: token})
}

// provider maps the {provider} path segment to a configured provider
func (h *AuthHandlers) provider(r *http.Request) (sso.ProviderName, bool) {
	name := sso.ProviderName(strings.ToUpper(mux.Vars(r)["provider"]))
	if name != sso.ProviderMicrosoft && name != sso.ProviderJira {
		return "", false
	}
	return name, h.auth.HasProvider(name)
}

func (h *AuthHandlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		httputil.WriteUnauthorized(w, MsgInvalidCredentials)
	case errors.Is(err, auth.ErrUserInactive):
		httputil.WriteForbidden(w, MsgUserInactive)
	case errors.Is(err, auth.ErrTokenExpired):
		httputil.WriteUnauthorized(w, middleware.MsgTokenExpired)
	case errors.Is(err, auth.ErrInvalidToken):
		httputil.WriteUnauthorized(w, middleware.MsgInvalidToken)
	case errors.Is(err, auth.ErrTokenError):
		httputil.WriteBadGateway(w, MsgProviderToken)
	case errors.Is(err, auth.ErrProviderNotConfigured):
		httputil.WriteNotFoundError(w, MsgUnknownProvider)
	case errors.Is(err, auth.ErrWeakPassword):
		httputil.WriteBadRequest(w, MsgWeakPassword)
	case errors.Is(err, users.ErrEmailTaken):
		httputil.WriteConflict(w, MsgEmailTaken)
	case errors.Is(err, users.ErrUserNotFound):
		httputil.WriteNotFoundError(w, "user not found")
	default:
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("Auth request failed")
		httputil.WriteInternalError(w)
	}
}
