package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/events"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/observability"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/sso"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/users"
)

// Logout reasons carried on auth.user.logged_out
const (
	LogoutReasonUser          = "user"
	LogoutReasonRefreshFailed = "refresh_failed"
)

// UserStore is the credential store surface used for login and SSO
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*users.User, error)
	GetByEmail(ctx context.Context, email string) (*users.User, error)
	GetByMicrosoftID(ctx context.Context, microsoftID string) (*users.User, error)
	GetByJiraAccountID(ctx context.Context, accountID string) (*users.User, error)
	Create(ctx context.Context, user *users.User) error
	LinkMicrosoft(ctx context.Context, id int64, microsoftID string) error
	LinkJira(ctx context.Context, id int64, accountID string) error
}

// PermissionInvalidator drops memoized permission checks for a user
type PermissionInvalidator interface {
	InvalidateUser(ctx context.Context, userID int64) error
}

// SystemRoleAssigner gives new accounts their default system role
type SystemRoleAssigner interface {
	AssignSystemRole(ctx context.Context, userID int64, roleName string) error
}

// AuthServiceDeps wires an AuthService
type AuthServiceDeps struct {
	Tokens         *TokenService
	RefreshTokens  RefreshTokenRepository
	Users          UserStore
	ProviderTokens *ProviderTokenService
	Providers      []sso.Provider
	Permissions    PermissionInvalidator
	Roles          SystemRoleAssigner
	Emitter        *events.Emitter
	// DefaultSystemRole is assigned to registered and SSO-created users
	DefaultSystemRole string
	// ProviderTimeout bounds authorization code exchange
	ProviderTimeout time.Duration
	Logger          logrus.FieldLogger
	Metrics         *observability.Metrics
}

// AuthService implements login, registration, SSO, refresh and logout on
// top of the token service.
type AuthService struct {
	tokens            *TokenService
	refreshTokens     RefreshTokenRepository
	users             UserStore
	providerTokens    *ProviderTokenService
	providers         map[sso.ProviderName]sso.Provider
	permissions       PermissionInvalidator
	roles             SystemRoleAssigner
	emitter           *events.Emitter
	defaultSystemRole string
	providerTimeout   time.Duration
	checkPassword     func(hash, password string) bool
	logger            logrus.FieldLogger
	metrics           *observability.Metrics
}

// NewAuthService creates an auth service
func NewAuthService(deps AuthServiceDeps) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	timeout := deps.ProviderTimeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}

	providers := make(map[sso.ProviderName]sso.Provider, len(deps.Providers))
	for _, p := range deps.Providers {
		providers[p.Name()] = p
	}

	return &AuthService{
		tokens:            deps.Tokens,
		refreshTokens:     deps.RefreshTokens,
		users:             deps.Users,
		providerTokens:    deps.ProviderTokens,
		providers:         providers,
		permissions:       deps.Permissions,
		roles:             deps.Roles,
		emitter:           deps.Emitter,
		defaultSystemRole: deps.DefaultSystemRole,
		providerTimeout:   timeout,
		checkPassword:     CheckPassword,
		logger:            logger.WithField("component", "auth_service"),
		metrics:           metrics,
	}
}

// HasProvider reports whether SSO for the provider is configured
func (s *AuthService) HasProvider(provider sso.ProviderName) bool {
	_, ok := s.providers[provider]
	return ok
}

// Login authenticates with email and password
func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenPair, *users.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, users.ErrUserNotFound) {
		s.checkPassword(dummyPasswordHash(), password)
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	// SSO-only accounts have no hash
	if !user.HasPassword() {
		s.checkPassword(dummyPasswordHash(), password)
		return nil, nil, ErrInvalidCredentials
	}
	if !s.checkPassword(*user.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, nil, ErrUserInactive
	}

	pair, err := s.tokens.CreateTokenPair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// RegisterInput holds self-service signup fields
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Name     string `json:"name" validate:"required,max=255"`
	Password string `json:"password" validate:"required"`
}

// Register creates a password account with the default system role and
// signs it in
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*TokenPair, *users.User, error) {
	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, nil, err
	}

	user := &users.User{
		Email:        input.Email,
		Name:         strings.TrimSpace(input.Name),
		PasswordHash: &hash,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}
	s.onUserCreated(ctx, user, "register")

	pair, err := s.tokens.CreateTokenPair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// Refresh rotates a refresh token. A token error for a token we can trace
// to a user ends every APP session of that user before the error is returned.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	pair, err := s.tokens.RefreshTokens(ctx, refreshToken)
	if err == nil {
		return pair, nil
	}
	if !IsTokenError(err) {
		return nil, err
	}

	userID, lookupErr := s.tokens.ExtractUserID(ctx, refreshToken)
	if lookupErr != nil {
		return nil, err
	}

	s.logger.WithError(err).WithField("user_id", userID).Warn("Refresh failed, logging user out")
	s.metrics.CascadingLogoutTotal.Inc()
	if logoutErr := s.logout(ctx, userID, LogoutReasonRefreshFailed); logoutErr != nil {
		s.logger.WithError(logoutErr).WithField("user_id", userID).Error("Cascading logout failed")
	}
	return nil, err
}

// Logout revokes the user's APP refresh tokens and drops their cached
// permission and provider entries
func (s *AuthService) Logout(ctx context.Context, userID int64) error {
	return s.logout(ctx, userID, LogoutReasonUser)
}

func (s *AuthService) logout(ctx context.Context, userID int64, reason string) error {
	revoked, err := s.refreshTokens.RevokeAllForUser(ctx, userID, TokenTypeApp)
	if err != nil {
		return err
	}

	// cache purges are best effort; revocation already ended the sessions
	if s.providerTokens != nil {
		if err := s.providerTokens.Forget(ctx, userID); err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to drop provider tokens from cache")
		}
	}
	if s.permissions != nil {
		if err := s.permissions.InvalidateUser(ctx, userID); err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to invalidate permission cache")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"reason":  reason,
		"revoked": revoked,
	}).Info("User logged out")

	s.emitter.Emit(ctx, events.SubjectUserLoggedOut, events.UserLoggedOutPayload{UserID: userID, Reason: reason})
	return nil
}

// SSOLogin redeems a provider authorization code, finds or creates the
// matching user and returns an application token pair
func (s *AuthService) SSOLogin(ctx context.Context, provider sso.ProviderName, code string) (*TokenPair, *users.User, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, nil, ErrProviderNotConfigured
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	identity, providerToken, err := p.Exchange(exchangeCtx, code)
	cancel()
	if err != nil {
		return nil, nil, classifyExchangeError(err)
	}

	user, err := s.resolveSSOUser(ctx, identity)
	if err != nil {
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, ErrUserInactive
	}

	if s.providerTokens != nil {
		if err := s.providerTokens.StoreProviderTokens(ctx, provider, user.ID, providerToken); err != nil {
			s.logger.WithError(err).WithField("provider", provider).Warn("Failed to store provider tokens")
		}
	}

	pair, err := s.tokens.CreateTokenPair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// classifyExchangeError maps a rejected code to ErrInvalidCredentials. A
// timeout or an unreachable provider is a provider failure.
func classifyExchangeError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, sso.ErrProviderUnavailable):
		return fmt.Errorf("%w: %v", ErrTokenError, err)
	case errors.Is(err, sso.ErrExchangeFailed), errors.Is(err, sso.ErrMissingIdentity):
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenError, err)
	}
}

// resolveSSOUser matches by external id, then by email (linking the
// account), and otherwise creates a password-less user
func (s *AuthService) resolveSSOUser(ctx context.Context, identity *sso.ExternalIdentity) (*users.User, error) {
	var byExternal func(context.Context, string) (*users.User, error)
	var link func(context.Context, int64, string) error
	switch identity.Provider {
	case sso.ProviderMicrosoft:
		byExternal, link = s.users.GetByMicrosoftID, s.users.LinkMicrosoft
	case sso.ProviderJira:
		byExternal, link = s.users.GetByJiraAccountID, s.users.LinkJira
	default:
		return nil, ErrProviderNotConfigured
	}

	user, err := byExternal(ctx, identity.ExternalID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, users.ErrUserNotFound) {
		return nil, err
	}

	user, err = s.users.GetByEmail(ctx, identity.Email)
	if err == nil {
		if err := link(ctx, user.ID, identity.ExternalID); err != nil {
			return nil, err
		}
		return user, nil
	}
	if !errors.Is(err, users.ErrUserNotFound) {
		return nil, err
	}

	externalID := identity.ExternalID
	user = &users.User{Email: identity.Email, Name: identity.Name, IsActive: true}
	if identity.Provider == sso.ProviderMicrosoft {
		user.MicrosoftID = &externalID
	} else {
		user.JiraAccountID = &externalID
	}
	if user.Name == "" {
		user.Name = identity.Email
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.onUserCreated(ctx, user, strings.ToLower(string(identity.Provider)))
	return user, nil
}

func (s *AuthService) onUserCreated(ctx context.Context, user *users.User, source string) {
	if s.roles != nil && s.defaultSystemRole != "" {
		if err := s.roles.AssignSystemRole(ctx, user.ID, s.defaultSystemRole); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"user_id": user.ID,
				"role":    s.defaultSystemRole,
			}).Warn("Failed to assign default system role")
		}
	}

	s.emitter.Emit(ctx, events.SubjectUserCreated, events.UserCreatedPayload{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Source: source,
	})
}
