package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/observability"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/users"
)

const bearerTokenType = "bearer"

// RefreshTokenRepository is the persistence used by the token services
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	Get(ctx context.Context, token string) (*RefreshToken, error)
	Revoke(ctx context.Context, token string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID int64, tokenType TokenType) (int64, error)
	GetLatestActive(ctx context.Context, userID int64, tokenType TokenType, now time.Time) (*RefreshToken, error)
}

// UserLookup resolves token subjects
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*users.User, error)
}

// TokenConfig configures access and refresh token issuance
type TokenConfig struct {
	Secret          string
	Algorithm       string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// Now overrides the clock; nil means time.Now
	Now func() time.Time
}

// TokenService issues stateless access tokens and stateful rotating refresh tokens
type TokenService struct {
	signer     *JWTSigner
	store      RefreshTokenRepository
	users      UserLookup
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     logrus.FieldLogger
	metrics    *observability.Metrics
	tracer     trace.Tracer
}

// NewTokenService creates a token service
func NewTokenService(cfg TokenConfig, store RefreshTokenRepository, userLookup UserLookup, logger logrus.FieldLogger, metrics *observability.Metrics) (*TokenService, error) {
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, fmt.Errorf("token lifetimes must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	signer, err := NewJWTSigner(cfg.Secret, cfg.Algorithm, cfg.Issuer, now)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}

	return &TokenService{
		signer:     signer,
		store:      store,
		users:      userLookup,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		now:        now,
		logger:     logger.WithField("component", "token_service"),
		metrics:    metrics,
		tracer:     otel.Tracer("github.com/zODC-Dev/zodc-service-auth-sub000/pkg/auth"),
	}, nil
}

// CreateTokenPair signs an access token and persists a new APP refresh
// token. Existing sessions of the user are left alone.
func (s *TokenService) CreateTokenPair(ctx context.Context, user *users.User) (*TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "auth.CreateTokenPair", trace.WithAttributes(attribute.Int64("user.id", user.ID)))
	defer span.End()

	accessToken, _, err := s.signer.Sign(user.ID, user.Email, user.Name, s.accessTTL)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	refreshToken, err := GenerateOpaqueToken()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := s.now().UTC()
	err = s.store.Create(ctx, &RefreshToken{
		Token:     refreshToken,
		UserID:    user.ID,
		TokenType: TokenTypeApp,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.metrics.TokensIssuedTotal.WithLabelValues("access").Inc()
	s.metrics.TokensIssuedTotal.WithLabelValues("refresh").Inc()
	s.logger.WithField("user_id", user.ID).Debug("Issued token pair")

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    bearerTokenType,
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

// VerifyToken checks an access token and resolves its subject. It fails with
// ErrTokenExpired or ErrInvalidToken; an unknown or deactivated subject is
// an invalid token.
func (s *TokenService) VerifyToken(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := s.signer.Parse(accessToken)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, users.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user inactive", ErrInvalidToken)
	}

	identity := &Identity{
		UserID:  user.ID,
		Email:   user.Email,
		Name:    user.Name,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// RefreshTokens rotates an APP refresh token. Checks run in a fixed order:
// unknown, revoked, expired, then subject. A revoked token reports
// ErrInvalidToken even when it is also expired.
func (s *TokenService) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "auth.RefreshTokens")
	defer span.End()

	pair, err := s.rotate(ctx, refreshToken)
	switch {
	case err == nil:
		s.metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
	case errors.Is(err, ErrTokenExpired):
		s.metrics.TokenRefreshTotal.WithLabelValues("expired").Inc()
	case errors.Is(err, ErrInvalidToken):
		s.metrics.TokenRefreshTotal.WithLabelValues("invalid").Inc()
	default:
		s.metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return pair, err
}

func (s *TokenService) rotate(ctx context.Context, refreshToken string) (*TokenPair, error) {
	stored, err := s.store.Get(ctx, refreshToken)
	if errors.Is(err, ErrRefreshTokenNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if stored.TokenType != TokenTypeApp {
		return nil, fmt.Errorf("%w: not an application token", ErrInvalidToken)
	}
	if stored.IsRevoked {
		return nil, fmt.Errorf("%w: revoked", ErrInvalidToken)
	}
	if stored.Expired(s.now()) {
		return nil, ErrTokenExpired
	}

	user, err := s.users.GetByID(ctx, stored.UserID)
	if errors.Is(err, users.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user inactive", ErrInvalidToken)
	}

	revoked, err := s.store.Revoke(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if !revoked {
		// lost a race with another rotation of the same token
		return nil, fmt.Errorf("%w: revoked", ErrInvalidToken)
	}

	return s.CreateTokenPair(ctx, user)
}

// ExtractUserID returns the owner of a stored refresh token in any state
func (s *TokenService) ExtractUserID(ctx context.Context, refreshToken string) (int64, error) {
	stored, err := s.store.Get(ctx, refreshToken)
	if err != nil {
		return 0, err
	}
	return stored.UserID, nil
}
