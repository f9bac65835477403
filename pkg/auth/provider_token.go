package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/cache"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/observability"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/sso"
)

const (
	DefaultProviderTimeout     = 10 * time.Second
	DefaultProviderTokenMargin = 60 * time.Second
	DefaultProviderRefreshTTL  = 90 * 24 * time.Hour
)

// ProviderCacheKey is the cache key of a user's provider access token
func ProviderCacheKey(provider sso.ProviderName, userID int64) string {
	return fmt.Sprintf("token:%s:%d", provider, userID)
}

// ProviderTokenConfig bounds provider calls and cache lifetimes
type ProviderTokenConfig struct {
	Timeout time.Duration
	// Margin is subtracted from the provider's reported expiry before caching
	Margin time.Duration
	// RefreshTTL is how long a stored provider refresh token is trusted
	RefreshTTL time.Duration
	Now        func() time.Time
}

// ProviderTokenService hands out valid Microsoft and Jira access tokens,
// refreshing through the provider on cache miss.
type ProviderTokenService struct {
	providers  map[sso.ProviderName]sso.Provider
	store      RefreshTokenRepository
	cache      cache.Cache
	group      singleflight.Group
	timeout    time.Duration
	margin     time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     logrus.FieldLogger
	metrics    *observability.Metrics
}

// NewProviderTokenService creates a provider token service. A zero timeout or
// refresh TTL and a negative margin select the package defaults.
func NewProviderTokenService(providers []sso.Provider, store RefreshTokenRepository, c cache.Cache, cfg ProviderTokenConfig, logger logrus.FieldLogger, metrics *observability.Metrics) *ProviderTokenService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProviderTimeout
	}
	if cfg.Margin < 0 {
		cfg.Margin = DefaultProviderTokenMargin
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultProviderRefreshTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logrus.New()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}

	byName := make(map[sso.ProviderName]sso.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	return &ProviderTokenService{
		providers:  byName,
		store:      store,
		cache:      c,
		timeout:    cfg.Timeout,
		margin:     cfg.Margin,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
		logger:     logger.WithField("component", "provider_tokens"),
		metrics:    metrics,
	}
}

// GetValidToken returns a provider access token for the user from cache, or
// by redeeming the stored provider refresh token. Concurrent misses for the
// same user and provider share one provider call. Failures are ErrTokenError
// and are not retried.
func (s *ProviderTokenService) GetValidToken(ctx context.Context, provider sso.ProviderName, userID int64) (string, error) {
	key := ProviderCacheKey(provider, userID)

	if token, err := s.cache.Get(ctx, key); err == nil && token != "" {
		s.metrics.ProviderTokenTotal.WithLabelValues(string(provider), "cache").Inc()
		return token, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.refresh(ctx, provider, userID)
	})
	if err != nil {
		s.metrics.ProviderTokenTotal.WithLabelValues(string(provider), "error").Inc()
		return "", err
	}
	s.metrics.ProviderTokenTotal.WithLabelValues(string(provider), "refresh").Inc()
	return v.(string), nil
}

func (s *ProviderTokenService) refresh(ctx context.Context, provider sso.ProviderName, userID int64) (string, error) {
	logger := s.logger.WithFields(logrus.Fields{"provider": provider, "user_id": userID})

	p, ok := s.providers[provider]
	if !ok {
		return "", fmt.Errorf("%w: %w", ErrTokenError, ErrProviderNotConfigured)
	}

	// shared by every caller waiting on this flight, so not tied to the first caller's cancellation
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	stored, err := s.store.GetLatestActive(callCtx, userID, TokenType(provider), s.now())
	if errors.Is(err, ErrRefreshTokenNotFound) {
		return "", fmt.Errorf("%w: no %s refresh token on file", ErrTokenError, provider)
	}
	if err != nil {
		return "", err
	}

	token, err := p.Refresh(callCtx, stored.Token)
	if err != nil {
		logger.WithError(err).Warn("Provider token refresh failed")
		return "", fmt.Errorf("%w: %v", ErrTokenError, err)
	}

	if err := s.StoreProviderTokens(callCtx, provider, userID, token); err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// StoreProviderTokens records a provider token response. A returned refresh
// token replaces every earlier one of that provider; the access token is
// cached until its reported expiry minus the safety margin.
func (s *ProviderTokenService) StoreProviderTokens(ctx context.Context, provider sso.ProviderName, userID int64, token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return ErrTokenError
	}
	tokenType := TokenType(provider)
	now := s.now().UTC()

	if token.RefreshToken != "" && !s.isCurrent(ctx, userID, tokenType, token.RefreshToken) {
		if _, err := s.store.RevokeAllForUser(ctx, userID, tokenType); err != nil {
			return err
		}
		err := s.store.Create(ctx, &RefreshToken{
			Token:     token.RefreshToken,
			UserID:    userID,
			TokenType: tokenType,
			ExpiresAt: now.Add(s.refreshTTL),
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		s.metrics.TokensIssuedTotal.WithLabelValues("provider_refresh").Inc()
	}

	if token.Expiry.IsZero() {
		return nil
	}
	ttl := token.Expiry.Sub(now) - s.margin
	if ttl <= 0 {
		return nil
	}
	if err := s.cache.Set(ctx, ProviderCacheKey(provider, userID), token.AccessToken, ttl); err != nil {
		s.logger.WithError(err).WithField("provider", provider).Warn("Failed to cache provider token")
	}
	return nil
}

// isCurrent reports whether refreshToken is already the live token on file
func (s *ProviderTokenService) isCurrent(ctx context.Context, userID int64, tokenType TokenType, refreshToken string) bool {
	current, err := s.store.GetLatestActive(ctx, userID, tokenType, s.now())
	return err == nil && current.Token == refreshToken
}

// Forget drops cached provider access tokens for the user
func (s *ProviderTokenService) Forget(ctx context.Context, userID int64) error {
	return s.cache.Delete(ctx,
		ProviderCacheKey(sso.ProviderMicrosoft, userID),
		ProviderCacheKey(sso.ProviderJira, userID),
	)
}
