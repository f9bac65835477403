package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/events"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/sso"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/users"
)

func TestAuthService_Login(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "login@example.com", "s3cret-pass")
	f.createUser(t, "sso-only@example.com", "")

	pair, got, err := f.auth.Login(ctx, "LOGIN@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, 1800, pair.ExpiresIn)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "login@example.com", "nope-nope"},
		{"unknown email", "ghost@example.com", "s3cret-pass"},
		{"sso only account", "sso-only@example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var compared []string
			f.auth.checkPassword = func(hash, password string) bool {
				compared = append(compared, hash)
				return CheckPassword(hash, password)
			}
			defer func() { f.auth.checkPassword = CheckPassword }()

			_, _, err := f.auth.Login(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
			// every failure path pays for exactly one bcrypt comparison
			assert.Len(t, compared, 1)
		})
	}

	require.NoError(t, f.users.SetActive(ctx, user.ID, false))
	_, _, err = f.auth.Login(ctx, "login@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, ErrUserInactive)
}

func TestDummyPasswordHash(t *testing.T) {
	hash := dummyPasswordHash()
	assert.Equal(t, hash, dummyPasswordHash())

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)
	assert.False(t, CheckPassword(hash, "s3cret-pass"))
}

func TestAuthService_Register(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, user, err := f.auth.Register(ctx, RegisterInput{Email: "New@Example.com", Name: " Newbie ", Password: "long-enough"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, "Newbie", user.Name)
	assert.Equal(t, []string{"user"}, f.roles.calls)

	stored, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SystemRoleID)
	assert.Equal(t, f.roles.roleID, *stored.SystemRoleID)

	_, _, err = f.auth.Register(ctx, RegisterInput{Email: "new@example.com", Name: "Dup", Password: "long-enough"})
	assert.ErrorIs(t, err, users.ErrEmailTaken)

	_, _, err = f.auth.Register(ctx, RegisterInput{Email: "weak@example.com", Name: "Weak", Password: "123"})
	assert.ErrorIs(t, err, ErrWeakPassword)

	f.flushEvents(t)
	assert.Equal(t, []string{events.SubjectUserCreated}, f.publisher.types())
}

func TestAuthService_RefreshSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "ok@example.com", "")

	pair, err := f.tokens.CreateTokenPair(ctx, user)
	require.NoError(t, err)

	rotated, err := f.auth.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	assert.Empty(t, f.invalidator.users)
}

func TestAuthService_RefreshFailureLogsOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "replay@example.com", "")

	laptop, err := f.tokens.CreateTokenPair(ctx, user)
	require.NoError(t, err)
	phone, err := f.tokens.CreateTokenPair(ctx, user)
	require.NoError(t, err)

	rotated, err := f.auth.Refresh(ctx, laptop.RefreshToken)
	require.NoError(t, err)

	// replaying the used token ends every session
	_, err = f.auth.Refresh(ctx, laptop.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	for _, token := range []string{phone.RefreshToken, rotated.RefreshToken} {
		stored, err := f.refresh.Get(ctx, token)
		require.NoError(t, err)
		assert.True(t, stored.IsRevoked)
	}
	assert.Equal(t, []int64{user.ID}, f.invalidator.users)

	f.flushEvents(t)
	assert.Equal(t, []string{events.SubjectUserLoggedOut}, f.publisher.types())
}

func TestAuthService_RefreshExpiredLogsOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "expired@example.com", "")

	pair, err := f.tokens.CreateTokenPair(ctx, user)
	require.NoError(t, err)
	other, err := f.tokens.CreateTokenPair(ctx, user)
	require.NoError(t, err)

	f.clock.Advance(8 * 24 * time.Hour)

	_, err = f.auth.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenExpired)

	stored, err := f.refresh.Get(ctx, other.RefreshToken)
	require.NoError(t, err)
	assert.True(t, stored.IsRevoked)

	// unknown tokens cannot be traced to anyone
	_, err = f.auth.Refresh(ctx, "never-issued")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, []int64{user.ID}, f.invalidator.users)
}

func TestAuthService_Logout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "bye@example.com", "")

	pair, err := f.tokens.CreateTokenPair(ctx, user)
	require.NoError(t, err)
	require.NoError(t, f.cache.Set(ctx, ProviderCacheKey(sso.ProviderMicrosoft, user.ID), "ms-access", time.Hour))
	require.NoError(t, f.cache.Set(ctx, ProviderCacheKey(sso.ProviderJira, user.ID), "jira-access", time.Hour))

	require.NoError(t, f.auth.Logout(ctx, user.ID))

	_, err = f.tokens.RefreshTokens(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Zero(t, f.cache.Len())
	assert.Equal(t, []int64{user.ID}, f.invalidator.users)
}

func microsoftProvider(identity *sso.ExternalIdentity) *fakeProvider {
	return &fakeProvider{
		name:     sso.ProviderMicrosoft,
		identity: identity,
		token: &oauth2.Token{
			AccessToken:  "ms-access",
			RefreshToken: "ms-refresh",
			Expiry:       newFakeClock().Now().Add(time.Hour),
		},
	}
}

func TestAuthService_SSOLoginCreatesUser(t *testing.T) {
	provider := microsoftProvider(&sso.ExternalIdentity{
		Provider:   sso.ProviderMicrosoft,
		ExternalID: "oid-1",
		Email:      "Fresh@Contoso.com",
		Name:       "Fresh",
	})
	f := newFixture(t, provider)
	ctx := context.Background()

	pair, user, err := f.auth.SSOLogin(ctx, sso.ProviderMicrosoft, "code")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "fresh@contoso.com", user.Email)
	assert.False(t, user.HasPassword())
	require.NotNil(t, user.MicrosoftID)
	assert.Equal(t, "oid-1", *user.MicrosoftID)
	assert.Equal(t, []string{"user"}, f.roles.calls)

	stored, err := f.refresh.GetLatestActive(ctx, user.ID, TokenTypeMicrosoft, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, "ms-refresh", stored.Token)

	cached, err := f.cache.Get(ctx, ProviderCacheKey(sso.ProviderMicrosoft, user.ID))
	require.NoError(t, err)
	assert.Equal(t, "ms-access", cached)

	// second login matches by external id
	_, again, err := f.auth.SSOLogin(ctx, sso.ProviderMicrosoft, "code")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
	assert.Len(t, f.roles.calls, 1)

	f.flushEvents(t)
	assert.Equal(t, []string{events.SubjectUserCreated}, f.publisher.types())
}

func TestAuthService_SSOLoginLinksByEmail(t *testing.T) {
	provider := &fakeProvider{
		name: sso.ProviderJira,
		identity: &sso.ExternalIdentity{
			Provider:   sso.ProviderJira,
			ExternalID: "557058:xyz",
			Email:      "existing@example.com",
		},
		token: &oauth2.Token{AccessToken: "jira-access"},
	}
	f := newFixture(t, provider)
	ctx := context.Background()
	existing := f.createUser(t, "existing@example.com", "pa55word!")

	_, user, err := f.auth.SSOLogin(ctx, sso.ProviderJira, "code")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, user.ID)

	linked, err := f.users.GetByJiraAccountID(ctx, "557058:xyz")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, linked.ID)
	assert.Empty(t, f.roles.calls)

	// no expiry reported, so nothing cached
	assert.Zero(t, f.cache.Len())
}

func TestAuthService_SSOLoginFailures(t *testing.T) {
	failing := &fakeProvider{name: sso.ProviderMicrosoft, exchangeErr: errors.Join(sso.ErrExchangeFailed, errors.New("invalid_grant"))}
	f := newFixture(t, failing)
	ctx := context.Background()

	_, _, err := f.auth.SSOLogin(ctx, sso.ProviderMicrosoft, "code")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.NotErrorIs(t, err, ErrTokenError)

	_, _, err = f.auth.SSOLogin(ctx, sso.ProviderJira, "code")
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
	assert.True(t, f.auth.HasProvider(sso.ProviderMicrosoft))
	assert.False(t, f.auth.HasProvider(sso.ProviderJira))
}

func TestAuthService_SSOLoginProviderErrors(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
		want     error
	}{
		{"missing identity", &fakeProvider{exchangeErr: sso.ErrMissingIdentity}, ErrInvalidCredentials},
		{"deadline", &fakeProvider{exchangeErr: context.DeadlineExceeded}, ErrTokenError},
		{"unreachable", &fakeProvider{exchangeErr: errors.Join(sso.ErrProviderUnavailable, errors.New("connection refused"))}, ErrTokenError},
		{"unclassified", &fakeProvider{exchangeErr: errors.New("failed to verify ID token")}, ErrTokenError},
		{"exchange timeout", &fakeProvider{blockExchange: true}, ErrTokenError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.provider.name = sso.ProviderMicrosoft
			f := newFixture(t, tt.provider)

			_, _, err := f.auth.SSOLogin(context.Background(), sso.ProviderMicrosoft, "code")
			assert.ErrorIs(t, err, tt.want)
			if tt.want == ErrTokenError {
				assert.NotErrorIs(t, err, ErrInvalidCredentials)
			}
		})
	}
}

func TestAuthService_SSOLoginInactiveUser(t *testing.T) {
	provider := microsoftProvider(&sso.ExternalIdentity{
		Provider:   sso.ProviderMicrosoft,
		ExternalID: "oid-2",
		Email:      "disabled@example.com",
	})
	f := newFixture(t, provider)
	ctx := context.Background()
	user := f.createUser(t, "disabled@example.com", "")
	require.NoError(t, f.users.SetActive(ctx, user.ID, false))

	_, _, err := f.auth.SSOLogin(ctx, sso.ProviderMicrosoft, "code")
	assert.ErrorIs(t, err, ErrUserInactive)
}
