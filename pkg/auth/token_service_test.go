package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenService_CreateTokenPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "pair@example.com", "")

	pair, err := f.tokens.CreateTokenPair(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "bearer", pair.TokenType)
	assert.Equal(t, 1800, pair.ExpiresIn)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Len(t, pair.RefreshToken, 43)

	stored, err := f.refresh.Get(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.UserID)
	assert.Equal(t, TokenTypeApp, stored.TokenType)
	assert.True(t, f.clock.Now().Add(7*24*time.Hour).Equal(stored.ExpiresAt))

	// a second session does not revoke the first
	second, err := f.tokens.CreateTokenPair(ctx, user)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, second.RefreshToken)
	stored, err = f.refresh.Get(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.False(t, stored.IsRevoked)
}

func TestTokenService_VerifyToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "verify@example.com", "")

	pair, err := f.tokens.CreateTokenPair(ctx, user)
	require.NoError(t, err)

	identity, err := f.tokens.VerifyToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.UserID)
	assert.Equal(t, "verify@example.com", identity.Email)
	assert.NotEmpty(t, identity.TokenID)

	_, err = f.tokens.VerifyToken(ctx, pair.AccessToken+"x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	t.Run("deactivated subject", func(t *testing.T) {
		require.NoError(t, f.users.SetActive(ctx, user.ID, false))
		defer func() { require.NoError(t, f.users.SetActive(ctx, user.ID, true)) }()

		_, err := f.tokens.VerifyToken(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unknown subject", func(t *testing.T) {
		token, _, err := f.tokens.signer.Sign(9999, "ghost@example.com", "Ghost", time.Minute)
		require.NoError(t, err)

		_, err = f.tokens.VerifyToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		f.clock.Advance(31 * time.Minute)
		_, err := f.tokens.VerifyToken(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})
}

func TestTokenService_RefreshRotates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "rotate@example.com", "")

	pair, err := f.tokens.CreateTokenPair(ctx, user)
	require.NoError(t, err)

	rotated, err := f.tokens.RefreshTokens(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	_, err = f.tokens.VerifyToken(ctx, rotated.AccessToken)
	require.NoError(t, err)

	// the original is single use
	_, err = f.tokens.RefreshTokens(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// the replacement still works
	_, err = f.tokens.RefreshTokens(ctx, rotated.RefreshToken)
	assert.NoError(t, err)
}

func TestTokenService_RefreshFailureOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "order@example.com", "")
	now := f.clock.Now()

	insert := func(value string, tokenType TokenType, userID int64, expiresAt time.Time, revoked bool) {
		require.NoError(t, f.refresh.Create(ctx, &RefreshToken{
			Token:     value,
			UserID:    userID,
			TokenType: tokenType,
			ExpiresAt: expiresAt,
			IsRevoked: revoked,
			CreatedAt: now.Add(-48 * time.Hour),
		}))
	}
	insert("expired", TokenTypeApp, user.ID, now.Add(-time.Hour), false)
	insert("revoked", TokenTypeApp, user.ID, now.Add(time.Hour), true)
	insert("expired-and-revoked", TokenTypeApp, user.ID, now.Add(-time.Hour), true)
	insert("orphan", TokenTypeApp, 4242, now.Add(time.Hour), false)
	insert("provider", TokenTypeJira, user.ID, now.Add(time.Hour), false)
	insert("expires-now", TokenTypeApp, user.ID, now, false)

	tests := []struct {
		token string
		want  error
	}{
		{"unknown", ErrInvalidToken},
		{"expired", ErrTokenExpired},
		{"revoked", ErrInvalidToken},
		{"expired-and-revoked", ErrInvalidToken},
		{"orphan", ErrInvalidToken},
		{"provider", ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			_, err := f.tokens.RefreshTokens(ctx, tt.token)
			assert.ErrorIs(t, err, tt.want)
			if tt.want == ErrInvalidToken {
				assert.NotErrorIs(t, err, ErrTokenExpired)
			}
		})
	}

	// expires_at equal to now has not yet passed
	pair, err := f.tokens.RefreshTokens(ctx, "expires-now")
	require.NoError(t, err)
	assert.NotEqual(t, "expires-now", pair.RefreshToken)
}

func TestTokenService_ExtractUserID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "extract@example.com", "")

	pair, err := f.tokens.CreateTokenPair(ctx, user)
	require.NoError(t, err)

	id, err := f.tokens.ExtractUserID(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)

	_, err = f.tokens.ExtractUserID(ctx, "nope")
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestNewTokenService_Validation(t *testing.T) {
	_, err := NewTokenService(TokenConfig{Secret: testSecret}, nil, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewTokenService(TokenConfig{
		Secret:          testSecret,
		Algorithm:       "ES256",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	}, nil, nil, nil, nil)
	assert.Error(t, err)
}
