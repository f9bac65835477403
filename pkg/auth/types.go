package auth

import (
	"time"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/sso"
)

// TokenType separates the refresh token families sharing one table
type TokenType string

const (
	TokenTypeApp       TokenType = "APP"
	TokenTypeMicrosoft TokenType = TokenType(sso.ProviderMicrosoft)
	TokenTypeJira      TokenType = TokenType(sso.ProviderJira)
)

// TokenPair is returned on login and refresh
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int `json:"expires_in"`
}

// Identity is the caller resolved from a verified access token
type Identity struct {
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RefreshToken is a stored opaque credential. Rows are never updated except to revoke.
type RefreshToken struct {
	Token     string
	UserID    int64
	TokenType TokenType
	ExpiresAt time.Time
	IsRevoked bool
	CreatedAt time.Time
}

// Expired reports whether expires_at lies before now. A token is still
// valid at the instant it expires.
func (t *RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}
