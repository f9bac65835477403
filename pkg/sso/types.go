package sso

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// ProviderName identifies an external identity provider. The values double
// as refresh token families and cache key segments.
type ProviderName string

const (
	ProviderMicrosoft ProviderName = "MICROSOFT"
	ProviderJira      ProviderName = "JIRA"
)

var (
	// ErrExchangeFailed is returned when the provider rejects an authorization code
	ErrExchangeFailed = errors.New("authorization code exchange failed")
	// ErrRefreshFailed is returned when the provider yields no usable token
	ErrRefreshFailed = errors.New("provider token refresh failed")
	// ErrMissingIdentity is returned when the provider response lacks required claims
	ErrMissingIdentity = errors.New("provider response is missing identity fields")
	// ErrProviderUnavailable is returned when the provider could not be reached
	// or did not answer in time
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// exchangeError separates an OAuth2 error response, which rejects the code,
// from transport failures and timeouts.
func exchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return errors.Join(ErrExchangeFailed, err)
	}
	return errors.Join(ErrProviderUnavailable, err)
}

// ExternalIdentity is the outcome of a successful SSO exchange
type ExternalIdentity struct {
	Provider   ProviderName `json:"provider"`
	ExternalID string       `json:"external_id"`
	Email      string       `json:"email"`
	Name       string       `json:"name"`
}

// Provider exchanges authorization codes for identities and refreshes
// provider access tokens.
type Provider interface {
	Name() ProviderName
	Exchange(ctx context.Context, code string) (*ExternalIdentity, *oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// refresh runs the oauth2 refresh grant for a bare refresh token
func refresh(ctx context.Context, cfg *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, ErrRefreshFailed
	}
	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, errors.Join(ErrRefreshFailed, err)
	}
	if token.AccessToken == "" {
		return nil, ErrRefreshFailed
	}
	return token, nil
}
