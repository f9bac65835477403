package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const (
	atlassianAuthURL  = "https://auth.atlassian.com/authorize"
	atlassianTokenURL = "https://auth.atlassian.com/oauth/token"
	atlassianAPIURL   = "https://api.atlassian.com"
)

// JiraConfig configures Atlassian OAuth 2.0 (3LO) sign-in
type JiraConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Overrides for tests
	TokenURL   string
	APIBaseURL string
}

// JiraProvider signs users in with an Atlassian account
type JiraProvider struct {
	oauth2Config *oauth2.Config
	apiBaseURL   string
}

// NewJiraProvider creates a Jira provider
func NewJiraProvider(cfg JiraConfig) (*JiraProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("jira client_id and client_secret are required")
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = atlassianTokenURL
	}
	apiBaseURL := cfg.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = atlassianAPIURL
	}

	return &JiraProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   atlassianAuthURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
	}, nil
}

// Name implements Provider
func (p *JiraProvider) Name() ProviderName { return ProviderJira }

type atlassianProfile struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// Exchange redeems an authorization code and loads the account profile from
// the /me endpoint
func (p *JiraProvider) Exchange(ctx context.Context, code string) (*ExternalIdentity, *oauth2.Token, error) {
	if code == "" {
		return nil, nil, fmt.Errorf("%w: missing authorization code", ErrExchangeFailed)
	}

	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, nil, exchangeError(err)
	}

	profile, err := p.fetchProfile(ctx, token)
	if err != nil {
		return nil, nil, errors.Join(ErrProviderUnavailable, err)
	}
	if profile.AccountID == "" || profile.Email == "" {
		return nil, nil, fmt.Errorf("%w: account_id or email", ErrMissingIdentity)
	}

	return &ExternalIdentity{
		Provider:   ProviderJira,
		ExternalID: profile.AccountID,
		Email:      profile.Email,
		Name:       profile.Name,
	}, token, nil
}

func (p *JiraProvider) fetchProfile(ctx context.Context, token *oauth2.Token) (*atlassianProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+"/me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.oauth2Config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("user info request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var profile atlassianProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	return &profile, nil
}

// Refresh implements Provider. Atlassian rotates refresh tokens on every use.
func (p *JiraProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return refresh(ctx, p.oauth2Config, refreshToken)
}
