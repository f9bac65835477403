package sso

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// MicrosoftConfig configures Azure AD sign-in
type MicrosoftConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Overrides for sovereign clouds and tests
	TokenURL string
	JWKSURL  string
	Issuer   string
	KeySet   oidc.KeySet
}

// MicrosoftProvider signs users in with Azure AD and verifies the id_token
type MicrosoftProvider struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
}

// multi-tenant aliases whose tokens carry the real tenant in the issuer
var multiTenant = map[string]bool{"common": true, "organizations": true, "consumers": true}

// NewMicrosoftProvider creates a Microsoft provider. Signing keys are fetched
// lazily from the tenant JWKS endpoint unless cfg.KeySet is set.
func NewMicrosoftProvider(ctx context.Context, cfg MicrosoftConfig) (*MicrosoftProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("microsoft client_id and client_secret are required")
	}
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}

	endpoint := microsoft.AzureADEndpoint(tenant)
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	keySet := cfg.KeySet
	if keySet == nil {
		jwksURL := cfg.JWKSURL
		if jwksURL == "" {
			jwksURL = fmt.Sprintf("https://login.microsoftonline.com/%s/discovery/v2.0/keys", tenant)
		}
		keySet = oidc.NewRemoteKeySet(ctx, jwksURL)
	}

	issuer := cfg.Issuer
	if issuer == "" {
		issuer = fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", tenant)
	}

	verifier := oidc.NewVerifier(issuer, keySet, &oidc.Config{
		ClientID:        cfg.ClientID,
		SkipIssuerCheck: multiTenant[tenant] && cfg.Issuer == "",
	})

	return &MicrosoftProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
		verifier: verifier,
	}, nil
}

// Name implements Provider
func (p *MicrosoftProvider) Name() ProviderName { return ProviderMicrosoft }

type microsoftClaims struct {
	ObjectID          string `json:"oid"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
}

// Exchange redeems an authorization code and reads the identity from the
// verified id_token. The object id (oid) is the stable external id.
func (p *MicrosoftProvider) Exchange(ctx context.Context, code string) (*ExternalIdentity, *oauth2.Token, error) {
	if code == "" {
		return nil, nil, fmt.Errorf("%w: missing authorization code", ErrExchangeFailed)
	}

	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, nil, exchangeError(err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, nil, fmt.Errorf("%w: id_token", ErrMissingIdentity)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims microsoftClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	identity := &ExternalIdentity{
		Provider:   ProviderMicrosoft,
		ExternalID: claims.ObjectID,
		Email:      claims.Email,
		Name:       claims.Name,
	}
	if identity.ExternalID == "" {
		identity.ExternalID = idToken.Subject
	}
	if identity.Email == "" {
		identity.Email = claims.PreferredUsername
	}
	if identity.ExternalID == "" || identity.Email == "" {
		return nil, nil, fmt.Errorf("%w: oid or email", ErrMissingIdentity)
	}

	return identity, token, nil
}

// Refresh implements Provider
func (p *MicrosoftProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return refresh(ctx, p.oauth2Config, refreshToken)
}
