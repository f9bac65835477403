package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/auth"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/cache"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/observability"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/rbac"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/sso"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/storage/sqltest"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/users"
)

type fakeProvider struct {
	name     sso.ProviderName
	identity *sso.ExternalIdentity
	token    *oauth2.Token
}

func (p *fakeProvider) Name() sso.ProviderName { return p.name }

func (p *fakeProvider) Exchange(_ context.Context, code string) (*sso.ExternalIdentity, *oauth2.Token, error) {
	switch code {
	case "good-code":
	case "slow-code":
		return nil, nil, context.DeadlineExceeded
	default:
		return nil, nil, sso.ErrExchangeFailed
	}
	return p.identity, p.token, nil
}

func (p *fakeProvider) Refresh(context.Context, string) (*oauth2.Token, error) {
	return nil, sso.ErrRefreshFailed
}

type serverFixture struct {
	server   *Server
	users    *users.Store
	roles    *rbac.RoleService
	registry *prometheus.Registry
}

// newServerFixture wires the real token, auth and rbac services over a
// seeded in-memory database
func newServerFixture(t *testing.T, providers ...sso.Provider) *serverFixture {
	t.Helper()
	db := sqltest.Open(t)
	logger := sqltest.Discard()
	ctx := context.Background()

	userStore := users.NewStore(db)
	refreshStore := auth.NewRefreshTokenStore(db)
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:          "api-test-secret-that-is-long-enough!!",
		Algorithm:       "HS256",
		Issuer:          "zodc-auth",
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	}, refreshStore, userStore, logger, nil)
	require.NoError(t, err)

	local, err := cache.NewLocalCache(256, nil)
	require.NoError(t, err)
	tiered := cache.NewTiered(local, nil, logger, nil)

	rbacStore := rbac.NewStore(db)
	seed, err := rbac.LoadSeedFile("")
	require.NoError(t, err)
	require.NoError(t, rbac.ApplySeed(ctx, rbacStore, seed, logger))
	checker := rbac.NewChecker(rbacStore, tiered, tokens, 0, logger, nil)
	roles := rbac.NewRoleService(rbacStore, userStore, checker, nil, logger, rbac.ServiceConfig{EnforceProjectRoleKind: true})

	providerTokens := auth.NewProviderTokenService(providers, refreshStore, tiered, auth.ProviderTokenConfig{
		Timeout:    time.Second,
		Margin:     time.Minute,
		RefreshTTL: 24 * time.Hour,
	}, logger, nil)
	authService := auth.NewAuthService(auth.AuthServiceDeps{
		Tokens:            tokens,
		RefreshTokens:     refreshStore,
		Users:             userStore,
		ProviderTokens:    providerTokens,
		Providers:         providers,
		Permissions:       checker,
		Roles:             roles,
		DefaultSystemRole: "user",
		Logger:            logger,
	})

	registry := prometheus.NewRegistry()
	server := NewServer(ServerDeps{
		Auth:           authService,
		ProviderTokens: providerTokens,
		Users:          userStore,
		Verifier:       tokens,
		RoleService:    roles,
		Checker:        checker,
		Health:         observability.NewHealthChecker(db, nil, "test"),
		Metrics:        observability.NewMetrics(registry),
		Gatherer:       registry,
		Logger:         logger,
	})
	return &serverFixture{server: server, users: userStore, roles: roles, registry: registry}
}

func (f *serverFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

// register signs up a password account and returns the issued session
func (f *serverFixture) register(t *testing.T, email string) LoginResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    email,
		"name":     "Test User",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeLogin(t, rec)
}

func decodeLogin(t *testing.T, rec *httptest.ResponseRecorder) LoginResponse {
	t.Helper()
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.TokenPair)
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}
