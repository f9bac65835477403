package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setRequired(t *testing.T) {
	t.Setenv("ZODC_DATABASE_URL", "postgres://localhost/zodc_auth?sslmode=disable")
	t.Setenv("ZODC_JWT_SECRET", testSecret)
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "HS256", cfg.Token.JWTAlgorithm)
	assert.Equal(t, 30*time.Minute, cfg.Token.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Token.RefreshTokenTTL)
	assert.Equal(t, 60*time.Second, cfg.Token.ProviderTokenMargin)
	assert.Equal(t, 10*time.Second, cfg.Token.ProviderTimeout)
	assert.Equal(t, 90*24*time.Hour, cfg.Token.ProviderRefreshTTL)
	assert.Equal(t, 20, cfg.Server.AuthRateLimit)
	assert.Equal(t, time.Minute, cfg.Server.AuthRateWindow)
	assert.Equal(t, 5*time.Minute, cfg.RBAC.PermissionCacheTTL)
	assert.True(t, cfg.RBAC.EnforceProjectRoleKind)
	assert.Equal(t, "user", cfg.RBAC.DefaultSystemRole)
	assert.Equal(t, "team_member", cfg.RBAC.DefaultProjectRole)
	assert.Equal(t, "0 3 * * *", cfg.Jobs.TokenGCSchedule)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.Contains(t, cfg.SSO.Microsoft.Scopes, "offline_access")
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ZODC_ACCESS_TOKEN_TTL", "15m")
	t.Setenv("ZODC_ENFORCE_PROJECT_ROLE_KIND", "false")
	t.Setenv("ZODC_JWT_ALGORITHM", "hs512")
	t.Setenv("ZODC_JIRA_SCOPES", "read:me, offline_access ,")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Token.AccessTokenTTL)
	assert.False(t, cfg.RBAC.EnforceProjectRoleKind)
	assert.Equal(t, "HS512", cfg.Token.JWTAlgorithm)
	assert.Equal(t, []string{"read:me", "offline_access"}, cfg.SSO.Jira.Scopes)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "short secret",
			env:     map[string]string{"ZODC_JWT_SECRET": "too-short"},
			wantErr: "JWT secret must be at least 32 bytes",
		},
		{
			name:    "unsupported algorithm",
			env:     map[string]string{"ZODC_JWT_ALGORITHM": "RS256"},
			wantErr: "invalid JWT algorithm",
		},
		{
			name: "refresh shorter than access",
			env: map[string]string{
				"ZODC_ACCESS_TOKEN_TTL":  "2h",
				"ZODC_REFRESH_TOKEN_TTL": "1h",
			},
			wantErr: "refresh token TTL must be longer",
		},
		{
			name:    "events without redis",
			env:     map[string]string{"ZODC_EVENTS_ENABLED": "true"},
			wantErr: "redis URL is required",
		},
		{
			name:    "bad cron schedule",
			env:     map[string]string{"ZODC_TOKEN_GC_SCHEDULE": "every day"},
			wantErr: "invalid token GC schedule",
		},
		{
			name:    "zero rate window",
			env:     map[string]string{"ZODC_AUTH_RATE_WINDOW": "0s"},
			wantErr: "auth rate limit",
		},
		{
			name:    "microsoft without credentials",
			env:     map[string]string{"ZODC_MICROSOFT_ENABLED": "true"},
			wantErr: "microsoft client id and secret are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "got %q", err.Error())
		})
	}
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	t.Setenv("ZODC_JWT_SECRET", testSecret)
	t.Setenv("ZODC_DATABASE_URL", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_BOOL", "1")
	t.Setenv("TEST_INT", "not-a-number")
	t.Setenv("TEST_DURATION", "90s")

	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.Equal(t, 7, getEnvInt("TEST_INT", 7))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, "fallback", getEnv("TEST_UNSET_VALUE", "fallback"))
}
