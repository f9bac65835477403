package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// MinJWTSecretLength is the minimum accepted HMAC secret size in bytes
const MinJWTSecretLength = 32

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Token         TokenConfig
	RBAC          RBACConfig
	SSO           SSOConfig
	Events        EventsConfig
	Jobs          JobsConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	// AuthRateLimit caps login, register and refresh calls per client per AuthRateWindow
	AuthRateLimit  int
	AuthRateWindow time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	Timeout         time.Duration
}

// RedisConfig holds the shared cache tier settings. An empty URL disables redis.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	L1Size     int
}

// TokenConfig holds access, refresh and provider token settings
type TokenConfig struct {
	JWTSecret           string
	JWTAlgorithm        string
	JWTIssuer           string
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	ProviderTokenMargin time.Duration
	ProviderTimeout     time.Duration
	ProviderRefreshTTL  time.Duration
}

// RBACConfig holds permission resolution and role assignment settings
type RBACConfig struct {
	PermissionCacheTTL     time.Duration
	EnforceProjectRoleKind bool
	DefaultSystemRole      string
	DefaultProjectRole     string
	SeedFile               string
}

// SSOConfig holds external identity provider settings
type SSOConfig struct {
	Microsoft MicrosoftConfig
	Jira      JiraConfig
}

// MicrosoftConfig holds Azure AD application settings
type MicrosoftConfig struct {
	Enabled      bool
	TenantID     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// JiraConfig holds Atlassian OAuth 2.0 (3LO) application settings
type JiraConfig struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// EventsConfig holds cross-service event settings
type EventsConfig struct {
	Enabled       bool
	ChannelPrefix string
}

// JobsConfig holds background job schedules
type JobsConfig struct {
	TokenGCSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Token:         loadTokenConfig(),
		RBAC:          loadRBACConfig(),
		SSO:           loadSSOConfig(),
		Events:        loadEventsConfig(),
		Jobs:          JobsConfig{TokenGCSchedule: getEnv("ZODC_TOKEN_GC_SCHEDULE", "0 3 * * *")},
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ZODC_HOST", "0.0.0.0"),
		Port:            getEnv("ZODC_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ZODC_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ZODC_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("ZODC_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ZODC_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    int64(getEnvInt("ZODC_MAX_BODY_BYTES", 1<<20)),
		AuthRateLimit:   getEnvInt("ZODC_AUTH_RATE_LIMIT", 20),
		AuthRateWindow:  getEnvDuration("ZODC_AUTH_RATE_WINDOW", time.Minute),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("ZODC_DATABASE_URL", ""),
		MaxConns:        getEnvInt("ZODC_DATABASE_MAX_CONNS", 20),
		MinConns:        getEnvInt("ZODC_DATABASE_MIN_CONNS", 2),
		ConnMaxLifetime: getEnvDuration("ZODC_DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		Timeout:         getEnvDuration("ZODC_DATABASE_TIMEOUT", 5*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("ZODC_REDIS_URL", ""),
		Password:   getEnv("ZODC_REDIS_PASSWORD", ""),
		DB:         getEnvInt("ZODC_REDIS_DB", 0),
		PoolSize:   getEnvInt("ZODC_REDIS_POOL_SIZE", 10),
		MaxRetries: getEnvInt("ZODC_REDIS_MAX_RETRIES", 3),
		L1Size:     getEnvInt("ZODC_CACHE_L1_SIZE", 10000),
	}
}

func loadTokenConfig() TokenConfig {
	return TokenConfig{
		JWTSecret:           getEnv("ZODC_JWT_SECRET", ""),
		JWTAlgorithm:        strings.ToUpper(getEnv("ZODC_JWT_ALGORITHM", "HS256")),
		JWTIssuer:           getEnv("ZODC_JWT_ISSUER", "zodc-auth"),
		AccessTokenTTL:      getEnvDuration("ZODC_ACCESS_TOKEN_TTL", 30*time.Minute),
		RefreshTokenTTL:     getEnvDuration("ZODC_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		ProviderTokenMargin: getEnvDuration("ZODC_PROVIDER_TOKEN_MARGIN", 60*time.Second),
		ProviderTimeout:     getEnvDuration("ZODC_PROVIDER_TIMEOUT", 10*time.Second),
		ProviderRefreshTTL:  getEnvDuration("ZODC_PROVIDER_REFRESH_TTL", 90*24*time.Hour),
	}
}

func loadRBACConfig() RBACConfig {
	return RBACConfig{
		PermissionCacheTTL:     getEnvDuration("ZODC_PERMISSION_CACHE_TTL", 5*time.Minute),
		EnforceProjectRoleKind: getEnvBool("ZODC_ENFORCE_PROJECT_ROLE_KIND", true),
		DefaultSystemRole:      getEnv("ZODC_DEFAULT_SYSTEM_ROLE", "user"),
		DefaultProjectRole:     getEnv("ZODC_DEFAULT_PROJECT_ROLE", "team_member"),
		SeedFile:               getEnv("ZODC_RBAC_SEED_FILE", ""),
	}
}

func loadSSOConfig() SSOConfig {
	return SSOConfig{
		Microsoft: MicrosoftConfig{
			Enabled:      getEnvBool("ZODC_MICROSOFT_ENABLED", false),
			TenantID:     getEnv("ZODC_MICROSOFT_TENANT_ID", "common"),
			ClientID:     getEnv("ZODC_MICROSOFT_CLIENT_ID", ""),
			ClientSecret: getEnv("ZODC_MICROSOFT_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("ZODC_MICROSOFT_REDIRECT_URL", ""),
			Scopes:       getEnvList("ZODC_MICROSOFT_SCOPES", []string{"openid", "profile", "email", "offline_access", "User.Read"}),
		},
		Jira: JiraConfig{
			Enabled:      getEnvBool("ZODC_JIRA_ENABLED", false),
			ClientID:     getEnv("ZODC_JIRA_CLIENT_ID", ""),
			ClientSecret: getEnv("ZODC_JIRA_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("ZODC_JIRA_REDIRECT_URL", ""),
			Scopes:       getEnvList("ZODC_JIRA_SCOPES", []string{"read:me", "read:jira-user", "read:jira-work", "offline_access"}),
		},
	}
}

func loadEventsConfig() EventsConfig {
	return EventsConfig{
		Enabled:       getEnvBool("ZODC_EVENTS_ENABLED", false),
		ChannelPrefix: getEnv("ZODC_EVENTS_CHANNEL_PREFIX", "zodc"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           getEnv("ZODC_LOG_LEVEL", "info"),
		MetricsEnabled:     getEnvBool("ZODC_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ZODC_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ZODC_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ZODC_OTEL_SERVICE_NAME", "zodc-auth"),
		OTelServiceVersion: getEnv("ZODC_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ZODC_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("ZODC_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Server.AuthRateLimit < 0 || c.Server.AuthRateWindow <= 0 {
		return fmt.Errorf("auth rate limit must be non-negative with a positive window")
	}

	if len(c.Token.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("JWT secret must be at least %d bytes", MinJWTSecretLength)
	}
	switch c.Token.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("invalid JWT algorithm: %s (must be HS256, HS384 or HS512)", c.Token.JWTAlgorithm)
	}
	if c.Token.AccessTokenTTL <= 0 || c.Token.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.Token.RefreshTokenTTL <= c.Token.AccessTokenTTL {
		return fmt.Errorf("refresh token TTL must be longer than access token TTL")
	}
	if c.Token.ProviderTimeout <= 0 {
		return fmt.Errorf("provider timeout must be positive")
	}
	if c.Token.ProviderRefreshTTL <= 0 {
		return fmt.Errorf("provider refresh TTL must be positive")
	}

	if c.RBAC.PermissionCacheTTL <= 0 {
		return fmt.Errorf("permission cache TTL must be positive")
	}
	if c.RBAC.DefaultSystemRole == "" {
		return fmt.Errorf("default system role is required")
	}

	if c.SSO.Microsoft.Enabled && (c.SSO.Microsoft.ClientID == "" || c.SSO.Microsoft.ClientSecret == "") {
		return fmt.Errorf("microsoft client id and secret are required when microsoft SSO is enabled")
	}
	if c.SSO.Jira.Enabled && (c.SSO.Jira.ClientID == "" || c.SSO.Jira.ClientSecret == "") {
		return fmt.Errorf("jira client id and secret are required when jira SSO is enabled")
	}

	if c.Events.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when events are enabled")
	}

	if _, err := cron.ParseStandard(c.Jobs.TokenGCSchedule); err != nil {
		return fmt.Errorf("invalid token GC schedule %q: %w", c.Jobs.TokenGCSchedule, err)
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
