package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/api"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/async"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/auth"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/cache"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/config"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/events"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/middleware"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/observability"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/rbac"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/sso"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/storage/postgres"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/users"
)

var version = "dev"

// backgroundTimeout bounds each event publish and the token GC run
const backgroundTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Auth service stopped with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NopMetrics()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	db, err := postgres.Connect(ctx, postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.RunMigrations(ctx, db, postgres.DialectPostgres, logger); err != nil {
		return err
	}

	// Redis is optional; without it the cache is process-local and events stay in-process
	var rdb *redis.Client
	var shared cache.Tier
	if cfg.Redis.URL != "" {
		rdb, err = cache.NewRedisClient(ctx, cache.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()
		shared = cache.NewRedisCache(rdb)
	}

	local, err := cache.NewLocalCache(cfg.Redis.L1Size, nil)
	if err != nil {
		return err
	}
	tiered := cache.NewTiered(local, shared, logger, metrics)

	runner := async.NewRunner(logger, backgroundTimeout)
	var bus interface {
		events.Publisher
		events.Subscriber
	}
	switch {
	case !cfg.Events.Enabled:
	case rdb != nil:
		bus = events.NewRedisBus(rdb, cfg.Events.ChannelPrefix, logger)
	default:
		logger.Warn("Events enabled without redis, using the in-process bus")
		bus = events.NewMemoryBus()
	}
	var publisher events.Publisher
	if bus != nil {
		publisher = bus
	}
	emitter := events.NewEmitter(publisher, runner, logger)

	// Stores and services
	userStore := users.NewStore(db)
	refreshStore := auth.NewRefreshTokenStore(db)
	rbacStore := rbac.NewStore(db)

	seed, err := rbac.LoadSeedFile(cfg.RBAC.SeedFile)
	if err != nil {
		return err
	}
	if err := rbac.ApplySeed(ctx, rbacStore, seed, logger); err != nil {
		return err
	}

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:          cfg.Token.JWTSecret,
		Algorithm:       cfg.Token.JWTAlgorithm,
		Issuer:          cfg.Token.JWTIssuer,
		AccessTokenTTL:  cfg.Token.AccessTokenTTL,
		RefreshTokenTTL: cfg.Token.RefreshTokenTTL,
	}, refreshStore, userStore, logger, metrics)
	if err != nil {
		return err
	}

	checker := rbac.NewChecker(rbacStore, tiered, tokens, cfg.RBAC.PermissionCacheTTL, logger, metrics)
	roles := rbac.NewRoleService(rbacStore, userStore, checker, emitter, logger, rbac.ServiceConfig{
		EnforceProjectRoleKind: cfg.RBAC.EnforceProjectRoleKind,
	})

	providers, err := ssoProviders(ctx, cfg.SSO)
	if err != nil {
		return err
	}
	providerTokens := auth.NewProviderTokenService(providers, refreshStore, tiered, auth.ProviderTokenConfig{
		Timeout:    cfg.Token.ProviderTimeout,
		Margin:     cfg.Token.ProviderTokenMargin,
		RefreshTTL: cfg.Token.ProviderRefreshTTL,
	}, logger, metrics)

	authService := auth.NewAuthService(auth.AuthServiceDeps{
		Tokens:            tokens,
		RefreshTokens:     refreshStore,
		Users:             userStore,
		ProviderTokens:    providerTokens,
		Providers:         providers,
		Permissions:       checker,
		Roles:             roles,
		Emitter:           emitter,
		DefaultSystemRole: cfg.RBAC.DefaultSystemRole,
		ProviderTimeout:   cfg.Token.ProviderTimeout,
		Logger:            logger,
		Metrics:           metrics,
	})

	if bus != nil {
		consumer := events.NewJiraSyncConsumer(userStore, roles, events.JiraSyncConfig{
			DefaultSystemRole:  cfg.RBAC.DefaultSystemRole,
			DefaultProjectRole: cfg.RBAC.DefaultProjectRole,
		}, emitter, logger)
		if err := consumer.Start(ctx, bus); err != nil {
			return err
		}
	}

	// Rate limits are shared across replicas when redis is available
	rateCfg := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Server.AuthRateLimit,
		WindowDuration:    cfg.Server.AuthRateWindow,
		BurstSize:         middleware.AuthRateLimitConfig().BurstSize,
	}
	var limiter middleware.Limiter
	if rdb != nil {
		limiter = middleware.NewDistributedRateLimiter(rdb, rateCfg, "zodc:ratelimit")
	} else {
		memLimiter := middleware.NewRateLimiter(rateCfg, nil)
		memLimiter.StartCleanup(ctx)
		limiter = memLimiter
	}

	var healthRedis redis.UniversalClient
	if rdb != nil {
		healthRedis = rdb
	}
	server := api.NewServer(api.ServerDeps{
		Auth:           authService,
		ProviderTokens: providerTokens,
		Users:          userStore,
		Verifier:       tokens,
		RoleService:    roles,
		Checker:        checker,
		RateLimiter:    limiter,
		RateLimit:      rateCfg,
		Health:         observability.NewHealthChecker(db, healthRedis, version),
		Metrics:        metrics,
		Gatherer:       registry,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Logger:         logger,
	})

	scheduler := cron.New(cron.WithLogger(cron.PrintfLogger(logger)))
	if _, err := scheduler.AddFunc(cfg.Jobs.TokenGCSchedule, func() {
		async.SafeGo(ctx, backgroundTimeout, logger, "refresh token gc", func(ctx context.Context) error {
			removed, err := refreshStore.DeleteExpired(ctx, time.Now())
			if err == nil {
				logger.WithField("removed", removed).Info("Expired refresh tokens removed")
			}
			return err
		})
	}); err != nil {
		return err
	}
	scheduler.Start()

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(server, "zodc-auth"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{"addr": httpServer.Addr, "version": version}).Info("Starting auth service")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}
	<-scheduler.Stop().Done()
	if err := runner.Wait(cfg.Server.ShutdownTimeout); err != nil {
		logger.WithError(err).Warn("Pending events dropped")
	}
	if err := observability.ShutdownOTel(shutdownCtx, otelProviders, logger); err != nil {
		logger.WithError(err).Warn("OpenTelemetry shutdown failed")
	}
	return nil
}

// ssoProviders builds the enabled identity providers
func ssoProviders(ctx context.Context, cfg config.SSOConfig) ([]sso.Provider, error) {
	var providers []sso.Provider
	if cfg.Microsoft.Enabled {
		p, err := sso.NewMicrosoftProvider(ctx, sso.MicrosoftConfig{
			TenantID:     cfg.Microsoft.TenantID,
			ClientID:     cfg.Microsoft.ClientID,
			ClientSecret: cfg.Microsoft.ClientSecret,
			RedirectURL:  cfg.Microsoft.RedirectURL,
			Scopes:       cfg.Microsoft.Scopes,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if cfg.Jira.Enabled {
		p, err := sso.NewJiraProvider(sso.JiraConfig{
			ClientID:     cfg.Jira.ClientID,
			ClientSecret: cfg.Jira.ClientSecret,
			RedirectURL:  cfg.Jira.RedirectURL,
			Scopes:       cfg.Jira.Scopes,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}
