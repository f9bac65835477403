package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/httputil"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/middleware"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/observability"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/rbac"
)

// DefaultMaxBodyBytes caps JSON request bodies
const DefaultMaxBodyBytes = 1 << 20

// ServerDeps wires a Server. Health, Metrics and Gatherer are optional.
type ServerDeps struct {
	Auth           Authenticator
	ProviderTokens ProviderTokens
	Users          UserReader
	Verifier       middleware.TokenVerifier
	RoleService    *rbac.RoleService
	Checker        *rbac.Checker
	// RateLimiter guards the unauthenticated auth endpoints
	RateLimiter middleware.Limiter
	RateLimit   *middleware.RateLimitConfig
	Health      *observability.HealthChecker
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	// MaxBodyBytes defaults to DefaultMaxBodyBytes
	MaxBodyBytes int64
	Logger       logrus.FieldLogger
}

// Server is the HTTP surface of the auth service
type Server struct {
	router       *mux.Router
	handler      http.Handler
	authHandlers *AuthHandlers
	rbacHandlers *rbac.Handlers
}

// NewServer creates the server and registers all routes
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}

	authMW := middleware.NewAuthMiddleware(deps.Verifier, false, logger)
	var rateLimit *middleware.RateLimitMiddleware
	if deps.RateLimiter != nil {
		rateLimit = middleware.NewRateLimitMiddleware(deps.RateLimiter, deps.RateLimit, logger)
	}

	s := &Server{
		router:       mux.NewRouter(),
		authHandlers: NewAuthHandlers(deps.Auth, deps.ProviderTokens, deps.Users, authMW, rateLimit, logger),
		rbacHandlers: rbac.NewHandlers(deps.RoleService, deps.Checker, logger),
	}
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}
	s.setupRoutes(authMW, deps)

	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	s.handler = httputil.Chain(
		httputil.RecoveryMiddleware(logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.MaxBytesMiddleware(maxBody),
	)(s.router)
	return s
}

func (s *Server) setupRoutes(authMW *middleware.AuthMiddleware, deps ServerDeps) {
	if deps.Health != nil {
		observability.RegisterHealthRoutes(s.router, deps.Health)
	}
	if deps.Gatherer != nil {
		observability.RegisterMetricsEndpoint(s.router, deps.Gatherer)
	}

	s.authHandlers.RegisterRoutes(s.router)

	// Every /rbac route requires a verified access token
	protected := s.router.MatcherFunc(func(r *http.Request, _ *mux.RouteMatch) bool {
		return strings.HasPrefix(r.URL.Path, "/rbac/")
	}).Subrouter()
	protected.Use(authMW.Handler)
	s.rbacHandlers.RegisterRoutes(protected)
}

// Router exposes the route table for additional registrations
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
