package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/auth"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/cache"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/observability"
)

// DefaultPermissionCacheTTL bounds how long a check result may be served stale
const DefaultPermissionCacheTTL = 5 * time.Minute

const (
	permissionKeyPrefix = "perm:"
	cachedAllowed       = "1"
	cachedDenied        = "0"
)

// PermissionSource provides the permission names a user holds in a scope
type PermissionSource interface {
	GetUserPermissionNames(ctx context.Context, userID int64, scope Scope, projectID *int64) ([]string, error)
}

// TokenVerifier resolves the identity behind an access token
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*auth.Identity, error)
}

// PermissionCacheKey builds the memoization key for a check. Permissions are
// sorted so the key does not depend on request ordering.
func PermissionCacheKey(userID int64, scope Scope, projectID *int64, permissions []string) string {
	sorted := append([]string(nil), permissions...)
	sort.Strings(sorted)

	var b strings.Builder
	fmt.Fprintf(&b, "%s%d:%s", permissionKeyPrefix, userID, scope)
	if scope == ScopeProject && projectID != nil {
		fmt.Fprintf(&b, ":%d", *projectID)
	}
	b.WriteString(":")
	b.WriteString(strings.Join(sorted, ","))
	return b.String()
}

// UserPermissionPrefix is the key prefix shared by all of a user's checks
func UserPermissionPrefix(userID int64) string {
	return fmt.Sprintf("%s%d:", permissionKeyPrefix, userID)
}

// HasAll reports whether granted contains every name in required. An empty
// requirement is always satisfied.
func HasAll(granted, required []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		set[g] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

// Checker answers permission checks, cache first
type Checker struct {
	source   PermissionSource
	cache    cache.Cache
	verifier TokenVerifier
	ttl      time.Duration
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
	tracer   trace.Tracer
}

// NewChecker creates a permission checker. ttl <= 0 selects
// DefaultPermissionCacheTTL.
func NewChecker(source PermissionSource, c cache.Cache, verifier TokenVerifier, ttl time.Duration, logger logrus.FieldLogger, metrics *observability.Metrics) *Checker {
	if ttl <= 0 {
		ttl = DefaultPermissionCacheTTL
	}
	if logger == nil {
		logger = logrus.New()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &Checker{
		source:   source,
		cache:    c,
		verifier: verifier,
		ttl:      ttl,
		logger:   logger.WithField("component", "rbac_checker"),
		metrics:  metrics,
		tracer:   otel.Tracer("github.com/zODC-Dev/zodc-service-auth-sub000/pkg/rbac"),
	}
}

// VerifyPermission reports whether the user holds every requested permission
// in the scope. It never returns an error; failures come back as
// Allowed=false with a message.
func (c *Checker) VerifyPermission(ctx context.Context, check PermissionCheck) PermissionResult {
	ctx, span := c.tracer.Start(ctx, "rbac.VerifyPermission", trace.WithAttributes(
		attribute.Int64("user.id", check.UserID),
		attribute.String("rbac.scope", string(check.Scope)),
		attribute.StringSlice("rbac.permissions", check.Permissions),
	))
	defer span.End()

	start := time.Now()
	result, source := c.verify(ctx, check)

	outcome := "denied"
	switch {
	case result.Allowed:
		outcome = "allowed"
	case result.Error != "":
		outcome = "error"
	}
	c.metrics.PermissionChecksTotal.WithLabelValues(string(check.Scope), outcome).Inc()
	c.metrics.PermissionCheckDuration.WithLabelValues(string(check.Scope)).Observe(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.Bool("rbac.allowed", result.Allowed),
		attribute.String("rbac.source", source),
	)
	return result
}

func (c *Checker) verify(ctx context.Context, check PermissionCheck) (PermissionResult, string) {
	if !check.Scope.Valid() {
		return PermissionResult{Error: MsgInvalidScope}, "input"
	}
	if check.Scope == ScopeProject && check.ProjectID == nil {
		return PermissionResult{Error: MsgProjectRequired}, "input"
	}
	// Names are joined with "," in the cache key
	for _, name := range check.Permissions {
		if !ValidPermissionName(name) {
			return PermissionResult{Error: MsgInvalidPermission}, "input"
		}
	}

	key := PermissionCacheKey(check.UserID, check.Scope, check.ProjectID, check.Permissions)

	value, err := c.cache.Get(ctx, key)
	switch {
	case err == nil && value == cachedAllowed:
		return PermissionResult{Allowed: true}, "cache"
	case err == nil && value == cachedDenied:
		return PermissionResult{Allowed: false}, "cache"
	case err != nil && !errors.Is(err, cache.ErrCacheMiss):
		c.logger.WithError(err).Debug("Permission cache read failed")
	}

	identity, err := c.verifier.VerifyToken(ctx, check.Token)
	if errors.Is(err, auth.ErrTokenExpired) {
		return PermissionResult{Error: MsgTokenExpired}, "token"
	}
	if err != nil || identity.UserID != check.UserID {
		return PermissionResult{Error: MsgInvalidToken}, "token"
	}

	granted, err := c.source.GetUserPermissionNames(ctx, check.UserID, check.Scope, check.ProjectID)
	if err != nil {
		c.logger.WithError(err).WithField("user_id", check.UserID).Error("Failed to load user permissions")
		return PermissionResult{Error: MsgCheckFailed}, "store"
	}

	allowed := HasAll(granted, check.Permissions)

	cached := cachedDenied
	if allowed {
		cached = cachedAllowed
	}
	if err := c.cache.Set(ctx, key, cached, c.ttl); err != nil {
		c.logger.WithError(err).Warn("Failed to cache permission check")
	}

	return PermissionResult{Allowed: allowed}, "store"
}

// GetUserPermissions returns the permission names the user holds in scope,
// bypassing the cache.
func (c *Checker) GetUserPermissions(ctx context.Context, userID int64, scope Scope, projectID *int64) ([]string, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("unknown scope %q", scope)
	}
	names, err := c.source.GetUserPermissionNames(ctx, userID, scope, projectID)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// InvalidateUser drops every cached check for one user
func (c *Checker) InvalidateUser(ctx context.Context, userID int64) error {
	c.metrics.CacheInvalidationsTotal.WithLabelValues("user").Inc()
	if err := c.cache.DeletePrefix(ctx, UserPermissionPrefix(userID)); err != nil {
		return fmt.Errorf("failed to invalidate permissions for user %d: %w", userID, err)
	}
	return nil
}

// InvalidateAll drops every cached check. Used when a role's permission set
// changes, since any number of users may hold it.
func (c *Checker) InvalidateAll(ctx context.Context) error {
	c.metrics.CacheInvalidationsTotal.WithLabelValues("role").Inc()
	if err := c.cache.DeletePrefix(ctx, permissionKeyPrefix); err != nil {
		return fmt.Errorf("failed to invalidate permission cache: %w", err)
	}
	return nil
}
