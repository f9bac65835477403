package auth

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/async"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/cache"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/events"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/sso"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/storage/sqltest"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/users"
)

const testSecret = "test-secret-that-is-at-least-32-bytes!!"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event events.Event) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingInvalidator struct {
	mu    sync.Mutex
	users []int64
}

func (r *recordingInvalidator) InvalidateUser(_ context.Context, userID int64) error {
	r.mu.Lock()
	r.users = append(r.users, userID)
	r.mu.Unlock()
	return nil
}

// storeRoleAssigner writes the role id straight to the user row
type storeRoleAssigner struct {
	users  *users.Store
	roleID int64
	calls  []string
}

func (a *storeRoleAssigner) AssignSystemRole(ctx context.Context, userID int64, roleName string) error {
	a.calls = append(a.calls, roleName)
	return a.users.SetSystemRole(ctx, userID, a.roleID)
}

type fakeProvider struct {
	name        sso.ProviderName
	identity    *sso.ExternalIdentity
	token       *oauth2.Token
	exchangeErr error
	// blockExchange holds Exchange until its context is done
	blockExchange bool

	mu           sync.Mutex
	refreshCalls int
	refreshFn    func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

func (p *fakeProvider) Name() sso.ProviderName { return p.name }

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*sso.ExternalIdentity, *oauth2.Token, error) {
	if p.blockExchange {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	if p.exchangeErr != nil {
		return nil, nil, p.exchangeErr
	}
	return p.identity, p.token, nil
}

func (p *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	p.mu.Lock()
	p.refreshCalls++
	p.mu.Unlock()
	return p.refreshFn(ctx, refreshToken)
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

type fixture struct {
	db             *sql.DB
	clock          *fakeClock
	users          *users.Store
	refresh        *RefreshTokenStore
	tokens         *TokenService
	cache          *cache.LocalCache
	providerTokens *ProviderTokenService
	invalidator    *recordingInvalidator
	publisher      *recordingPublisher
	runner         *async.Runner
	roles          *storeRoleAssigner
	auth           *AuthService
}

func newFixture(t *testing.T, providers ...sso.Provider) *fixture {
	t.Helper()
	db := sqltest.Open(t)
	logger := sqltest.Discard()
	clock := newFakeClock()

	f := &fixture{
		db:          db,
		clock:       clock,
		users:       users.NewStore(db),
		refresh:     NewRefreshTokenStore(db),
		invalidator: &recordingInvalidator{},
		publisher:   &recordingPublisher{},
		runner:      async.NewRunner(logger, time.Second),
	}

	var err error
	f.tokens, err = NewTokenService(TokenConfig{
		Secret:          testSecret,
		Algorithm:       "HS256",
		Issuer:          "zodc-auth",
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		Now:             clock.Now,
	}, f.refresh, f.users, logger, nil)
	require.NoError(t, err)

	f.cache, err = cache.NewLocalCache(128, clock.Now)
	require.NoError(t, err)

	f.providerTokens = NewProviderTokenService(providers, f.refresh, f.cache, ProviderTokenConfig{
		Timeout:    200 * time.Millisecond,
		Margin:     time.Minute,
		RefreshTTL: 90 * 24 * time.Hour,
		Now:        clock.Now,
	}, logger, nil)

	var roleID int64
	require.NoError(t, db.QueryRow(
		"INSERT INTO roles (name, description, is_system_role, is_active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id",
		"user", "", true, true, clock.Now(), clock.Now(),
	).Scan(&roleID))
	f.roles = &storeRoleAssigner{users: f.users, roleID: roleID}

	f.auth = NewAuthService(AuthServiceDeps{
		Tokens:            f.tokens,
		RefreshTokens:     f.refresh,
		Users:             f.users,
		ProviderTokens:    f.providerTokens,
		Providers:         providers,
		Permissions:       f.invalidator,
		Roles:             f.roles,
		Emitter:           events.NewEmitter(f.publisher, f.runner, logger),
		DefaultSystemRole: "user",
		ProviderTimeout:   200 * time.Millisecond,
		Logger:            logger,
	})
	return f
}

func (f *fixture) createUser(t *testing.T, email, password string) *users.User {
	t.Helper()
	user := &users.User{Email: email, Name: "Test User", IsActive: true}
	if password != "" {
		hash, err := HashPassword(password)
		require.NoError(t, err)
		user.PasswordHash = &hash
	}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user
}

func (f *fixture) flushEvents(t *testing.T) {
	t.Helper()
	require.NoError(t, f.runner.Wait(time.Second))
}
