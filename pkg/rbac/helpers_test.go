package rbac

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/async"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/auth"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/cache"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/events"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/storage/sqltest"
	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/users"
)

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

// fakeVerifier maps tokens to identities. Unknown tokens are invalid.
type fakeVerifier struct {
	mu      sync.Mutex
	tokens  map[string]int64
	expired map[string]bool
	calls   int
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{tokens: make(map[string]int64), expired: make(map[string]bool)}
}

func (v *fakeVerifier) issue(token string, userID int64) {
	v.mu.Lock()
	v.tokens[token] = userID
	v.mu.Unlock()
}

func (v *fakeVerifier) expire(token string) {
	v.mu.Lock()
	v.expired[token] = true
	v.mu.Unlock()
}

func (v *fakeVerifier) VerifyToken(_ context.Context, token string) (*auth.Identity, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.expired[token] {
		return nil, auth.ErrTokenExpired
	}
	userID, ok := v.tokens[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Identity{UserID: userID, Email: "user@example.com"}, nil
}

func (v *fakeVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ events.Event) error {
	p.mu.Lock()
	p.subjects = append(p.subjects, subject)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...)
}

type fixture struct {
	db        *sql.DB
	clock     *fakeClock
	store     *Store
	users     *users.Store
	cache     *cache.LocalCache
	verifier  *fakeVerifier
	checker   *Checker
	service   *RoleService
	publisher *recordingPublisher
	runner    *async.Runner
}

// newFixture builds a seeded database with the checker and service wired the
// way cmd/zodc-auth wires them
func newFixture(t *testing.T, cfg ServiceConfig) *fixture {
	t.Helper()
	db := sqltest.Open(t)
	logger := sqltest.Discard()
	clock := newFakeClock()

	local, err := cache.NewLocalCache(256, clock.Now)
	require.NoError(t, err)

	f := &fixture{
		db:        db,
		clock:     clock,
		store:     NewStore(db),
		users:     users.NewStore(db),
		cache:     local,
		verifier:  newFakeVerifier(),
		publisher: &recordingPublisher{},
		runner:    async.NewRunner(logger, time.Second),
	}

	seed, err := LoadSeedFile("")
	require.NoError(t, err)
	require.NoError(t, ApplySeed(context.Background(), f.store, seed, logger))

	f.checker = NewChecker(f.store, cache.NewTiered(local, nil, logger, nil), f.verifier, 0, logger, nil)
	f.service = NewRoleService(f.store, f.users, f.checker, events.NewEmitter(f.publisher, f.runner, logger), logger, cfg)
	return f
}

// createUser inserts an active user and issues it an access token named after its email
func (f *fixture) createUser(t *testing.T, email string) *users.User {
	t.Helper()
	user := &users.User{Email: email, Name: email, IsActive: true}
	require.NoError(t, f.users.Create(context.Background(), user))
	f.verifier.issue(email, user.ID)
	return user
}

func (f *fixture) roleID(t *testing.T, name string) int64 {
	t.Helper()
	role, err := f.store.GetRoleByName(context.Background(), name)
	require.NoError(t, err)
	return role.ID
}

func (f *fixture) check(user *users.User, scope Scope, projectID *int64, perms ...string) PermissionResult {
	return f.checker.VerifyPermission(context.Background(), PermissionCheck{
		UserID:      user.ID,
		Token:       user.Email,
		Permissions: perms,
		Scope:       scope,
		ProjectID:   projectID,
	})
}

func (f *fixture) flushEvents(t *testing.T) {
	t.Helper()
	require.NoError(t, f.runner.Wait(time.Second))
}

func int64Ptr(v int64) *int64 { return &v }
