package users

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/storage/sqltest"
)

func strPtr(s string) *string { return &s }

func TestStore_CreateAndGet(t *testing.T) {
	store := NewStore(sqltest.Open(t))
	ctx := context.Background()

	user := &User{Email: "  Alice@Example.COM ", Name: "Alice", PasswordHash: strPtr("hash"), IsActive: true}
	require.NoError(t, store.Create(ctx, user))
	assert.NotZero(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.False(t, user.CreatedAt.IsZero())

	byID, err := store.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", byID.Name)
	assert.True(t, byID.HasPassword())
	assert.True(t, byID.IsActive)
	assert.Nil(t, byID.SystemRoleID)
	assert.Nil(t, byID.MicrosoftID)

	byEmail, err := store.GetByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	_, err = store.GetByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = store.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestStore_UniqueViolations(t *testing.T) {
	store := NewStore(sqltest.Open(t))
	ctx := context.Background()

	first := &User{Email: "dev@example.com", Name: "Dev", IsActive: true, MicrosoftID: strPtr("ms-1")}
	require.NoError(t, store.Create(ctx, first))

	err := store.Create(ctx, &User{Email: "DEV@example.com", Name: "Dup", IsActive: true})
	assert.ErrorIs(t, err, ErrEmailTaken)

	err = store.Create(ctx, &User{Email: "other@example.com", Name: "Other", IsActive: true, MicrosoftID: strPtr("ms-1")})
	assert.ErrorIs(t, err, ErrExternalIDTaken)

	second := &User{Email: "second@example.com", Name: "Second", IsActive: true}
	require.NoError(t, store.Create(ctx, second))
	assert.ErrorIs(t, store.LinkMicrosoft(ctx, second.ID, "ms-1"), ErrExternalIDTaken)
}

func TestStore_SSOLinkage(t *testing.T) {
	store := NewStore(sqltest.Open(t))
	ctx := context.Background()

	user := &User{Email: "sso@example.com", Name: "SSO", IsActive: true}
	require.NoError(t, store.Create(ctx, user))
	assert.False(t, user.HasPassword())

	require.NoError(t, store.LinkMicrosoft(ctx, user.ID, "ms-42"))
	require.NoError(t, store.LinkJira(ctx, user.ID, "jira-42"))

	byMS, err := store.GetByMicrosoftID(ctx, "ms-42")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byMS.ID)

	byJira, err := store.GetByJiraAccountID(ctx, "jira-42")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byJira.ID)
	require.NotNil(t, byJira.MicrosoftID)
	assert.Equal(t, "ms-42", *byJira.MicrosoftID)
}

func TestStore_Updates(t *testing.T) {
	store := NewStore(sqltest.Open(t))
	ctx := context.Background()

	user := &User{Email: "u@example.com", Name: "Before", IsActive: true}
	require.NoError(t, store.Create(ctx, user))

	require.NoError(t, store.UpdateProfile(ctx, user.ID, "After"))
	require.NoError(t, store.SetActive(ctx, user.ID, false))
	require.NoError(t, store.SetSystemRole(ctx, user.ID, 3))
	require.NoError(t, store.SetPasswordHash(ctx, user.ID, "new-hash"))

	got, err := store.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "After", got.Name)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.SystemRoleID)
	assert.Equal(t, int64(3), *got.SystemRoleID)
	assert.Equal(t, "new-hash", *got.PasswordHash)

	assert.ErrorIs(t, store.UpdateProfile(ctx, 404, "x"), ErrUserNotFound)
}

func TestStore_List(t *testing.T) {
	store := NewStore(sqltest.Open(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Create(ctx, &User{
			Email:    fmt.Sprintf("member%d@example.com", i),
			Name:     fmt.Sprintf("Member %d", i),
			IsActive: i%2 == 0,
		}))
	}
	require.NoError(t, store.Create(ctx, &User{Email: "boss@corp.io", Name: "The Boss", IsActive: true}))

	page, total, err := store.List(ctx, ListParams{Page: 1, PageSize: 2, Search: "MEMBER"})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 2)
	assert.Equal(t, "member0@example.com", page[0].Email)

	page, total, err = store.List(ctx, ListParams{Page: 3, PageSize: 2, Search: "member"})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 1)

	active, total, err := store.List(ctx, ListParams{OnlyActive: true})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, active, 4)
}

func TestStore_DatabaseErrorIsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(int64(1)).
		WillReturnError(errors.New("connection reset"))

	_, err = NewStore(db).GetByID(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUserNotFound)
	assert.Contains(t, err.Error(), "failed to get user")
	assert.NoError(t, mock.ExpectationsWereMet())
}
