//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	ra "github.com/panyam/recipeauth"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "recipeauth.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

func TestIdentityStore_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := NewIdentityStore(setupTestDB(t))

	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	user := &ra.UserIdentity{
		Username:  "jane",
		Email:     "jane@example.com",
		Role:      ra.RoleStandard,
		AvatarURL: "https://api.dicebear.com/6.x/pixel-art/svg?seed=jane",
		CreatedAt: created,
	}
	require.NoError(t, store.CreateUser(ctx, user))
	assert.NotZero(t, user.ID)

	byID, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane", byID.Username)
	assert.Equal(t, "", byID.Phone)
	assert.True(t, created.Equal(byID.CreatedAt))

	byEmail, err := store.GetUserByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	_, err = store.GetUserByPhone(ctx, "+15550001111")
	assert.ErrorIs(t, err, ra.ErrUserNotFound)

	exists, err := store.UsernameExists(ctx, "Jane")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestIdentityStore_AccountsWithoutEmailDoNotCollide(t *testing.T) {
	ctx := context.Background()
	store := NewIdentityStore(setupTestDB(t))

	require.NoError(t, store.CreateUser(ctx, &ra.UserIdentity{Username: "user", Phone: "+15550000001", Role: ra.RoleStandard}))
	require.NoError(t, store.CreateUser(ctx, &ra.UserIdentity{Username: "user_ab12", Phone: "+15550000002", Role: ra.RoleStandard}))
}

func TestIdentityStore_Conflicts(t *testing.T) {
	ctx := context.Background()
	store := NewIdentityStore(setupTestDB(t))
	require.NoError(t, store.CreateUser(ctx, &ra.UserIdentity{Username: "jane", Email: "jane@example.com", Role: ra.RoleStandard}))

	err := store.CreateUser(ctx, &ra.UserIdentity{Username: "other", Email: "jane@example.com", Role: ra.RoleStandard})
	assert.ErrorIs(t, err, ra.ErrDuplicateUser)

	err = store.CreateUser(ctx, &ra.UserIdentity{Username: "jane", Email: "new@example.com", Role: ra.RoleStandard})
	assert.ErrorIs(t, err, ra.ErrUsernameTaken)
}

func TestIdentityStore_UsernameUniqueIgnoringCase(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewIdentityStore(db)
	jane := &ra.UserIdentity{Username: "Jane", Email: "jane@example.com", Role: ra.RoleStandard}
	require.NoError(t, store.CreateUser(ctx, jane))

	err := store.CreateUser(ctx, &ra.UserIdentity{Username: "jane", Email: "other@example.com", Role: ra.RoleStandard})
	assert.ErrorIs(t, err, ra.ErrUsernameTaken)

	// the index holds even when the existence check is skipped
	err = db.WithContext(ctx).Create(UserToModel(&ra.UserIdentity{Username: "JANE", Email: "third@example.com", Role: ra.RoleStandard})).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	sam := &ra.UserIdentity{Username: "sam", Email: "sam@example.com", Role: ra.RoleStandard}
	require.NoError(t, store.CreateUser(ctx, sam))
	sam.Username = "JANE"
	assert.ErrorIs(t, store.SaveUser(ctx, sam), ra.ErrUsernameTaken)

	got, err := store.GetUserByID(ctx, jane.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane", got.Username, "display casing is kept")
}

func TestIdentityStore_SaveUser(t *testing.T) {
	ctx := context.Background()
	store := NewIdentityStore(setupTestDB(t))
	user := &ra.UserIdentity{Username: "jane", Email: "jane@example.com", Role: ra.RoleStandard}
	require.NoError(t, store.CreateUser(ctx, user))

	user.AvatarURL = "https://cdn.example.com/jane.png"
	require.NoError(t, store.SaveUser(ctx, user))

	got, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/jane.png", got.AvatarURL)

	err = store.SaveUser(ctx, &ra.UserIdentity{ID: 4242, Username: "ghost"})
	assert.ErrorIs(t, err, ra.ErrUserNotFound)

	assert.NoError(t, store.Ping(ctx))
}

func TestEphemeralStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewEphemeralStore(setupTestDB(t))
	store.Now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, "otp_x", []byte("one"), 5*time.Minute))
	require.NoError(t, store.Put(ctx, "otp_x", []byte("two"), 5*time.Minute))

	got, err := store.Get(ctx, "otp_x")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	now = now.Add(5 * time.Minute)
	_, err = store.Get(ctx, "otp_x")
	assert.ErrorIs(t, err, ra.ErrNotFound)

	require.NoError(t, store.Put(ctx, "oauth_state_y", []byte("s"), time.Minute))
	require.NoError(t, store.Delete(ctx, "oauth_state_y"))
	_, err = store.Get(ctx, "oauth_state_y")
	assert.ErrorIs(t, err, ra.ErrNotFound)
	require.NoError(t, store.Delete(ctx, "oauth_state_y"))
}

func TestEphemeralStore_Take(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewEphemeralStore(setupTestDB(t))
	store.Now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, "otp_x", []byte("123456"), 5*time.Minute))
	got, err := store.Take(ctx, "otp_x")
	require.NoError(t, err)
	assert.Equal(t, "123456", string(got))

	_, err = store.Take(ctx, "otp_x")
	assert.ErrorIs(t, err, ra.ErrNotFound, "a taken entry is gone")

	require.NoError(t, store.Put(ctx, "oauth_state_y", []byte("s"), time.Minute))
	now = now.Add(time.Minute)
	_, err = store.Take(ctx, "oauth_state_y")
	assert.ErrorIs(t, err, ra.ErrNotFound)
	_, err = store.Get(ctx, "oauth_state_y")
	assert.ErrorIs(t, err, ra.ErrNotFound)
}

func TestEphemeralStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewEphemeralStore(setupTestDB(t))
	store.Now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, "short", []byte("a"), time.Minute))
	require.NoError(t, store.Put(ctx, "long", []byte("b"), time.Hour))

	now = now.Add(2 * time.Minute)
	n, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(ctx, "long")
	assert.NoError(t, err)
}
