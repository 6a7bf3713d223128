package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	ra "github.com/panyam/recipeauth"
)

func setupFSStore(t *testing.T) (string, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "recipeauth-fs-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	return dir, func() { os.RemoveAll(dir) }
}

func TestIdentityStore_CreateAndLookup(t *testing.T) {
	dir, cleanup := setupFSStore(t)
	defer cleanup()
	ctx := context.Background()
	store := NewIdentityStore(dir)

	user := &ra.UserIdentity{Username: "jane", Email: "jane@example.com", Role: ra.RoleStandard}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.ID != 1 {
		t.Errorf("Expected first user to get id 1, got %d", user.ID)
	}

	byEmail, err := store.GetUserByEmail(ctx, "jane@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if byEmail.ID != user.ID || byEmail.Username != "jane" {
		t.Errorf("Unexpected user: %+v", byEmail)
	}

	exists, err := store.UsernameExists(ctx, "JANE")
	if err != nil || !exists {
		t.Errorf("Expected username to be reserved case-insensitively, got %v %v", exists, err)
	}

	if _, err := store.GetUserByPhone(ctx, "+15551234567"); !errors.Is(err, ra.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
	if _, err := store.GetUserByID(ctx, 99); !errors.Is(err, ra.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}

	second := &ra.UserIdentity{Username: "phoneuser", Phone: "+15551234567"}
	if err := store.CreateUser(ctx, second); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if second.ID != 2 {
		t.Errorf("Expected id 2, got %d", second.ID)
	}
	byPhone, err := store.GetUserByPhone(ctx, "+15551234567")
	if err != nil || byPhone.ID != 2 {
		t.Errorf("GetUserByPhone = %+v, %v", byPhone, err)
	}
}

func TestIdentityStore_Conflicts(t *testing.T) {
	dir, cleanup := setupFSStore(t)
	defer cleanup()
	ctx := context.Background()
	store := NewIdentityStore(dir)

	if err := store.CreateUser(ctx, &ra.UserIdentity{Username: "jane", Email: "jane@example.com"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	tests := []struct {
		name    string
		user    *ra.UserIdentity
		wantErr error
	}{
		{"same email", &ra.UserIdentity{Username: "other", Email: "jane@example.com"}, ra.ErrDuplicateUser},
		{"same username", &ra.UserIdentity{Username: "jane", Email: "new@example.com"}, ra.ErrUsernameTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.CreateUser(ctx, tt.user)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if tt.user.ID != 0 {
				t.Errorf("Failed create should not assign an id")
			}
		})
	}
}

func TestIdentityStore_ConcurrentCreatesGetDistinctIDs(t *testing.T) {
	dir, cleanup := setupFSStore(t)
	defer cleanup()
	ctx := context.Background()
	store := NewIdentityStore(dir)

	var wg sync.WaitGroup
	ids := make([]int64, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := &ra.UserIdentity{Username: "user" + string(rune('a'+i)), Email: string(rune('a'+i)) + "@example.com"}
			if err := store.CreateUser(ctx, u); err != nil {
				t.Errorf("CreateUser failed: %v", err)
			}
			ids[i] = u.ID
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Errorf("Duplicate id %d", id)
		}
		seen[id] = true
	}
}

func TestIdentityStore_SaveUserUpdatesIndexes(t *testing.T) {
	dir, cleanup := setupFSStore(t)
	defer cleanup()
	ctx := context.Background()
	store := NewIdentityStore(dir)

	user := &ra.UserIdentity{Username: "jane", Email: "jane@example.com"}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	user.AvatarURL = "https://cdn.example.com/jane.png"
	user.Email = "jane@new.example.com"
	if err := store.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}

	if _, err := store.GetUserByEmail(ctx, "jane@example.com"); !errors.Is(err, ra.ErrUserNotFound) {
		t.Errorf("Old email should no longer resolve, got %v", err)
	}
	got, err := store.GetUserByEmail(ctx, "jane@new.example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if got.AvatarURL != "https://cdn.example.com/jane.png" {
		t.Errorf("Avatar not saved: %q", got.AvatarURL)
	}

	missing := &ra.UserIdentity{ID: 77, Username: "ghost"}
	if err := store.SaveUser(ctx, missing); !errors.Is(err, ra.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestEphemeralStore(t *testing.T) {
	dir, cleanup := setupFSStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewEphemeralStore(dir)
	store.Now = func() time.Time { return now }

	if err := store.Put(ctx, "oauth_state_../../etc", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "ephemeral"))
	if len(entries) != 1 {
		t.Fatalf("Expected one entry file inside the store dir, got %d", len(entries))
	}

	got, err := store.Get(ctx, "oauth_state_../../etc")
	if err != nil || string(got) != "v1" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	now = now.Add(time.Minute)
	if _, err := store.Get(ctx, "oauth_state_../../etc"); !errors.Is(err, ra.ErrNotFound) {
		t.Errorf("Expected expired entry to be ErrNotFound, got %v", err)
	}

	if err := store.Delete(ctx, "never-written"); err != nil {
		t.Errorf("Delete of missing key should succeed, got %v", err)
	}
}

func TestEphemeralStore_TakeHasOneWinner(t *testing.T) {
	dir, cleanup := setupFSStore(t)
	defer cleanup()
	ctx := context.Background()
	store := NewEphemeralStore(dir)

	if err := store.Put(ctx, "otp_email_cook", []byte("123456"), time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := store.Take(ctx, "otp_email_cook")
			if err == nil {
				if string(value) != "123456" {
					t.Errorf("Take returned %q", value)
				}
				mu.Lock()
				won++
				mu.Unlock()
			} else if !errors.Is(err, ra.ErrNotFound) {
				t.Errorf("Losing Take should get ErrNotFound, got %v", err)
			}
		}()
	}
	wg.Wait()
	if won != 1 {
		t.Errorf("Expected exactly one Take to win, got %d", won)
	}
}

func TestEphemeralStore_DeleteExpired(t *testing.T) {
	dir, cleanup := setupFSStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewEphemeralStore(dir)
	store.Now = func() time.Time { return now }

	store.Put(ctx, "a", []byte("1"), time.Minute)
	store.Put(ctx, "b", []byte("2"), time.Hour)
	now = now.Add(time.Minute)

	n, err := store.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 deleted entry, got %d", n)
	}
	if _, err := store.Get(ctx, "b"); err != nil {
		t.Errorf("Live entry should survive, got %v", err)
	}
}
