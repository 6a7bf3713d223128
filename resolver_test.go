package recipeauth_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	ra "github.com/panyam/recipeauth"
)

func TestResolveByIdentifier_CreatesThenFinds(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	id := mustEmail(t, "Jane.Doe@example.com")

	user, created, err := env.resolver.ResolveByIdentifier(ctx, id)
	if err != nil {
		t.Fatalf("ResolveByIdentifier failed: %v", err)
	}
	if !created {
		t.Errorf("First resolution should create the account")
	}
	if user.Username != "jane.doe" {
		t.Errorf("Username = %q, want jane.doe", user.Username)
	}
	if user.Email != "jane.doe@example.com" || user.Role != ra.RoleStandard {
		t.Errorf("Unexpected account: %+v", user)
	}
	if user.AvatarURL != "https://api.dicebear.com/6.x/pixel-art/svg?seed=jane.doe" {
		t.Errorf("AvatarURL = %q", user.AvatarURL)
	}
	if !strings.HasPrefix(user.PasswordHash, "$2") {
		t.Errorf("Expected a bcrypt placeholder hash, got %q", user.PasswordHash)
	}
	if !user.CreatedAt.Equal(env.clock.Now()) {
		t.Errorf("CreatedAt = %v", user.CreatedAt)
	}

	again, created, err := env.resolver.ResolveByIdentifier(ctx, id)
	if err != nil {
		t.Fatalf("Second resolution failed: %v", err)
	}
	if created || again.ID != user.ID {
		t.Errorf("Second resolution should return the same account unchanged")
	}
}

func TestResolveByIdentifier_Phone(t *testing.T) {
	env := setupEnv(t)
	user, created, err := env.resolver.ResolveByIdentifier(context.Background(), mustPhone(t, "+1 555 123 4567"))
	if err != nil {
		t.Fatalf("ResolveByIdentifier failed: %v", err)
	}
	if !created || user.Phone != "+15551234567" || user.Email != "" {
		t.Errorf("Unexpected account: %+v", user)
	}
	if user.Username != "user" {
		t.Errorf("Phone accounts should start from the fallback username, got %q", user.Username)
	}
}

func TestResolveByIdentifier_UsernameCollision(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	first, _, err := env.resolver.ResolveByIdentifier(ctx, mustEmail(t, "sam@example.com"))
	if err != nil {
		t.Fatal(err)
	}
	second, created, err := env.resolver.ResolveByIdentifier(ctx, mustEmail(t, "sam@example.org"))
	if err != nil {
		t.Fatal(err)
	}
	if !created || second.ID == first.ID {
		t.Fatalf("Expected a second account")
	}
	if !regexp.MustCompile(`^sam_[a-z0-9]{4}$`).MatchString(second.Username) {
		t.Errorf("Colliding username should get a 4 character suffix, got %q", second.Username)
	}
}

// racingStore simulates another request winning a race inside CreateUser
type racingStore struct {
	ra.IdentityStore
	failures []error
	onFail   func()
}

func (s *racingStore) CreateUser(ctx context.Context, user *ra.UserIdentity) error {
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		if s.onFail != nil {
			s.onFail()
		}
		return err
	}
	return s.IdentityStore.CreateUser(ctx, user)
}

func TestResolveByIdentifier_LostUsernameRaceRetries(t *testing.T) {
	env := setupEnv(t)
	store := &racingStore{IdentityStore: env.users, failures: []error{ra.ErrUsernameTaken}}
	resolver := ra.NewAccountResolver(store)

	user, created, err := resolver.ResolveByIdentifier(context.Background(), mustEmail(t, "kim@example.com"))
	if err != nil {
		t.Fatalf("ResolveByIdentifier failed: %v", err)
	}
	if !created || user.ID == 0 {
		t.Errorf("Expected account to be created on retry, got %+v", user)
	}
}

func TestResolveByIdentifier_LostIdentityRaceReturnsWinner(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	var winner *ra.UserIdentity
	store := &racingStore{
		IdentityStore: env.users,
		failures:      []error{ra.ErrDuplicateUser},
		onFail: func() {
			winner = &ra.UserIdentity{Username: "kim", Email: "kim@example.com", Role: ra.RoleStandard}
			if err := env.users.CreateUser(ctx, winner); err != nil {
				t.Fatalf("CreateUser: %v", err)
			}
		},
	}
	resolver := ra.NewAccountResolver(store)

	user, created, err := resolver.ResolveByIdentifier(ctx, mustEmail(t, "kim@example.com"))
	if err != nil {
		t.Fatalf("ResolveByIdentifier failed: %v", err)
	}
	if created || user.ID != winner.ID {
		t.Errorf("Expected the concurrently created account, got %+v created=%v", user, created)
	}
}

func TestResolveByIdentifier_UsernameExhausted(t *testing.T) {
	env := setupEnv(t)
	failures := make([]error, 100)
	for i := range failures {
		failures[i] = ra.ErrUsernameTaken
	}
	resolver := ra.NewAccountResolver(&racingStore{IdentityStore: env.users, failures: failures})

	_, _, err := resolver.ResolveByIdentifier(context.Background(), mustEmail(t, "kim@example.com"))
	if !errors.Is(err, ra.ErrUsernameExhausted) {
		t.Errorf("Expected ErrUsernameExhausted, got %v", err)
	}
}

type stubSideloader struct {
	url string
	err error
}

func (s *stubSideloader) Sideload(ctx context.Context, user *ra.UserIdentity, remoteURL string) (string, error) {
	return s.url, s.err
}

func TestResolveByOAuthProfile(t *testing.T) {
	tests := []struct {
		name         string
		profile      ra.OAuthProfile
		sideloader   *stubSideloader
		wantUsername string
		wantAvatar   string
	}{
		{
			name:         "display name becomes username",
			profile:      ra.OAuthProfile{Email: "Chef@Example.com", DisplayName: "Julia Child", AvatarURL: "https://idp/p.png"},
			wantUsername: "juliachild",
			wantAvatar:   "https://idp/p.png",
		},
		{
			name:         "falls back to email local part",
			profile:      ra.OAuthProfile{Email: "chef@example.com", DisplayName: "岩田"},
			wantUsername: "chef",
			wantAvatar:   "https://api.dicebear.com/6.x/pixel-art/svg?seed=chef",
		},
		{
			name:         "sideloaded avatar replaces remote one",
			profile:      ra.OAuthProfile{Email: "chef@example.com", DisplayName: "Chef", AvatarURL: "https://idp/p.png"},
			sideloader:   &stubSideloader{url: "https://recipes.example.com/media/chef.png"},
			wantUsername: "chef",
			wantAvatar:   "https://recipes.example.com/media/chef.png",
		},
		{
			name:         "sideload failure keeps the remote avatar",
			profile:      ra.OAuthProfile{Email: "chef@example.com", DisplayName: "Chef", AvatarURL: "https://idp/p.png"},
			sideloader:   &stubSideloader{err: errors.New("timeout")},
			wantUsername: "chef",
			wantAvatar:   "https://idp/p.png",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t)
			if tt.sideloader != nil {
				env.resolver.Sideloader = tt.sideloader
			}
			user, created, err := env.resolver.ResolveByOAuthProfile(context.Background(), tt.profile)
			if err != nil {
				t.Fatalf("ResolveByOAuthProfile failed: %v", err)
			}
			if !created {
				t.Errorf("Expected account to be created")
			}
			if user.Username != tt.wantUsername {
				t.Errorf("Username = %q, want %q", user.Username, tt.wantUsername)
			}
			if user.AvatarURL != tt.wantAvatar {
				t.Errorf("AvatarURL = %q, want %q", user.AvatarURL, tt.wantAvatar)
			}
			stored, err := env.users.GetUserByID(context.Background(), user.ID)
			if err != nil || stored.AvatarURL != tt.wantAvatar {
				t.Errorf("Stored avatar = %q, %v", stored.AvatarURL, err)
			}
		})
	}
}

func TestResolveByOAuthProfile_LinksExistingOTPAccount(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	existing, _, _ := env.resolver.ResolveByIdentifier(ctx, mustEmail(t, "chef@example.com"))

	user, created, err := env.resolver.ResolveByOAuthProfile(ctx, ra.OAuthProfile{Email: "CHEF@example.com", DisplayName: "Someone Else"})
	if err != nil {
		t.Fatal(err)
	}
	if created || user.ID != existing.ID || user.Username != existing.Username {
		t.Errorf("Expected the existing account unchanged, got %+v", user)
	}
}

func TestResolveByOAuthProfile_MissingEmail(t *testing.T) {
	env := setupEnv(t)
	_, _, err := env.resolver.ResolveByOAuthProfile(context.Background(), ra.OAuthProfile{DisplayName: "No Email"})
	if !errors.Is(err, ra.ErrMissingEmail) {
		t.Errorf("Expected ErrMissingEmail, got %v", err)
	}
}

func TestSanitizeUsername(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Jane.Doe", "jane.doe"},
		{"Julia Child", "juliachild"},
		{"  __weird--", "weird"},
		{"élan", "lan"},
		{"岩田", ""},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		if got := ra.SanitizeUsername(tt.in); got != tt.want {
			t.Errorf("SanitizeUsername(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
