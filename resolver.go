package recipeauth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultAvatarBaseURL renders a deterministic pixel-art avatar from a seed
	DefaultAvatarBaseURL = "https://api.dicebear.com/6.x/pixel-art/svg"

	fallbackUsername  = "user"
	maxUsernameLength = 50
	usernameSuffixLen = 4
	maxUsernameTries  = 16
	usernameAlphabet  = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// OAuthProfile is what a federated login learns about the user
type OAuthProfile struct {
	Email       string
	DisplayName string
	AvatarURL   string

	// EmailVerified is true when the provider vouches for Email. Callback
	// refuses unverified addresses since accounts are linked by email.
	EmailVerified bool
}

// AvatarSideloader copies a remote avatar into the host's media storage and
// returns the local URL.
type AvatarSideloader interface {
	Sideload(ctx context.Context, user *UserIdentity, remoteURL string) (string, error)
}

// AccountResolver maps a verified identifier or OAuth profile to an account,
// creating one when none exists.
type AccountResolver struct {
	Users IdentityStore

	// Sideloader is optional
	Sideloader AvatarSideloader

	AvatarBaseURL string
	Logger        *slog.Logger
	Now           func() time.Time
}

func NewAccountResolver(users IdentityStore) *AccountResolver {
	return &AccountResolver{Users: users}
}

func (r *AccountResolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *AccountResolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// DefaultAvatarURL returns the generated avatar for a username
func (r *AccountResolver) DefaultAvatarURL(username string) string {
	base := r.AvatarBaseURL
	if base == "" {
		base = DefaultAvatarBaseURL
	}
	return base + "?seed=" + url.QueryEscape(username)
}

// ResolveByIdentifier returns the account owning id, creating one if needed.
// The bool result reports whether the account was created by this call.
func (r *AccountResolver) ResolveByIdentifier(ctx context.Context, id Identifier) (*UserIdentity, bool, error) {
	lookup := func(ctx context.Context) (*UserIdentity, error) {
		if id.Type == IdentifierPhone {
			return r.Users.GetUserByPhone(ctx, id.Value)
		}
		return r.Users.GetUserByEmail(ctx, id.Value)
	}

	existing, err := lookup(ctx)
	if err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	user := &UserIdentity{Role: RoleStandard}
	base := ""
	switch id.Type {
	case IdentifierEmail:
		user.Email = id.Value
		base = emailLocalPart(id.Value)
	case IdentifierPhone:
		user.Phone = id.Value
	default:
		return nil, false, ErrInvalidIdentifier
	}
	return r.provision(ctx, user, SanitizeUsername(base), lookup)
}

// ResolveByOAuthProfile returns the account owning the profile's email,
// creating one if needed. Existing accounts are returned unchanged.
func (r *AccountResolver) ResolveByOAuthProfile(ctx context.Context, profile OAuthProfile) (*UserIdentity, bool, error) {
	email := NormalizeEmail(profile.Email)
	if email == "" {
		return nil, false, ErrMissingEmail
	}
	lookup := func(ctx context.Context) (*UserIdentity, error) {
		return r.Users.GetUserByEmail(ctx, email)
	}

	existing, err := lookup(ctx)
	if err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	base := SanitizeUsername(profile.DisplayName)
	if base == "" {
		base = SanitizeUsername(emailLocalPart(email))
	}
	user := &UserIdentity{
		Email:       email,
		DisplayName: strings.TrimSpace(profile.DisplayName),
		Role:        RoleStandard,
		AvatarURL:   profile.AvatarURL,
	}
	user, created, err := r.provision(ctx, user, base, lookup)
	if err != nil || !created {
		return user, created, err
	}

	if r.Sideloader != nil && profile.AvatarURL != "" {
		r.sideloadAvatar(ctx, user, profile.AvatarURL)
	}
	return user, true, nil
}

func (r *AccountResolver) sideloadAvatar(ctx context.Context, user *UserIdentity, remoteURL string) {
	local, err := r.Sideloader.Sideload(ctx, user, remoteURL)
	if err != nil {
		r.logger().Warn("avatar sideload failed", "user_id", user.ID, "error", err)
		return
	}
	if local == "" || local == user.AvatarURL {
		return
	}
	previous := user.AvatarURL
	user.AvatarURL = local
	if err := r.Users.SaveUser(ctx, user); err != nil {
		r.logger().Warn("saving sideloaded avatar failed", "user_id", user.ID, "error", err)
		user.AvatarURL = previous
	}
}

// provision creates user under a fresh username derived from base. A lost
// username race retries with a new name; a lost identity race returns the
// account the other request created.
func (r *AccountResolver) provision(ctx context.Context, user *UserIdentity, base string,
	lookup func(context.Context) (*UserIdentity, error)) (*UserIdentity, bool, error) {
	hash, err := placeholderPasswordHash()
	if err != nil {
		return nil, false, err
	}
	user.PasswordHash = hash
	user.CreatedAt = r.now()
	generatedAvatar := user.AvatarURL == ""

	for attempt := 0; attempt < maxUsernameTries; attempt++ {
		username, err := r.uniqueUsername(ctx, base)
		if err != nil {
			return nil, false, err
		}
		user.Username = username
		if generatedAvatar {
			user.AvatarURL = r.DefaultAvatarURL(username)
		}

		err = r.Users.CreateUser(ctx, user)
		switch {
		case err == nil:
			r.logger().Info("account created", "user_id", user.ID, "username", user.Username)
			return user, true, nil
		case errors.Is(err, ErrUsernameTaken):
			continue
		case errors.Is(err, ErrDuplicateUser):
			existing, lerr := lookup(ctx)
			if lerr != nil {
				return nil, false, lerr
			}
			return existing, false, nil
		default:
			return nil, false, err
		}
	}
	return nil, false, ErrUsernameExhausted
}

func (r *AccountResolver) uniqueUsername(ctx context.Context, base string) (string, error) {
	if base == "" {
		base = fallbackUsername
	}
	candidate := base
	for i := 0; i < maxUsernameTries; i++ {
		taken, err := r.Users.UsernameExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		suffix, err := randomString(usernameSuffixLen, usernameAlphabet)
		if err != nil {
			return "", err
		}
		candidate = base + "_" + suffix
	}
	return "", ErrUsernameExhausted
}

// SanitizeUsername lower cases s and drops everything outside [a-z0-9._-].
// Returns "" when nothing usable is left.
func SanitizeUsername(s string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(s) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-' {
			b.WriteRune(c)
		}
	}
	out := strings.Trim(b.String(), ".-_")
	if len(out) > maxUsernameLength {
		out = out[:maxUsernameLength]
	}
	return out
}

func emailLocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

func placeholderPasswordHash() (string, error) {
	secret := make([]byte, 16)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generating placeholder password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword(secret, bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing placeholder password: %w", err)
	}
	return string(hash), nil
}

// randomString draws n characters uniformly from alphabet.
func randomString(n int, alphabet string) (string, error) {
	size := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generating random string: %w", err)
		}
		buf[i] = alphabet[idx.Int64()]
	}
	return string(buf), nil
}
