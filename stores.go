package recipeauth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RoleStandard is the role given to every self-provisioned account.
const RoleStandard = "standard"

// UserIdentity is a durable end-user account
type UserIdentity struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role"`
	AvatarURL   string `json:"avatar_url,omitempty"`

	// PasswordHash is a bcrypt hash of a random placeholder. It exists so the
	// account is a complete record for hosts that also support passwords; it is
	// never used to authenticate here and never sent to clients.
	PasswordHash string    `json:"password_hash,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// IdentityStore persists user accounts.
//
// Lookups return ErrUserNotFound when no account matches. Emails are stored and
// looked up in their normalized (lower case) form.
type IdentityStore interface {
	// GetUserByID retrieves a user by their numeric ID
	GetUserByID(ctx context.Context, id int64) (*UserIdentity, error)

	// GetUserByEmail retrieves the account owning a normalized email
	GetUserByEmail(ctx context.Context, email string) (*UserIdentity, error)

	// GetUserByPhone retrieves the account owning a normalized phone number
	GetUserByPhone(ctx context.Context, phone string) (*UserIdentity, error)

	// UsernameExists reports whether a username is already reserved
	UsernameExists(ctx context.Context, username string) (bool, error)

	// CreateUser assigns user.ID and persists a new account.
	// Returns ErrUsernameTaken if the username was reserved concurrently and
	// ErrDuplicateUser if the email or phone already belongs to an account.
	CreateUser(ctx context.Context, user *UserIdentity) error

	// SaveUser updates an existing account
	SaveUser(ctx context.Context, user *UserIdentity) error
}

// EphemeralStore is a key/value store whose entries disappear after a TTL.
// It holds OTP challenges and OAuth state tokens.
type EphemeralStore interface {
	// Put stores value under key, replacing any previous entry
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns ErrNotFound when the key is absent or has expired
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Take atomically returns and removes the entry. Of several concurrent
	// callers at most one gets the value; the others get ErrNotFound.
	Take(ctx context.Context, key string) ([]byte, error)
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

func putJSON(ctx context.Context, store EphemeralStore, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return store.Put(ctx, key, data, ttl)
}

func getJSON(ctx context.Context, store EphemeralStore, key string, v any) error {
	data, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	return decodeEntry(key, data, v)
}

func takeJSON(ctx context.Context, store EphemeralStore, key string, v any) error {
	data, err := store.Take(ctx, key)
	if err != nil {
		return err
	}
	return decodeEntry(key, data, v)
}

func decodeEntry(key string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		// A corrupt entry is as good as a missing one.
		return fmt.Errorf("%w: decoding %s: %v", ErrNotFound, key, err)
	}
	return nil
}
