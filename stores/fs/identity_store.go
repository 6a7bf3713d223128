package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	ra "github.com/panyam/recipeauth"
)

type fsIndexEntry struct {
	Value  string `json:"value"`
	UserID int64  `json:"user_id"`
}

type fsSequence struct {
	LastID int64 `json:"last_id"`
}

// IdentityStore implements ra.IdentityStore using JSON files.
//
// # File Structure
//
//	{StoragePath}/
//	├── users/
//	│   ├── sequence.json        # {"last_id": 42}
//	│   └── 42.json              # the account
//	├── emails/<sha256>.json     # {"value": "jane@example.com", "user_id": 42}
//	├── phones/<sha256>.json
//	└── usernames/<sha256>.json
//
// # Concurrency Model
//
// A mutex serializes writers within one process. Running several processes
// over the same directory is not supported.
type IdentityStore struct {
	StoragePath string
	mu          sync.Mutex
}

func NewIdentityStore(storagePath string) *IdentityStore {
	return &IdentityStore{StoragePath: storagePath}
}

func (s *IdentityStore) userPath(id int64) string {
	return filepath.Join(s.StoragePath, "users", strconv.FormatInt(id, 10)+".json")
}

func (s *IdentityStore) indexPath(kind, value string) string {
	return filepath.Join(s.StoragePath, kind, hashedName(strings.ToLower(value)))
}

func (s *IdentityStore) readUser(id int64) (*ra.UserIdentity, error) {
	var user ra.UserIdentity
	if err := readJSONFile(s.userPath(id), &user); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ra.ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: reading user %d: %v", ra.ErrStorageUnavailable, id, err)
	}
	return &user, nil
}

// readIndex returns the user id stored under kind/value, or 0 if none.
func (s *IdentityStore) readIndex(kind, value string) (int64, error) {
	var entry fsIndexEntry
	if err := readJSONFile(s.indexPath(kind, value), &entry); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: reading %s index: %v", ra.ErrStorageUnavailable, kind, err)
	}
	return entry.UserID, nil
}

func (s *IdentityStore) writeIndex(kind, value string, userID int64) error {
	return writeJSONFile(s.indexPath(kind, value), fsIndexEntry{Value: value, UserID: userID})
}

func (s *IdentityStore) lookup(kind, value string) (*ra.UserIdentity, error) {
	if value == "" {
		return nil, ra.ErrUserNotFound
	}
	id, err := s.readIndex(kind, value)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, ra.ErrUserNotFound
	}
	return s.readUser(id)
}

func (s *IdentityStore) GetUserByID(ctx context.Context, id int64) (*ra.UserIdentity, error) {
	return s.readUser(id)
}

func (s *IdentityStore) GetUserByEmail(ctx context.Context, email string) (*ra.UserIdentity, error) {
	return s.lookup("emails", email)
}

func (s *IdentityStore) GetUserByPhone(ctx context.Context, phone string) (*ra.UserIdentity, error) {
	return s.lookup("phones", phone)
}

func (s *IdentityStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	id, err := s.readIndex("usernames", username)
	return id != 0, err
}

func (s *IdentityStore) CreateUser(ctx context.Context, user *ra.UserIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for kind, value := range map[string]string{"emails": user.Email, "phones": user.Phone} {
		if value == "" {
			continue
		}
		if id, err := s.readIndex(kind, value); err != nil {
			return err
		} else if id != 0 {
			return ra.ErrDuplicateUser
		}
	}
	if id, err := s.readIndex("usernames", user.Username); err != nil {
		return err
	} else if id != 0 {
		return ra.ErrUsernameTaken
	}

	id, err := s.nextID()
	if err != nil {
		return err
	}
	user.ID = id
	if err := writeJSONFile(s.userPath(id), user); err != nil {
		user.ID = 0
		return fmt.Errorf("%w: writing user: %v", ra.ErrStorageUnavailable, err)
	}
	if err := s.writeIndexes(user); err != nil {
		return err
	}
	return nil
}

func (s *IdentityStore) SaveUser(ctx context.Context, user *ra.UserIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readUser(user.ID)
	if err != nil {
		return err
	}
	if err := writeJSONFile(s.userPath(user.ID), user); err != nil {
		return fmt.Errorf("%w: writing user: %v", ra.ErrStorageUnavailable, err)
	}
	// Drop index entries for contact details that changed
	for kind, old := range map[string]string{"emails": existing.Email, "phones": existing.Phone, "usernames": existing.Username} {
		current := map[string]string{"emails": user.Email, "phones": user.Phone, "usernames": user.Username}[kind]
		if old != "" && !strings.EqualFold(old, current) {
			os.Remove(s.indexPath(kind, old))
		}
	}
	return s.writeIndexes(user)
}

func (s *IdentityStore) writeIndexes(user *ra.UserIdentity) error {
	indexes := map[string]string{"usernames": user.Username, "emails": user.Email, "phones": user.Phone}
	for kind, value := range indexes {
		if value == "" {
			continue
		}
		if err := s.writeIndex(kind, value, user.ID); err != nil {
			return fmt.Errorf("%w: writing %s index: %v", ra.ErrStorageUnavailable, kind, err)
		}
	}
	return nil
}

// nextID must be called with s.mu held
func (s *IdentityStore) nextID() (int64, error) {
	path := filepath.Join(s.StoragePath, "users", "sequence.json")
	var seq fsSequence
	if err := readJSONFile(path, &seq); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: reading sequence: %v", ra.ErrStorageUnavailable, err)
	}
	seq.LastID++
	if err := writeJSONFile(path, seq); err != nil {
		return 0, fmt.Errorf("%w: writing sequence: %v", ra.ErrStorageUnavailable, err)
	}
	return seq.LastID, nil
}
