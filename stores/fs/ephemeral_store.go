package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	ra "github.com/panyam/recipeauth"
)

type fsEntry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EphemeralStore implements ra.EphemeralStore with one JSON file per key.
//
// # File Structure
//
//	{StoragePath}/
//	└── ephemeral/
//	    └── <sha256(key)>.json   # {"key": "otp_...", "value": "...", "expires_at": ...}
//
// Keys are hashed into file names because OAuth state tokens arrive from the
// query string. Expired files are removed when they are next read.
type EphemeralStore struct {
	StoragePath string

	// Now is the clock used for expiry
	Now func() time.Time
}

func NewEphemeralStore(storagePath string) *EphemeralStore {
	return &EphemeralStore{StoragePath: storagePath}
}

func (s *EphemeralStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *EphemeralStore) entryPath(key string) string {
	return filepath.Join(s.StoragePath, "ephemeral", hashedName(key))
}

func (s *EphemeralStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := fsEntry{Key: key, Value: value, ExpiresAt: s.now().Add(ttl)}
	if err := writeJSONFile(s.entryPath(key), entry); err != nil {
		return fmt.Errorf("%w: %v", ra.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *EphemeralStore) Get(ctx context.Context, key string) ([]byte, error) {
	path := s.entryPath(key)
	var entry fsEntry
	if err := readJSONFile(path, &entry); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ra.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ra.ErrStorageUnavailable, err)
	}
	if entry.Key != key || !s.now().Before(entry.ExpiresAt) {
		os.Remove(path)
		return nil, ra.ErrNotFound
	}
	return entry.Value, nil
}

func (s *EphemeralStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.entryPath(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ra.ErrStorageUnavailable, err)
	}
	return nil
}

// Take reads the entry and removes its file. Only the caller whose Remove
// succeeds gets the value.
func (s *EphemeralStore) Take(ctx context.Context, key string) ([]byte, error) {
	path := s.entryPath(key)
	var entry fsEntry
	if err := readJSONFile(path, &entry); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ra.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ra.ErrStorageUnavailable, err)
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ra.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ra.ErrStorageUnavailable, err)
	}
	if entry.Key != key || !s.now().Before(entry.ExpiresAt) {
		return nil, ra.ErrNotFound
	}
	return entry.Value, nil
}

// DeleteExpired removes expired entry files and returns how many were deleted.
func (s *EphemeralStore) DeleteExpired(ctx context.Context) (int, error) {
	dir := filepath.Join(s.StoragePath, "ephemeral")
	files, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("%w: %v", ra.ErrStorageUnavailable, err)
	}
	now := s.now()
	deleted := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, f.Name())
		var entry fsEntry
		if err := readJSONFile(path, &entry); err != nil {
			continue
		}
		if !now.Before(entry.ExpiresAt) && os.Remove(path) == nil {
			deleted++
		}
	}
	return deleted, nil
}
