// Package memory provides an in-process EphemeralStore. Entries are lost on
// restart and are not shared between processes, so it suits development,
// tests and single instance deployments.
package memory

import (
	"context"
	"sync"
	"time"

	ra "github.com/panyam/recipeauth"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store implements ra.EphemeralStore with a mutex guarded map. Expired entries
// are dropped when they are next read.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry

	// Now is the clock used for expiry. Defaults to time.Now.
	Now func() time.Time
}

func NewStore() *Store {
	return &Store{entries: make(map[string]entry)}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = make(map[string]entry)
	}
	s.entries[key] = entry{value: append([]byte(nil), value...), expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, ra.ErrNotFound
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, ra.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, ra.ErrNotFound
	}
	delete(s.entries, key)
	if !s.now().Before(e.expiresAt) {
		return nil, ra.ErrNotFound
	}
	return e.value, nil
}

// Len returns the number of stored entries, expired ones included
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
