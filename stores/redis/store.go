// Package redis stores OTP challenges and OAuth state in Redis, so every
// instance behind a load balancer sees the same entries and Redis expires
// them on its own.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	ra "github.com/panyam/recipeauth"
)

// DefaultKeyPrefix namespaces keys written by Store
const DefaultKeyPrefix = "recipeauth:"

// ConnectConfig controls Connect
type ConnectConfig struct {
	URL            string
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
}

// Connect parses cfg.URL and pings the server until it answers or the
// attempts run out.
func Connect(ctx context.Context, cfg ConnectConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis: empty connection URL")
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parsing connection URL: %w", err)
	}

	var lastErr error
	for attempt := range cfg.RetryAttempts {
		client := redis.NewClient(opts)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
		_ = client.Close()

		if attempt == cfg.RetryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("redis: not ready: %w", ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, fmt.Errorf("redis: not ready: %w", lastErr)
}

// Store implements ra.EphemeralStore with SET EX / GET / DEL / GETDEL.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// NewStore wraps client. An empty prefix uses DefaultKeyPrefix.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", ra.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ra.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: redis get: %v", ra.ErrStorageUnavailable, err)
	}
	return value, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: redis del: %v", ra.ErrStorageUnavailable, err)
	}
	return nil
}

// Take uses GETDEL so only one caller sees the value.
func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.GetDel(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ra.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: redis getdel: %v", ra.ErrStorageUnavailable, err)
	}
	return value, nil
}

// Ping checks the connection for /healthz
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
