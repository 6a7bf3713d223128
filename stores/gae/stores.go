//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	ra "github.com/panyam/recipeauth"
)

// Kind constants for Datastore entities
const (
	KindUser                = "User"
	KindUsernameReservation = "UsernameReservation"
	KindEmailReservation    = "EmailReservation"
	KindPhoneReservation    = "PhoneReservation"
	KindEphemeral           = "EphemeralEntry"

	// Datastore rejects larger batch writes
	maxBatchSize = 500
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ra.ErrStorageUnavailable, op, err)
}

// ping runs a keys-only query for at most one entity of kind
func ping(ctx context.Context, client *datastore.Client, namespace, kind string) error {
	query := datastore.NewQuery(kind).KeysOnly().Limit(1)
	if namespace != "" {
		query = query.Namespace(namespace)
	}
	if _, err := client.GetAll(ctx, query, nil); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// ============================================================================
// IdentityStore
// ============================================================================

// IdentityStore implements ra.IdentityStore using Google Cloud Datastore
type IdentityStore struct {
	client    *datastore.Client
	namespace string
}

// NewIdentityStore creates a new Datastore-backed IdentityStore
func NewIdentityStore(client *datastore.Client, namespace string) *IdentityStore {
	return &IdentityStore{client: client, namespace: namespace}
}

func (s *IdentityStore) userKey(id int64) *datastore.Key {
	key := datastore.IDKey(KindUser, id, nil)
	key.Namespace = s.namespace
	return key
}

func (s *IdentityStore) reservationKey(kind, value string) *datastore.Key {
	key := datastore.NameKey(kind, strings.ToLower(value), nil)
	key.Namespace = s.namespace
	return key
}

func (s *IdentityStore) GetUserByID(ctx context.Context, id int64) (*ra.UserIdentity, error) {
	var entity UserEntity
	if err := s.client.Get(ctx, s.userKey(id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ra.ErrUserNotFound
		}
		return nil, unavailable("loading user", err)
	}
	return entity.ToUser(), nil
}

func (s *IdentityStore) GetUserByEmail(ctx context.Context, email string) (*ra.UserIdentity, error) {
	return s.findBy(ctx, "email", email)
}

func (s *IdentityStore) GetUserByPhone(ctx context.Context, phone string) (*ra.UserIdentity, error) {
	return s.findBy(ctx, "phone", phone)
}

func (s *IdentityStore) findBy(ctx context.Context, field, value string) (*ra.UserIdentity, error) {
	if value == "" {
		return nil, ra.ErrUserNotFound
	}
	query := datastore.NewQuery(KindUser).FilterField(field, "=", value).Limit(1)
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	it := s.client.Run(ctx, query)
	var entity UserEntity
	_, err := it.Next(&entity)
	if errors.Is(err, iterator.Done) {
		return nil, ra.ErrUserNotFound
	}
	if err != nil {
		return nil, unavailable("querying users", err)
	}
	return entity.ToUser(), nil
}

func (s *IdentityStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	var r ReservationEntity
	err := s.client.Get(ctx, s.reservationKey(KindUsernameReservation, username), &r)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("checking username", err)
	}
	return true, nil
}

type reservation struct {
	kind     string
	value    string
	conflict error
}

func reservationsFor(u *ra.UserIdentity) []reservation {
	out := []reservation{{KindUsernameReservation, u.Username, ra.ErrUsernameTaken}}
	if u.Email != "" {
		out = append(out, reservation{KindEmailReservation, u.Email, ra.ErrDuplicateUser})
	}
	if u.Phone != "" {
		out = append(out, reservation{KindPhoneReservation, u.Phone, ra.ErrDuplicateUser})
	}
	return out
}

// reserve claims r for userID inside tx. Claims already held by userID are kept.
func (s *IdentityStore) reserve(tx *datastore.Transaction, r reservation, userID int64) error {
	key := s.reservationKey(r.kind, r.value)
	var existing ReservationEntity
	err := tx.Get(key, &existing)
	switch {
	case err == nil && existing.UserID == userID:
		return nil
	case err == nil:
		return r.conflict
	case !errors.Is(err, datastore.ErrNoSuchEntity):
		return err
	}
	_, err = tx.Put(key, &ReservationEntity{UserID: userID, CreatedAt: time.Now()})
	return err
}

func (s *IdentityStore) CreateUser(ctx context.Context, user *ra.UserIdentity) error {
	incomplete := datastore.IncompleteKey(KindUser, nil)
	incomplete.Namespace = s.namespace
	keys, err := s.client.AllocateIDs(ctx, []*datastore.Key{incomplete})
	if err != nil {
		return unavailable("allocating user id", err)
	}
	key := keys[0]

	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		for _, r := range reservationsFor(user) {
			if err := s.reserve(tx, r, key.ID); err != nil {
				return err
			}
		}
		_, err := tx.Put(key, UserToEntity(user, key))
		return err
	})
	if err != nil {
		if errors.Is(err, ra.ErrUsernameTaken) || errors.Is(err, ra.ErrDuplicateUser) {
			return err
		}
		return unavailable("creating user", err)
	}
	user.ID = key.ID
	return nil
}

func (s *IdentityStore) SaveUser(ctx context.Context, user *ra.UserIdentity) error {
	key := s.userKey(user.ID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing UserEntity
		if err := tx.Get(key, &existing); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ra.ErrUserNotFound
			}
			return err
		}
		for _, r := range reservationsFor(user) {
			if err := s.reserve(tx, r, user.ID); err != nil {
				return err
			}
		}
		// Release values the account no longer uses
		for _, old := range reservationsFor(existing.ToUser()) {
			still := false
			for _, r := range reservationsFor(user) {
				if r.kind == old.kind && strings.EqualFold(r.value, old.value) {
					still = true
				}
			}
			if !still {
				if err := tx.Delete(s.reservationKey(old.kind, old.value)); err != nil {
					return err
				}
			}
		}
		_, err := tx.Put(key, UserToEntity(user, key))
		return err
	})
	if err != nil {
		if errors.Is(err, ra.ErrUserNotFound) || errors.Is(err, ra.ErrUsernameTaken) || errors.Is(err, ra.ErrDuplicateUser) {
			return err
		}
		return unavailable("saving user", err)
	}
	return nil
}

// Ping checks Datastore is reachable for /healthz
func (s *IdentityStore) Ping(ctx context.Context) error {
	return ping(ctx, s.client, s.namespace, KindUser)
}

// ============================================================================
// EphemeralStore
// ============================================================================

// EphemeralStore implements ra.EphemeralStore using Google Cloud Datastore.
// Expired entities are ignored on read and deleted lazily.
type EphemeralStore struct {
	client    *datastore.Client
	namespace string

	// Now is the clock used for expiry
	Now func() time.Time
}

func NewEphemeralStore(client *datastore.Client, namespace string) *EphemeralStore {
	return &EphemeralStore{client: client, namespace: namespace}
}

func (s *EphemeralStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *EphemeralStore) namespacedKey(name string) *datastore.Key {
	key := datastore.NameKey(KindEphemeral, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *EphemeralStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entity := &EphemeralEntity{Value: value, ExpiresAt: s.now().Add(ttl)}
	if _, err := s.client.Put(ctx, s.namespacedKey(key), entity); err != nil {
		return unavailable("writing ephemeral entry", err)
	}
	return nil
}

func (s *EphemeralStore) Get(ctx context.Context, key string) ([]byte, error) {
	var entity EphemeralEntity
	dsKey := s.namespacedKey(key)
	if err := s.client.Get(ctx, dsKey, &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ra.ErrNotFound
		}
		return nil, unavailable("reading ephemeral entry", err)
	}
	if !s.now().Before(entity.ExpiresAt) {
		_ = s.client.Delete(ctx, dsKey)
		return nil, ra.ErrNotFound
	}
	return entity.Value, nil
}

func (s *EphemeralStore) Delete(ctx context.Context, key string) error {
	err := s.client.Delete(ctx, s.namespacedKey(key))
	if err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
		return unavailable("deleting ephemeral entry", err)
	}
	return nil
}

// Take reads and deletes the entity in one transaction. A concurrent Take of
// the same key makes one of the transactions fail to commit and retry, and
// the retry finds nothing.
func (s *EphemeralStore) Take(ctx context.Context, key string) ([]byte, error) {
	dsKey := s.namespacedKey(key)
	var entity EphemeralEntity
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if err := tx.Get(dsKey, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ra.ErrNotFound
			}
			return err
		}
		return tx.Delete(dsKey)
	})
	if err != nil {
		if errors.Is(err, ra.ErrNotFound) {
			return nil, ra.ErrNotFound
		}
		return nil, unavailable("taking ephemeral entry", err)
	}
	if !s.now().Before(entity.ExpiresAt) {
		return nil, ra.ErrNotFound
	}
	return entity.Value, nil
}

// Ping checks Datastore is reachable for /healthz
func (s *EphemeralStore) Ping(ctx context.Context) error {
	return ping(ctx, s.client, s.namespace, KindEphemeral)
}

// DeleteExpired removes entries whose expiry has passed and returns how many
// were deleted. Hosts may run it from a cron job to bound storage.
func (s *EphemeralStore) DeleteExpired(ctx context.Context) (int, error) {
	query := datastore.NewQuery(KindEphemeral).FilterField("expires_at", "<=", s.now()).KeysOnly()
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}
	var keys []*datastore.Key
	it := s.client.Run(ctx, query)
	for {
		key, err := it.Next(nil)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return 0, unavailable("listing expired entries", err)
		}
		keys = append(keys, key)
	}
	deleted := 0
	for start := 0; start < len(keys); start += maxBatchSize {
		end := min(start+maxBatchSize, len(keys))
		if err := s.client.DeleteMulti(ctx, keys[start:end]); err != nil {
			return deleted, unavailable("deleting expired entries", err)
		}
		deleted = end
	}
	return deleted, nil
}
