//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	ra "github.com/panyam/recipeauth"
)

// AutoMigrate runs database migrations for all recipeauth tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&EphemeralEntryModel{},
	)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ra.ErrStorageUnavailable, op, err)
}

// =============================================================================
// IdentityStore
// =============================================================================

// IdentityStore implements ra.IdentityStore using GORM
type IdentityStore struct {
	db *gorm.DB
}

func NewIdentityStore(db *gorm.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) first(ctx context.Context, query string, arg any) (*ra.UserIdentity, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ra.ErrUserNotFound
		}
		return nil, unavailable("loading user", err)
	}
	return model.ToUser(), nil
}

func (s *IdentityStore) GetUserByID(ctx context.Context, id int64) (*ra.UserIdentity, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *IdentityStore) GetUserByEmail(ctx context.Context, email string) (*ra.UserIdentity, error) {
	if email == "" {
		return nil, ra.ErrUserNotFound
	}
	return s.first(ctx, "email = ?", email)
}

func (s *IdentityStore) GetUserByPhone(ctx context.Context, phone string) (*ra.UserIdentity, error) {
	if phone == "" {
		return nil, ra.ErrUserNotFound
	}
	return s.first(ctx, "phone = ?", phone)
}

func (s *IdentityStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&UserModel{}).Where("username_key = ?", strings.ToLower(username)).Count(&count).Error
	if err != nil {
		return false, unavailable("checking username", err)
	}
	return count > 0, nil
}

func (s *IdentityStore) CreateUser(ctx context.Context, user *ra.UserIdentity) error {
	if err := s.checkConflicts(ctx, user); err != nil {
		return err
	}
	model := UserToModel(user)
	model.ID = 0
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost a race; report which constraint fired
			if cerr := s.checkConflicts(ctx, user); cerr != nil {
				return cerr
			}
			return ra.ErrDuplicateUser
		}
		return unavailable("creating user", err)
	}
	user.ID = model.ID
	return nil
}

func (s *IdentityStore) checkConflicts(ctx context.Context, user *ra.UserIdentity) error {
	for _, lookup := range []func() (*ra.UserIdentity, error){
		func() (*ra.UserIdentity, error) { return s.GetUserByEmail(ctx, user.Email) },
		func() (*ra.UserIdentity, error) { return s.GetUserByPhone(ctx, user.Phone) },
	} {
		_, err := lookup()
		if err == nil {
			return ra.ErrDuplicateUser
		} else if !errors.Is(err, ra.ErrUserNotFound) {
			return err
		}
	}
	taken, err := s.UsernameExists(ctx, user.Username)
	if err != nil {
		return err
	}
	if taken {
		return ra.ErrUsernameTaken
	}
	return nil
}

func (s *IdentityStore) SaveUser(ctx context.Context, user *ra.UserIdentity) error {
	model := UserToModel(user)
	result := s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", user.ID).
		Select("username", "username_key", "email", "phone", "display_name", "role", "avatar_url", "password_hash").
		Updates(model)
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		if taken, err := s.usernameTakenByOther(ctx, user); err != nil {
			return err
		} else if taken {
			return ra.ErrUsernameTaken
		}
		return ra.ErrDuplicateUser
	}
	if result.Error != nil {
		return unavailable("saving user", result.Error)
	}
	if result.RowsAffected == 0 {
		return ra.ErrUserNotFound
	}
	return nil
}

func (s *IdentityStore) usernameTakenByOther(ctx context.Context, user *ra.UserIdentity) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("username_key = ? AND id <> ?", strings.ToLower(user.Username), user.ID).Count(&count).Error
	if err != nil {
		return false, unavailable("checking username", err)
	}
	return count > 0, nil
}

// Ping checks the database connection for /healthz
func (s *IdentityStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// =============================================================================
// EphemeralStore
// =============================================================================

// EphemeralStore implements ra.EphemeralStore using GORM. Expired rows are
// ignored on read and removed lazily.
type EphemeralStore struct {
	db *gorm.DB

	// Now is the clock used for expiry
	Now func() time.Time
}

func NewEphemeralStore(db *gorm.DB) *EphemeralStore {
	return &EphemeralStore{db: db}
}

func (s *EphemeralStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *EphemeralStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	model := &EphemeralEntryModel{Key: key, Value: value, ExpiresAt: s.now().Add(ttl).UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(model).Error
	if err != nil {
		return unavailable("writing ephemeral entry", err)
	}
	return nil
}

func (s *EphemeralStore) Get(ctx context.Context, key string) ([]byte, error) {
	var model EphemeralEntryModel
	err := s.db.WithContext(ctx).First(&model, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ra.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("reading ephemeral entry", err)
	}
	if !s.now().Before(model.ExpiresAt) {
		s.db.WithContext(ctx).Delete(&EphemeralEntryModel{}, "key = ?", key)
		return nil, ra.ErrNotFound
	}
	return model.Value, nil
}

func (s *EphemeralStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&EphemeralEntryModel{}, "key = ?", key).Error; err != nil {
		return unavailable("deleting ephemeral entry", err)
	}
	return nil
}

// Take deletes the row with RETURNING, so the database decides which of
// several concurrent callers gets it.
func (s *EphemeralStore) Take(ctx context.Context, key string) ([]byte, error) {
	var rows []EphemeralEntryModel
	result := s.db.WithContext(ctx).Clauses(clause.Returning{}).Where("key = ?", key).Delete(&rows)
	if result.Error != nil {
		return nil, unavailable("taking ephemeral entry", result.Error)
	}
	if result.RowsAffected == 0 || len(rows) == 0 {
		return nil, ra.ErrNotFound
	}
	if !s.now().Before(rows[0].ExpiresAt) {
		return nil, ra.ErrNotFound
	}
	return rows[0].Value, nil
}

// DeleteExpired removes rows whose expiry has passed and returns how many were
// deleted.
func (s *EphemeralStore) DeleteExpired(ctx context.Context) (int, error) {
	result := s.db.WithContext(ctx).Where("expires_at <= ?", s.now().UTC()).Delete(&EphemeralEntryModel{})
	if result.Error != nil {
		return 0, unavailable("deleting expired entries", result.Error)
	}
	return int(result.RowsAffected), nil
}
