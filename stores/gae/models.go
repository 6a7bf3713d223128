//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"

	ra "github.com/panyam/recipeauth"
)

// UserEntity is the Datastore entity for accounts
type UserEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Username     string         `datastore:"username"`
	Email        string         `datastore:"email"`
	Phone        string         `datastore:"phone"`
	DisplayName  string         `datastore:"display_name,noindex"`
	Role         string         `datastore:"role"`
	AvatarURL    string         `datastore:"avatar_url,noindex"`
	PasswordHash string         `datastore:"password_hash,noindex"`
	CreatedAt    time.Time      `datastore:"created_at"`
	UpdatedAt    time.Time      `datastore:"updated_at"`
}

func (e *UserEntity) ToUser() *ra.UserIdentity {
	return &ra.UserIdentity{
		ID:           e.Key.ID,
		Username:     e.Username,
		Email:        e.Email,
		Phone:        e.Phone,
		DisplayName:  e.DisplayName,
		Role:         e.Role,
		AvatarURL:    e.AvatarURL,
		PasswordHash: e.PasswordHash,
		CreatedAt:    e.CreatedAt,
	}
}

func UserToEntity(u *ra.UserIdentity, key *datastore.Key) *UserEntity {
	return &UserEntity{
		Key:          key,
		Username:     u.Username,
		Email:        u.Email,
		Phone:        u.Phone,
		DisplayName:  u.DisplayName,
		Role:         u.Role,
		AvatarURL:    u.AvatarURL,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    time.Now(),
	}
}

// ReservationEntity marks a username, email or phone as taken.
// Key name: the normalized value.
type ReservationEntity struct {
	UserID    int64     `datastore:"user_id"`
	CreatedAt time.Time `datastore:"created_at,noindex"`
}

// EphemeralEntity is the Datastore entity for TTL entries.
// Key name: the entry key.
type EphemeralEntity struct {
	Value     []byte    `datastore:"value,noindex"`
	ExpiresAt time.Time `datastore:"expires_at"`
}
