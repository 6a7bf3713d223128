//go:build !wasm
// +build !wasm

package gorm

import (
	"strings"
	"time"

	ra "github.com/panyam/recipeauth"
)

// UserModel is the GORM model for accounts. Email and Phone are nullable so the
// unique indexes ignore accounts without them. Usernames are unique ignoring
// case through UsernameKey, the lowercased username.
type UserModel struct {
	ID           int64   `gorm:"primaryKey;autoIncrement"`
	Username     string  `gorm:"size:60;not null"`
	UsernameKey  string  `gorm:"size:60;uniqueIndex;not null"`
	Email        *string `gorm:"size:255;uniqueIndex"`
	Phone        *string `gorm:"size:32;uniqueIndex"`
	DisplayName  string  `gorm:"size:255"`
	Role         string  `gorm:"size:32;not null"`
	AvatarURL    string  `gorm:"size:1024"`
	PasswordHash string  `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *ra.UserIdentity {
	return &ra.UserIdentity{
		ID:           m.ID,
		Username:     m.Username,
		Email:        deref(m.Email),
		Phone:        deref(m.Phone),
		DisplayName:  m.DisplayName,
		Role:         m.Role,
		AvatarURL:    m.AvatarURL,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

func UserToModel(u *ra.UserIdentity) *UserModel {
	return &UserModel{
		ID:           u.ID,
		Username:     u.Username,
		UsernameKey:  strings.ToLower(u.Username),
		Email:        nullable(u.Email),
		Phone:        nullable(u.Phone),
		DisplayName:  u.DisplayName,
		Role:         u.Role,
		AvatarURL:    u.AvatarURL,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

// EphemeralEntryModel is the GORM model for TTL entries
type EphemeralEntryModel struct {
	Key       string    `gorm:"primaryKey;size:191"`
	Value     []byte    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
}

func (EphemeralEntryModel) TableName() string {
	return "ephemeral_entries"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
