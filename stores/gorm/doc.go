//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the recipeauth store
// interfaces. It supports any database GORM supports (PostgreSQL, SQLite, ...)
// and suits deployments that already run a relational database.
//
// # Database Schema
//
// AutoMigrate creates:
//   - users: accounts, unique on username, email and phone
//   - ephemeral_entries: OTP challenges and OAuth state with an expiry column
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	gormstore.AutoMigrate(db)
//	users := gormstore.NewIdentityStore(db)
//	ephemeral := gormstore.NewEphemeralStore(db)
//
// TranslateError lets CreateUser tell a lost uniqueness race apart from other
// failures.
package gorm
